// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"sync"

	"seqgen"
)

// Pool hands out single identifiers from blocks allocated through a
// NextValuer, fetching a new block only once the current one is used up.
// Identifiers of a block that is never exhausted are lost on shutdown; they
// are never handed out twice.
type Pool struct {
	src NextValuer
	req seqgen.Request

	mu    sync.Mutex
	next  int64
	upper int64
}

// NewPool builds a pool drawing blocks of req.Increment identifiers.
func NewPool(src NextValuer, req seqgen.Request) *Pool {
	return &Pool{src: src, req: req}
}

// Next returns the next identifier.
func (p *Pool) Next(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= p.upper {
		lower, err := p.src.NextValue(ctx, p.req)
		if err != nil {
			return 0, err
		}
		p.next, p.upper = lower, lower+p.req.Increment
	}
	v := p.next
	p.next++
	return v, nil
}

// Remaining reports how many identifiers are left in the current block.
func (p *Pool) Remaining() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upper - p.next
}
