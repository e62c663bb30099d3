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
	"time"

	"seqgen"
)

// Allocation describes one committed block.
type Allocation struct {
	Key   seqgen.Key
	Block seqgen.Block
	At    time.Time
}

// Journal receives every block after its transaction committed. Journals
// are an audit trail: a failing journal never voids an allocation.
type Journal interface {
	Record(ctx context.Context, a Allocation) error
}
