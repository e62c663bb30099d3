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

package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"seqgen"
	"seqgen/internal/sequencer/core"
)

// PebbleStore runs KVDialect batches against a pebble database. Batches are
// serialized by a mutex and applied through an indexed batch, which lets a
// statement read the writes of earlier statements before the batch commits
// atomically. Keys are "<grouping>\x00<name>".
type PebbleStore struct {
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebble opens the database in dir. An empty dir keeps everything in
// memory.
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	return executeKV(ctx, s, stmts)
}

// Load implements core.CounterCAS.
func (s *PebbleStore) Load(ctx context.Context, key seqgen.Key) (core.CounterState, error) {
	return loadStateKV(ctx, s, key)
}

// CompareAndSwap implements core.CounterCAS.
func (s *PebbleStore) CompareAndSwap(ctx context.Context, key seqgen.Key, expected core.CounterState, next int64) (bool, error) {
	return compareAndSwapKV(ctx, s, key, expected, next)
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) update(fn func(kvTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(pebbleTx{b}); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

type pebbleTx struct{ b *pebble.Batch }

func pebbleKey(bucket, key string) []byte {
	k := make([]byte, 0, len(bucket)+1+len(key))
	k = append(k, bucket...)
	k = append(k, 0)
	return append(k, key...)
}

func (p pebbleTx) get(bucket, key string) ([]byte, bool, error) {
	v, closer, err := p.b.Get(pebbleKey(bucket, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (p pebbleTx) put(bucket, key string, val []byte) error {
	return p.b.Set(pebbleKey(bucket, key), val, nil)
}
