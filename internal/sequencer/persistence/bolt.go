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
	"fmt"
	"time"

	"seqgen"
	"seqgen/internal/sequencer/core"
	bolt "go.etcd.io/bbolt"
)

// BoltStore runs KVDialect batches inside bbolt read-write transactions.
// bbolt admits one writer at a time, so every batch is serialized and a
// failing batch is rolled back as a whole. Each grouping is a bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating when needed) the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	return executeKV(ctx, s, stmts)
}

// Load implements core.CounterCAS.
func (s *BoltStore) Load(ctx context.Context, key seqgen.Key) (core.CounterState, error) {
	return loadStateKV(ctx, s, key)
}

// CompareAndSwap implements core.CounterCAS.
func (s *BoltStore) CompareAndSwap(ctx context.Context, key seqgen.Key, expected core.CounterState, next int64) (bool, error) {
	return compareAndSwapKV(ctx, s, key, expected, next)
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) update(fn func(kvTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error { return fn(boltTx{tx}) })
}

type boltTx struct{ tx *bolt.Tx }

func (b boltTx) get(bucket, key string) ([]byte, bool, error) {
	bk := b.tx.Bucket([]byte(bucket))
	if bk == nil {
		return nil, false, nil
	}
	v := bk.Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	// values are only valid for the life of the transaction
	return append([]byte(nil), v...), true, nil
}

func (b boltTx) put(bucket, key string, val []byte) error {
	bk, err := b.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return err
	}
	return bk.Put([]byte(key), val)
}
