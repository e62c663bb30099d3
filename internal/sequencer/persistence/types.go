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

// Package persistence provides the storage backends the sequence service
// runs its statement batches against: Postgres, Redis and the embedded bbolt
// and pebble stores. Each backend ships a Dialect rendering the allocation
// templates in its own language and a StoreClient executing a rendered batch
// as one atomic unit. A Kafka journal for allocated blocks lives here too.
package persistence

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"seqgen/internal/sequencer/core"
)

// record is the stored form of one counter in the embedded stores. The
// record is keyed by sequence name inside its grouping and carries the
// configured key and value columns as map entries, so a grouping keeps the
// same column layout as its relational counterpart.
type record map[string]any

func decodeRecord(b []byte) (record, error) {
	var r record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func (r record) encode() ([]byte, error) {
	b, err := msgpack.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// value returns the counter held in column, reporting false when it is unset.
func (r record) value(column string) (int64, bool, error) {
	v, ok := r[column]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, err := core.AsInt64(v)
	if err != nil {
		return 0, false, fmt.Errorf("column %s: %w", column, err)
	}
	return n, true, nil
}
