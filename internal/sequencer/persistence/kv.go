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
	"strconv"
	"strings"

	"seqgen"
	"seqgen/internal/sequencer/core"
)

// constraintBucket holds one entry per installed uniqueness constraint.
const constraintBucket = "__constraints"

// KVDialect renders the allocation templates as verb commands understood by
// the embedded stores:
//
//	UNIQUE   <grouping> <column>
//	MERGE    <grouping> <keycol> <valcol> <initial>
//	INCR     <grouping> <valcol> <increment>
//	LOCATE   <grouping>
//	INCRC    <grouping> <valcol> <initial> <increment>
//	CREATE   <grouping> <keycol> [<valcol> <initial>]
//
// The sequence name is always the first bound argument.
type KVDialect struct{}

func (KVDialect) Name() string { return "kv" }

func (KVDialect) UniqueConstraint(grouping, column string) []core.Template {
	return []core.Template{{Text: "UNIQUE " + grouping + " " + column}}
}

func (KVDialect) MergeCounter(key seqgen.Key, initial int64) core.Template {
	return core.Template{Text: fmt.Sprintf("MERGE %s %s %s %d", key.Grouping, key.KeyColumn, key.ValueColumn, initial)}
}

func (KVDialect) IncrementCounter(key seqgen.Key, increment int64) core.Template {
	return core.Template{Text: fmt.Sprintf("INCR %s %s %d", key.Grouping, key.ValueColumn, increment), Shape: core.ShapeRow}
}

func (KVDialect) LocateSequence(key seqgen.Key) core.Template {
	return core.Template{Text: "LOCATE " + key.Grouping, Shape: core.ShapeRow}
}

func (KVDialect) IncrementSequence(key seqgen.Key, initial, increment int64) core.Template {
	return core.Template{Text: fmt.Sprintf("INCRC %s %s %d %d", key.Grouping, key.ValueColumn, initial, increment), Shape: core.ShapeRow}
}

func (KVDialect) CreateSequence(key seqgen.Key, initial *int64) core.Template {
	if initial == nil {
		return core.Template{Text: fmt.Sprintf("CREATE %s %s", key.Grouping, key.KeyColumn)}
	}
	return core.Template{Text: fmt.Sprintf("CREATE %s %s %s %d", key.Grouping, key.KeyColumn, key.ValueColumn, *initial)}
}

// kvTx is the read-write view an embedded store hands to one batch. Writes
// become visible to later reads of the same batch and are discarded unless
// the whole batch succeeds.
type kvTx interface {
	get(bucket, key string) ([]byte, bool, error)
	put(bucket, key string, val []byte) error
}

var errMalformed = errors.New("malformed kv statement")

// execKV interprets a KVDialect batch against tx.
func execKV(tx kvTx, stmts []core.Statement) ([]core.ResultSet, error) {
	out := make([]core.ResultSet, len(stmts))
	for i, st := range stmts {
		rs, err := execKVStatement(tx, st)
		if err != nil {
			return nil, fmt.Errorf("statement %d (%s): %w", i, st.Text, err)
		}
		out[i] = rs
	}
	return out, nil
}

func execKVStatement(tx kvTx, st core.Statement) (core.ResultSet, error) {
	f := strings.Fields(st.Text)
	if len(f) < 2 {
		return core.ResultSet{}, errMalformed
	}
	verb, bucket := f[0], f[1]
	if verb == "UNIQUE" {
		if len(f) != 3 {
			return core.ResultSet{}, errMalformed
		}
		return core.ResultSet{}, tx.put(constraintBucket, bucket+"."+f[2], []byte{1})
	}

	if len(st.Args) != 1 {
		return core.ResultSet{}, fmt.Errorf("%w: expected the sequence name as only argument", errMalformed)
	}
	name, ok := st.Args[0].(string)
	if !ok {
		return core.ResultSet{}, fmt.Errorf("%w: name is %T", errMalformed, st.Args[0])
	}
	rec, found, err := load(tx, bucket, name)
	if err != nil {
		return core.ResultSet{}, err
	}

	switch verb {
	case "MERGE":
		if len(f) != 5 {
			return core.ResultSet{}, errMalformed
		}
		if found {
			return core.ResultSet{}, nil
		}
		initial, err := strconv.ParseInt(f[4], 10, 64)
		if err != nil {
			return core.ResultSet{}, err
		}
		return core.ResultSet{}, store(tx, bucket, name, record{f[2]: name, f[3]: initial})

	case "INCR":
		if len(f) != 4 {
			return core.ResultSet{}, errMalformed
		}
		if !found {
			return core.ResultSet{}, fmt.Errorf("no record %s in %s", name, bucket)
		}
		inc, err := strconv.ParseInt(f[3], 10, 64)
		if err != nil {
			return core.ResultSet{}, err
		}
		cur, ok, err := rec.value(f[2])
		if err != nil {
			return core.ResultSet{}, err
		}
		if !ok {
			return core.ResultSet{}, fmt.Errorf("record %s in %s has no %s", name, bucket, f[2])
		}
		next, err := core.Advance(cur, inc)
		if err != nil {
			return core.ResultSet{}, err
		}
		return setValue(tx, bucket, name, rec, f[2], next)

	case "LOCATE":
		if !found {
			return core.ResultSet{}, nil
		}
		return core.ResultSet{Columns: []string{"found"}, Rows: []core.Row{{int64(1)}}}, nil

	case "INCRC":
		if len(f) != 5 {
			return core.ResultSet{}, errMalformed
		}
		if !found {
			return core.ResultSet{}, nil
		}
		initial, err := strconv.ParseInt(f[3], 10, 64)
		if err != nil {
			return core.ResultSet{}, err
		}
		inc, err := strconv.ParseInt(f[4], 10, 64)
		if err != nil {
			return core.ResultSet{}, err
		}
		cur, ok, err := rec.value(f[2])
		if err != nil {
			return core.ResultSet{}, err
		}
		if !ok {
			cur = initial
		}
		next, err := core.Advance(cur, inc)
		if err != nil {
			return core.ResultSet{}, err
		}
		return setValue(tx, bucket, name, rec, f[2], next)

	case "CREATE":
		if len(f) != 3 && len(f) != 5 {
			return core.ResultSet{}, errMalformed
		}
		if found {
			return core.ResultSet{}, nil
		}
		r := record{f[2]: name}
		if len(f) == 5 {
			initial, err := strconv.ParseInt(f[4], 10, 64)
			if err != nil {
				return core.ResultSet{}, err
			}
			r[f[3]] = initial
		}
		return core.ResultSet{}, store(tx, bucket, name, r)
	}
	return core.ResultSet{}, fmt.Errorf("%w: unknown verb %q", errMalformed, verb)
}

func setValue(tx kvTx, bucket, name string, rec record, column string, v int64) (core.ResultSet, error) {
	rec[column] = v
	if err := store(tx, bucket, name, rec); err != nil {
		return core.ResultSet{}, err
	}
	return core.ResultSet{Columns: []string{column}, Rows: []core.Row{{v}}}, nil
}

func load(tx kvTx, bucket, name string) (record, bool, error) {
	b, ok, err := tx.get(bucket, name)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := decodeRecord(b)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func store(tx kvTx, bucket, name string, r record) error {
	b, err := r.encode()
	if err != nil {
		return err
	}
	return tx.put(bucket, name, b)
}

// kvEngine runs fn inside one serialized read-write transaction.
type kvEngine interface {
	update(fn func(kvTx) error) error
}

func executeKV(ctx context.Context, e kvEngine, stmts []core.Statement) ([]core.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []core.ResultSet
	err := e.update(func(tx kvTx) error {
		var err error
		out, err = execKV(tx, stmts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadStateKV(ctx context.Context, e kvEngine, key seqgen.Key) (core.CounterState, error) {
	if err := ctx.Err(); err != nil {
		return core.CounterState{}, err
	}
	var st core.CounterState
	err := e.update(func(tx kvTx) error {
		rec, found, err := load(tx, key.Grouping, key.Name)
		if err != nil || !found {
			return err
		}
		v, ok, err := rec.value(key.ValueColumn)
		st = core.CounterState{Exists: true, HasValue: ok, Value: v}
		return err
	})
	return st, err
}

func compareAndSwapKV(ctx context.Context, e kvEngine, key seqgen.Key, expected core.CounterState, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	swapped := false
	err := e.update(func(tx kvTx) error {
		rec, found, err := load(tx, key.Grouping, key.Name)
		if err != nil {
			return err
		}
		cur := core.CounterState{Exists: found}
		if found {
			v, ok, err := rec.value(key.ValueColumn)
			if err != nil {
				return err
			}
			cur.HasValue, cur.Value = ok, v
		} else {
			rec = record{key.KeyColumn: key.Name}
		}
		if cur != expected {
			return nil
		}
		rec[key.ValueColumn] = next
		swapped = true
		return store(tx, key.Grouping, key.Name, rec)
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}
