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
	"fmt"
	"strconv"
	"strings"
	"sync"

	"seqgen"
)

// opDialect renders statements as "OP|grouping|column|n|m" so memStore can
// interpret them without a real backend.
type opDialect struct {
	renders int
	mu      sync.Mutex
}

func (d *opDialect) count() {
	d.mu.Lock()
	d.renders++
	d.mu.Unlock()
}

func (d *opDialect) Name() string { return "op" }

func (d *opDialect) UniqueConstraint(grouping, column string) []Template {
	return []Template{{Text: "UNIQUE|" + grouping + "|" + column}}
}

func (d *opDialect) MergeCounter(key seqgen.Key, initial int64) Template {
	d.count()
	return Template{Text: fmt.Sprintf("MERGE|%s|%s|%d", key.Grouping, key.ValueColumn, initial)}
}

func (d *opDialect) IncrementCounter(key seqgen.Key, increment int64) Template {
	d.count()
	return Template{Text: fmt.Sprintf("INCR|%s|%s|%d", key.Grouping, key.ValueColumn, increment), Shape: ShapeRow}
}

func (d *opDialect) LocateSequence(key seqgen.Key) Template {
	d.count()
	return Template{Text: "LOCATE|" + key.Grouping, Shape: ShapeRow}
}

func (d *opDialect) IncrementSequence(key seqgen.Key, initial, increment int64) Template {
	d.count()
	return Template{Text: fmt.Sprintf("INCRC|%s|%s|%d|%d", key.Grouping, key.ValueColumn, initial, increment), Shape: ShapeRow}
}

func (d *opDialect) CreateSequence(key seqgen.Key, initial *int64) Template {
	if initial == nil {
		return Template{Text: "CREATE|" + key.Grouping}
	}
	return Template{Text: fmt.Sprintf("CREATE|%s|%s|%d", key.Grouping, key.ValueColumn, *initial)}
}

type memRecord struct {
	value    int64
	hasValue bool
}

// memStore executes opDialect batches under one mutex, copying state so a
// failing batch leaves nothing behind.
type memStore struct {
	mu          sync.Mutex
	records     map[string]memRecord
	constraints []string
	batches     int
	failWith    error
	lastCtx     context.Context
}

func newMemStore() *memStore { return &memStore{records: map[string]memRecord{}} }

func (m *memStore) Execute(ctx context.Context, stmts []Statement) ([]ResultSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	m.batches++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work := make(map[string]memRecord, len(m.records))
	for k, v := range m.records {
		work[k] = v
	}
	out := make([]ResultSet, len(stmts))
	for i, st := range stmts {
		parts := strings.Split(st.Text, "|")
		var id string
		if len(st.Args) > 0 {
			id = parts[1] + "/" + st.Args[0].(string)
		}
		num := func(i int) int64 {
			n, _ := strconv.ParseInt(parts[i], 10, 64)
			return n
		}
		switch parts[0] {
		case "UNIQUE":
			m.constraints = append(m.constraints, parts[1]+"."+parts[2])
		case "MERGE":
			if _, ok := work[id]; !ok {
				work[id] = memRecord{value: num(3), hasValue: true}
			}
		case "INCR":
			r, ok := work[id]
			if !ok {
				return nil, fmt.Errorf("no record %s", id)
			}
			r.value += num(3)
			work[id] = r
			out[i] = ResultSet{Rows: []Row{{r.value}}}
		case "LOCATE":
			if _, ok := work[id]; ok {
				out[i] = ResultSet{Rows: []Row{{int64(1)}}}
			}
		case "INCRC":
			r, ok := work[id]
			if !ok {
				continue
			}
			if !r.hasValue {
				r.value, r.hasValue = num(3), true
			}
			r.value += num(4)
			work[id] = r
			out[i] = ResultSet{Rows: []Row{{r.value}}}
		case "CREATE":
			if _, ok := work[id]; ok {
				continue
			}
			if len(parts) == 4 {
				work[id] = memRecord{value: num(3), hasValue: true}
			} else {
				work[id] = memRecord{}
			}
		default:
			return nil, fmt.Errorf("unknown op %q", parts[0])
		}
	}
	m.records = work
	return out, nil
}

type recordingJournal struct {
	mu   sync.Mutex
	got  []Allocation
	fail error
}

func (j *recordingJournal) Record(_ context.Context, a Allocation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.got = append(j.got, a)
	return nil
}
