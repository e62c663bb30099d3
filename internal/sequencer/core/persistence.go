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

// Package core implements the sequence generator: strategies that render the
// statements for one allocation, the template cache that keeps rendered text
// for hot counters, and the Service that submits each batch to a StoreClient.
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"seqgen"
)

// Shape tells a store client what a statement is expected to return.
type Shape int

const (
	// ShapeNone statements are executed for their side effect only.
	ShapeNone Shape = iota
	// ShapeRow statements return zero or more rows.
	ShapeRow
)

// Template is a rendered statement whose parameters are not bound yet.
// Grouping, columns, initial value and increment are baked into Text;
// the sequence name is always bound positionally as the first argument.
type Template struct {
	Text  string
	Shape Shape
}

// Bind produces an executable statement.
func (t Template) Bind(args ...any) Statement {
	return Statement{Text: t.Text, Args: args, Shape: t.Shape}
}

// Statement is one unit of work inside an atomic batch. How Text and Args are
// interpreted is up to the store client the statement was rendered for.
type Statement struct {
	Text  string
	Args  []any
	Shape Shape
}

// Row is a single result row.
type Row []any

// ResultSet holds the rows produced by one statement. Statements with
// ShapeNone produce an empty result set.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Scalar returns the first column of the first row. ok is false when there is
// no row or the value is nil.
func (rs ResultSet) Scalar() (v any, ok bool) {
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return nil, false
	}
	v = rs.Rows[0][0]
	return v, v != nil
}

// ErrCounterOverflow is returned when advancing a counter would leave the
// int64 range. The counter is left untouched.
var ErrCounterOverflow = errors.New("counter would overflow int64")

// Advance returns cur+inc, or ErrCounterOverflow when the sum does not fit.
func Advance(cur, inc int64) (int64, error) {
	if (inc > 0 && cur > math.MaxInt64-inc) || (inc < 0 && cur < math.MinInt64-inc) {
		return 0, fmt.Errorf("%w: %d + %d", ErrCounterOverflow, cur, inc)
	}
	return cur + inc, nil
}

// StoreClient executes an ordered batch of statements as a single atomic unit.
//
// Implementations must guarantee that either every statement of the batch is
// durably applied or none is, and must return exactly one ResultSet per
// statement, in order. Any backend failure voids the whole batch and is
// returned as an error instead of a partial result.
type StoreClient interface {
	Execute(ctx context.Context, statements []Statement) ([]ResultSet, error)
}

// Tx is an open backend transaction that several batches can join before it
// is committed or rolled back.
type Tx interface {
	StoreClient
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStore is implemented by store clients able to keep a transaction open
// across several Execute calls.
type TxStore interface {
	StoreClient
	Begin(ctx context.Context) (Tx, error)
}

// Dialect renders statements for one backend. Implementations are pure.
type Dialect interface {
	Name() string

	// UniqueConstraint guarantees that no two records of grouping share the
	// same value in column.
	UniqueConstraint(grouping, column string) []Template
	// MergeCounter creates the TABLE record for $1 holding initial when it
	// does not exist and leaves it untouched otherwise.
	MergeCounter(key seqgen.Key, initial int64) Template
	// IncrementCounter adds increment to the TABLE record for $1 and returns
	// the new value.
	IncrementCounter(key seqgen.Key, increment int64) Template
	// LocateSequence returns a row when the SEQUENCE record for $1 exists,
	// locking it where the backend supports row locks.
	LocateSequence(key seqgen.Key) Template
	// IncrementSequence sets the SEQUENCE value for $1 to
	// coalesce(value, initial) + increment and returns it. It returns no
	// value when the record does not exist.
	IncrementSequence(key seqgen.Key, initial, increment int64) Template
	// CreateSequence creates the SEQUENCE record for $1 when absent. A nil
	// initial leaves the value unset.
	CreateSequence(key seqgen.Key, initial *int64) Template
}

// AsInt64 converts the value types returned by the supported drivers.
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integral counter value %v", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected counter value type %T", v)
	}
}
