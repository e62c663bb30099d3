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
	"fmt"

	"seqgen"
)

// Strategy turns a request into one atomic statement batch and reads the
// allocated block back from the batch results.
type Strategy interface {
	Kind() seqgen.Kind
	BuildStatements(req seqgen.Request) []Statement
	// ParseResult returns the lower bound of the allocated block.
	ParseResult(req seqgen.Request, results []ResultSet) (int64, error)
}

// TableStrategy keeps one record per sequence name inside a shared counter
// table. The batch is:
//
//  1. merge: create the record with value = initial if it is absent
//  2. increment: value = value + increment, returning the new value
//
// The caller gets new - increment, so a brand new counter hands out exactly
// the initial value first.
type TableStrategy struct {
	dialect Dialect
	cache   *TemplateCache
}

// NewTableStrategy renders through dialect and caches the result in cache.
func NewTableStrategy(dialect Dialect, cache *TemplateCache) *TableStrategy {
	return &TableStrategy{dialect: dialect, cache: cache}
}

func (s *TableStrategy) Kind() seqgen.Kind { return seqgen.KindTable }

func (s *TableStrategy) BuildStatements(req seqgen.Request) []Statement {
	key := req.Key
	tpls := s.cache.GetOrRender(CacheKey(key.Grouping, req.InitialValue, req.Increment), Layout(key), func() []Template {
		return []Template{
			s.dialect.MergeCounter(key, req.InitialValue),
			s.dialect.IncrementCounter(key, req.Increment),
		}
	})
	return bindName(tpls, key.Name)
}

func (s *TableStrategy) ParseResult(req seqgen.Request, results []ResultSet) (int64, error) {
	if len(results) != 2 {
		return 0, fmt.Errorf("table sequence %s: expected 2 result sets, got %d", req.Key, len(results))
	}
	v, ok := results[1].Scalar()
	if !ok {
		return 0, fmt.Errorf("table sequence %s: increment returned no value", req.Key)
	}
	next, err := AsInt64(v)
	if err != nil {
		return 0, fmt.Errorf("table sequence %s: %w", req.Key, err)
	}
	return next - req.Increment, nil
}

// SequenceStrategy addresses a pre-created record directly by name. The
// batch is:
//
//  1. locate: find (and where possible lock) the record
//  2. increment: value = coalesce(value, initial) + increment
//
// A missing record is reported as *seqgen.SequenceNotFoundError.
type SequenceStrategy struct {
	dialect Dialect
	cache   *TemplateCache
}

func NewSequenceStrategy(dialect Dialect, cache *TemplateCache) *SequenceStrategy {
	return &SequenceStrategy{dialect: dialect, cache: cache}
}

func (s *SequenceStrategy) Kind() seqgen.Kind { return seqgen.KindSequence }

func (s *SequenceStrategy) BuildStatements(req seqgen.Request) []Statement {
	key := req.Key
	tpls := s.cache.GetOrRender(CacheKey(key.Grouping, req.InitialValue, req.Increment), Layout(key), func() []Template {
		return []Template{
			s.dialect.LocateSequence(key),
			s.dialect.IncrementSequence(key, req.InitialValue, req.Increment),
		}
	})
	return bindName(tpls, key.Name)
}

func (s *SequenceStrategy) ParseResult(req seqgen.Request, results []ResultSet) (int64, error) {
	if len(results) != 2 {
		return 0, fmt.Errorf("sequence %s: expected 2 result sets, got %d", req.Key, len(results))
	}
	if _, found := results[0].Scalar(); !found {
		return 0, &seqgen.SequenceNotFoundError{Key: req.Key}
	}
	v, ok := results[1].Scalar()
	if !ok {
		return 0, &seqgen.SequenceNotFoundError{Key: req.Key}
	}
	next, err := AsInt64(v)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", req.Key, err)
	}
	return next - req.Increment, nil
}

func bindName(tpls []Template, name string) []Statement {
	stmts := make([]Statement, len(tpls))
	for i, t := range tpls {
		stmts[i] = t.Bind(name)
	}
	return stmts
}
