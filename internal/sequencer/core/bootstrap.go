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

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"seqgen"
)

type constraintTarget struct {
	grouping, column string
}

// CreateConstraints installs, in one batch, a uniqueness constraint for every
// distinct (grouping, key column) pair among keys. It runs at schema setup,
// never on the NextValue path. Every invalid key is reported at once.
func (s *Service) CreateConstraints(ctx context.Context, keys []seqgen.Key) error {
	if err := validateKeys(keys); err != nil {
		return err
	}
	seen := make(map[constraintTarget]struct{}, len(keys))
	var stmts []Statement
	for _, k := range keys {
		t := constraintTarget{grouping: k.Grouping, column: k.KeyColumn}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		for _, tpl := range s.dialect.UniqueConstraint(t.grouping, t.column) {
			stmts = append(stmts, tpl.Bind())
		}
	}
	if len(stmts) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.store.Execute(ctx, stmts); err != nil {
		return &seqgen.BackendError{Op: "create constraints", Err: err}
	}
	s.log.WithFields(logrus.Fields{"constraints": len(seen), "dialect": s.dialect.Name()}).Info("sequence constraints installed")
	return nil
}

// CreateSequenceRecords creates the records of every SEQUENCE-kind key that
// does not exist yet. A key present in initialValues starts at that value,
// otherwise its value stays unset until the first NextValue call. TABLE keys
// are skipped: their records are created lazily.
func (s *Service) CreateSequenceRecords(ctx context.Context, keys []seqgen.Key, initialValues map[seqgen.Key]int64) error {
	if err := validateKeys(keys); err != nil {
		return err
	}
	var stmts []Statement
	for _, k := range keys {
		if k.Kind != seqgen.KindSequence {
			continue
		}
		var initial *int64
		if v, ok := initialValues[k]; ok {
			initial = &v
		}
		stmts = append(stmts, s.dialect.CreateSequence(k, initial).Bind(k.Name))
	}
	if len(stmts) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.store.Execute(ctx, stmts); err != nil {
		return &seqgen.BackendError{Op: "create sequences", Err: err}
	}
	s.log.WithField("sequences", len(stmts)).Info("sequence records created")
	return nil
}

// validateKeys reports every invalid key, and every key whose column layout
// differs from an earlier key of the same grouping.
func validateKeys(keys []seqgen.Key) error {
	var result *multierror.Error
	layouts := make(map[string]string, len(keys))
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		l := Layout(k)
		if prev, ok := layouts[k.Grouping]; ok && prev != l {
			result = multierror.Append(result, &seqgen.ConfigurationError{
				Field:  "columns",
				Reason: fmt.Sprintf("grouping %s uses columns %s, key %s asks for %s", k.Grouping, prev, k.Name, l),
			})
			continue
		}
		layouts[k.Grouping] = l
	}
	return result.ErrorOrNil()
}
