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
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"seqgen"
	"seqgen/internal/sequencer/telemetry"
)

// ErrContention is returned when an optimistic allocation kept losing the
// compare-and-swap race until its attempts ran out.
var ErrContention = errors.New("optimistic allocation: too many conflicting writers")

// CounterState is a snapshot of one counter record.
type CounterState struct {
	Exists   bool
	HasValue bool
	Value    int64
}

// CounterCAS is a backend offering per-record compare-and-swap but no
// multi-statement transactions.
type CounterCAS interface {
	Load(ctx context.Context, key seqgen.Key) (CounterState, error)
	// CompareAndSwap stores next for key only if the record still matches
	// expected. swapped is false when another writer got there first.
	CompareAndSwap(ctx context.Context, key seqgen.Key, expected CounterState, next int64) (swapped bool, err error)
}

// OptimisticGenerator allocates blocks with a read / compare-and-swap loop.
// It is the alternative for backends that cannot serialize the Service's
// statement batch, and returns the same block sequence as the Service does
// for the same requests.
type OptimisticGenerator struct {
	cas         CounterCAS
	maxAttempts uint64
	newBackOff  func() backoff.BackOff
	metrics     *telemetry.Metrics
	log         logrus.FieldLogger
}

// OptimisticOption customizes an OptimisticGenerator.
type OptimisticOption func(*OptimisticGenerator)

// WithMaxAttempts caps the number of compare-and-swap attempts per call.
func WithMaxAttempts(n uint64) OptimisticOption {
	return func(g *OptimisticGenerator) { g.maxAttempts = n }
}

// WithBackOff sets the policy used between conflicting attempts.
func WithBackOff(f func() backoff.BackOff) OptimisticOption {
	return func(g *OptimisticGenerator) { g.newBackOff = f }
}

func WithOptimisticMetrics(m *telemetry.Metrics) OptimisticOption {
	return func(g *OptimisticGenerator) { g.metrics = m }
}

func WithOptimisticLogger(l logrus.FieldLogger) OptimisticOption {
	return func(g *OptimisticGenerator) { g.log = l }
}

func NewOptimisticGenerator(cas CounterCAS, opts ...OptimisticOption) *OptimisticGenerator {
	g := &OptimisticGenerator{
		cas:         cas,
		maxAttempts: 16,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Millisecond
			b.MaxInterval = 50 * time.Millisecond
			return b
		},
	}
	for _, o := range opts {
		o(g)
	}
	if g.maxAttempts == 0 {
		g.maxAttempts = 1
	}
	if g.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		g.log = l
	}
	g.log = g.log.WithField("component", "optimistic_generator")
	return g
}

var errConflict = errors.New("compare-and-swap conflict")

// NextValue returns the lower bound of the next block for req.
func (g *OptimisticGenerator) NextValue(ctx context.Context, req seqgen.Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	var lower int64
	attempt := func() error {
		state, err := g.cas.Load(ctx, req.Key)
		if err != nil {
			return backoff.Permanent(&seqgen.BackendError{Op: "load " + req.Key.String(), Err: err})
		}
		current := req.InitialValue
		switch {
		case !state.Exists && req.Key.Kind == seqgen.KindSequence:
			return backoff.Permanent(&seqgen.SequenceNotFoundError{Key: req.Key})
		case state.HasValue:
			current = state.Value
		}
		next, err := Advance(current, req.Increment)
		if err != nil {
			return backoff.Permanent(&seqgen.BackendError{Op: "next value " + req.Key.String(), Err: err})
		}
		swapped, err := g.cas.CompareAndSwap(ctx, req.Key, state, next)
		if err != nil {
			return backoff.Permanent(&seqgen.BackendError{Op: "compare-and-swap " + req.Key.String(), Err: err})
		}
		if !swapped {
			g.metrics.ObserveConflict()
			return errConflict
		}
		lower = current
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.maxAttempts-1), ctx)
	err := backoff.Retry(attempt, b)
	switch {
	case err == nil:
		return lower, nil
	case errors.Is(err, errConflict):
		g.log.WithField("key", req.Key.String()).Warn("giving up after repeated conflicts")
		return 0, &seqgen.BackendError{Op: "next value " + req.Key.String(), Err: ErrContention}
	default:
		var (
			notFound *seqgen.SequenceNotFoundError
			backend  *seqgen.BackendError
		)
		if errors.As(err, &notFound) || errors.As(err, &backend) {
			return 0, err
		}
		return 0, &seqgen.BackendError{Op: "next value " + req.Key.String(), Err: err}
	}
}
