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

	"github.com/sirupsen/logrus"
	"seqgen"
	"seqgen/internal/sequencer/telemetry"
)

// NextValuer hands out the lower bound of a freshly allocated block.
type NextValuer interface {
	NextValue(ctx context.Context, req seqgen.Request) (int64, error)
}

// Service allocates identifier blocks against a StoreClient. One Service is
// built at startup and shared by every caller; it holds no per-counter state
// apart from the rendered template caches.
type Service struct {
	store      StoreClient
	dialect    Dialect
	strategies map[seqgen.Kind]Strategy

	journal     Journal
	metrics     *telemetry.Metrics
	log         logrus.FieldLogger
	cacheSize   int
	callTimeout time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithMetrics records call outcomes, latency and cache lookups.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithJournal publishes every allocated block to j.
func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }

// WithTemplateCacheSize bounds each strategy's template cache.
func WithTemplateCacheSize(n int) Option { return func(s *Service) { s.cacheSize = n } }

// WithCallTimeout bounds calls whose context carries no deadline. 0 disables.
func WithCallTimeout(d time.Duration) Option { return func(s *Service) { s.callTimeout = d } }

// WithStrategy replaces the strategy used for kind.
func WithStrategy(st Strategy) Option {
	return func(s *Service) { s.strategies[st.Kind()] = st }
}

// NewService wires the table and sequence strategies for dialect on top of
// store.
func NewService(store StoreClient, dialect Dialect, opts ...Option) (*Service, error) {
	s := &Service{
		store:       store,
		dialect:     dialect,
		strategies:  make(map[seqgen.Kind]Strategy, 2),
		callTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "sequence_service")

	if _, ok := s.strategies[seqgen.KindTable]; !ok {
		c, err := NewTemplateCache(s.cacheSize, s.metrics)
		if err != nil {
			return nil, err
		}
		s.strategies[seqgen.KindTable] = NewTableStrategy(dialect, c)
	}
	if _, ok := s.strategies[seqgen.KindSequence]; !ok {
		c, err := NewTemplateCache(s.cacheSize, s.metrics)
		if err != nil {
			return nil, err
		}
		s.strategies[seqgen.KindSequence] = NewSequenceStrategy(dialect, c)
	}
	return s, nil
}

// NextValue allocates the next block for req and returns its lower bound.
// The block is [value, value+req.Increment).
//
// Errors are *seqgen.ConfigurationError for a malformed request,
// *seqgen.SequenceNotFoundError for a SEQUENCE key that was never created
// and *seqgen.BackendError for anything the store reported. Nothing is
// retried.
func (s *Service) NextValue(ctx context.Context, req seqgen.Request) (int64, error) {
	start := time.Now()
	v, err := s.nextValue(ctx, req)
	s.metrics.ObserveNextValue(req.Key.Kind.String(), outcome(err), time.Since(start))
	if err != nil {
		s.log.WithError(err).WithField("key", req.Key.String()).Debug("next value failed")
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"key": req.Key.String(), "lower": v, "increment": req.Increment}).Debug("allocated block")
	s.publish(ctx, req, v)
	return v, nil
}

// NextBlock is NextValue returning the whole block.
func (s *Service) NextBlock(ctx context.Context, req seqgen.Request) (seqgen.Block, error) {
	v, err := s.NextValue(ctx, req)
	if err != nil {
		return seqgen.Block{}, err
	}
	return seqgen.Block{Lower: v, Size: req.Increment}, nil
}

func (s *Service) nextValue(ctx context.Context, req seqgen.Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	st, ok := s.strategies[req.Key.Kind]
	if !ok {
		return 0, &seqgen.ConfigurationError{Field: "kind", Reason: "no strategy for " + req.Key.Kind.String()}
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	results, err := s.store.Execute(ctx, st.BuildStatements(req))
	if err != nil {
		return 0, &seqgen.BackendError{Op: "next value " + req.Key.String(), Err: err}
	}
	v, err := st.ParseResult(req, results)
	if err != nil {
		var notFound *seqgen.SequenceNotFoundError
		if errors.As(err, &notFound) {
			return 0, err
		}
		return 0, &seqgen.BackendError{Op: "parse result", Err: err}
	}
	return v, nil
}

// bound applies the default timeout when ctx has no deadline.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return ctx, func() {}
}

func (s *Service) publish(ctx context.Context, req seqgen.Request, lower int64) {
	if s.journal == nil {
		return
	}
	a := Allocation{Key: req.Key, Block: seqgen.Block{Lower: lower, Size: req.Increment}, At: time.Now()}
	if err := s.journal.Record(ctx, a); err != nil {
		s.metrics.ObserveJournalError()
		s.log.WithError(err).WithField("key", req.Key.String()).Warn("journal record failed")
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		notFound *seqgen.SequenceNotFoundError
		cfg      *seqgen.ConfigurationError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &cfg):
		return "invalid"
	default:
		return "backend_error"
	}
}
