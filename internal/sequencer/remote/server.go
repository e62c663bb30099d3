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

package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"seqgen/internal/sequencer/core"
	"seqgen/internal/sequencer/telemetry"
)

// DefaultTxTimeout rolls back a remote transaction nobody finished.
const DefaultTxTimeout = 30 * time.Second

// Server serves a local store to remote Clients. Plain Execute calls run as
// one atomic batch each; when the store is a core.TxStore, clients can also
// open a transaction and join it from several Execute calls.
type Server struct {
	store     core.StoreClient
	dialect   string
	txTimeout time.Duration
	metrics   *telemetry.Metrics
	log       logrus.FieldLogger

	mu  sync.Mutex
	txs map[string]*openTx

	grpc *grpc.Server
}

type openTx struct {
	tx    core.Tx
	timer *time.Timer
	// cancel releases the context the transaction was begun with; call it
	// only after Commit or Rollback returned.
	cancel context.CancelFunc
}

type ServerOption func(*Server)

func WithServerLogger(l logrus.FieldLogger) ServerOption { return func(s *Server) { s.log = l } }

func WithServerMetrics(m *telemetry.Metrics) ServerOption { return func(s *Server) { s.metrics = m } }

func WithTxTimeout(d time.Duration) ServerOption { return func(s *Server) { s.txTimeout = d } }

// NewServer serves store, advertising dialect to clients.
func NewServer(store core.StoreClient, dialect string, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		dialect:   dialect,
		txTimeout: DefaultTxTimeout,
		txs:       make(map[string]*openTx),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "remote_store_server")
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	s.grpc.RegisterService(&serviceDesc, handler{s})
	return s
}

// Serve blocks serving lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("remote store listening")
	return s.grpc.Serve(lis)
}

// Stop drains in-flight calls and rolls back every open transaction.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.mu.Lock()
	txs := s.txs
	s.txs = make(map[string]*openTx)
	s.mu.Unlock()
	for id, t := range txs {
		t.timer.Stop()
		if err := t.tx.Rollback(context.Background()); err != nil {
			s.log.WithError(err).WithField("tx", id).Warn("rollback on shutdown failed")
		}
		t.cancel()
	}
}

// OpenTransactions reports the number of transactions not yet finished.
func (s *Server) OpenTransactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func (s *Server) take(id string) (*openTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if ok {
		delete(s.txs, id)
		t.timer.Stop()
	}
	return t, ok
}

func (s *Server) lookup(id string) (*openTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	return t, ok
}

func (s *Server) expire(id string) {
	t, ok := s.take(id)
	if !ok {
		return
	}
	s.log.WithField("tx", id).Warn("transaction timed out, rolling back")
	_ = t.tx.Rollback(context.Background())
	t.cancel()
}

type handler struct{ s *Server }

func (h handler) Execute(ctx context.Context, in *ExecuteRequest) (*ExecuteResponse, error) {
	var (
		results []core.ResultSet
		err     error
	)
	if in.TxID == "" {
		results, err = h.s.store.Execute(ctx, in.Statements)
	} else {
		t, ok := h.s.lookup(in.TxID)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "unknown transaction %s", in.TxID)
		}
		results, err = t.tx.Execute(ctx, in.Statements)
	}
	h.s.metrics.ObserveRemoteBatch(err == nil)
	if err != nil {
		h.s.log.WithError(err).Debug("remote batch failed")
		return nil, toStatus(err)
	}
	return &ExecuteResponse{Results: results}, nil
}

func (h handler) Begin(ctx context.Context, _ *BeginRequest) (*BeginResponse, error) {
	ts, ok := h.s.store.(core.TxStore)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "store does not support transactions")
	}
	// The transaction outlives this call, so it must not inherit ctx. Its
	// deadline is the server's idle timeout, which also keeps the store from
	// applying a shorter default of its own.
	txCtx, cancel := context.WithTimeout(context.Background(), h.s.txTimeout)
	tx, err := ts.Begin(txCtx)
	if err != nil {
		cancel()
		return nil, toStatus(err)
	}
	id := uuid.NewString()
	h.s.mu.Lock()
	h.s.txs[id] = &openTx{tx: tx, cancel: cancel, timer: time.AfterFunc(h.s.txTimeout, func() { h.s.expire(id) })}
	h.s.mu.Unlock()
	return &BeginResponse{TxID: id}, nil
}

func (h handler) Commit(ctx context.Context, in *EndRequest) (*EndResponse, error) {
	t, ok := h.s.take(in.TxID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown transaction %s", in.TxID)
	}
	defer t.cancel()
	if err := t.tx.Commit(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &EndResponse{}, nil
}

func (h handler) Rollback(ctx context.Context, in *EndRequest) (*EndResponse, error) {
	t, ok := h.s.take(in.TxID)
	if !ok {
		return &EndResponse{}, nil
	}
	defer t.cancel()
	if err := t.tx.Rollback(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &EndResponse{}, nil
}

func (h handler) Describe(context.Context, *DescribeRequest) (*DescribeResponse, error) {
	_, tx := h.s.store.(core.TxStore)
	return &DescribeResponse{Dialect: h.s.dialect, Transactional: tx}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
