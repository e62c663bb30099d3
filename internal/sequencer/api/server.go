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

// Package api implements the HTTP front end of the sequence service.
//
//	GET /next?name=orders[&kind=sequence][&grouping=g][&increment=50][&initial=1]
//	GET /id?name=orders[...]
//
// /next allocates a block and returns it; /id returns a single identifier
// taken from a per-request Pool, so the backend is only hit once every
// increment calls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"seqgen"
	"seqgen/internal/sequencer/core"
)

// DefaultMaxPools bounds the number of pools /id keeps. Evicting a pool
// drops the rest of its block, which leaves a gap but never a duplicate.
const DefaultMaxPools = 1024

// Server handles the HTTP requests for the sequence service.
type Server struct {
	svc   core.NextValuer
	pools *lru.Cache
	log   logrus.FieldLogger
}

// BlockResponse is the JSON body of /next.
type BlockResponse struct {
	Kind     string `json:"kind"`
	Grouping string `json:"grouping"`
	Name     string `json:"name"`
	Lower    int64  `json:"lower"`
	Upper    int64  `json:"upper"`
	Size     int64  `json:"size"`
}

// IDResponse is the JSON body of /id.
type IDResponse struct {
	ID int64 `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the API server. A nil logger discards output.
func NewServer(svc core.NextValuer, log logrus.FieldLogger) (*Server, error) {
	pools, err := lru.New(DefaultMaxPools)
	if err != nil {
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Server{svc: svc, pools: pools, log: log.WithField("component", "http_api")}, nil
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/next", s.handleNext)
	mux.HandleFunc("/id", s.handleID)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

// NewHTTPServer wraps the routes in an http.Server with the usual timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lower, err := s.svc.NextValue(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b := seqgen.Block{Lower: lower, Size: req.Increment}
	writeJSON(w, http.StatusOK, BlockResponse{
		Kind:     req.Key.Kind.String(),
		Grouping: req.Key.Grouping,
		Name:     req.Key.Name,
		Lower:    b.Lower,
		Upper:    b.Upper(),
		Size:     b.Size,
	})
}

func (s *Server) handleID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.pool(req).Next(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDResponse{ID: id})
}

func (s *Server) pool(req seqgen.Request) *core.Pool {
	if p, ok := s.pools.Get(req); ok {
		return p.(*core.Pool)
	}
	p := core.NewPool(s.svc, req)
	// a concurrent caller may have added one first; keep theirs
	if prev, ok, _ := s.pools.PeekOrAdd(req, p); ok {
		return prev.(*core.Pool)
	}
	return p
}

func parseRequest(r *http.Request) (seqgen.Request, error) {
	q := r.URL.Query()
	kind := seqgen.KindTable
	if v := q.Get("kind"); v != "" {
		k, err := seqgen.ParseKind(v)
		if err != nil {
			return seqgen.Request{}, err
		}
		kind = k
	}
	name := q.Get("name")
	var key seqgen.Key
	if kind == seqgen.KindSequence {
		key = seqgen.SequenceKey(name)
	} else {
		grouping := q.Get("grouping")
		if grouping == "" {
			grouping = seqgen.DefaultTableGrouping
		}
		key = seqgen.TableKey(grouping, name)
	}
	increment, err := intParam(q.Get("increment"), "increment", seqgen.DefaultIncrement)
	if err != nil {
		return seqgen.Request{}, err
	}
	initial, err := intParam(q.Get("initial"), "initial", seqgen.DefaultInitialValue)
	if err != nil {
		return seqgen.Request{}, err
	}
	req := seqgen.NewRequest(key, increment, initial)
	return req, req.Validate()
}

func intParam(v, field string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &seqgen.ConfigurationError{Field: field, Reason: fmt.Sprintf("%q is not an integer", v)}
	}
	return n, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		cfg      *seqgen.ConfigurationError
		notFound *seqgen.SequenceNotFoundError
	)
	switch {
	case errors.As(err, &cfg):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	entry := s.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "status": code})
	if code >= 500 {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
