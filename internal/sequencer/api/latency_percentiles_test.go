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

package api

import (
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"
	"time"

	"seqgen/internal/sequencer/core"
	"seqgen/internal/sequencer/persistence"
)

// percentile returns the p-th percentile from a sorted slice of durations (in ns).
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	weight := pos - math.Floor(pos)
	return int64((1-weight)*float64(sorted[lo]) + weight*float64(sorted[hi]))
}

func TestPercentile(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50}
	if got := percentile(sorted, 50); got != 30 {
		t.Fatalf("p50: got %d", got)
	}
	if got := percentile(sorted, 100); got != 50 {
		t.Fatalf("p100: got %d", got)
	}
	if got := percentile(sorted, 0); got != 10 {
		t.Fatalf("p0: got %d", got)
	}
	if got := percentile(nil, 99); got != 0 {
		t.Fatalf("empty: got %d", got)
	}
}

// Test_PooledIDLatency checks that /id, which only reaches the store once
// per block, keeps its p99 under a small in-process SLO.
func Test_PooledIDLatency(t *testing.T) {
	if os.Getenv("SEQGEN_RUN_LATENCY") != "1" {
		t.Skip("skipping latency test; set SEQGEN_RUN_LATENCY=1 to run")
	}
	store, err := persistence.OpenPebble("")
	if err != nil {
		t.Fatalf("pebble: %v", err)
	}
	defer store.Close()
	svc, err := core.NewService(store, persistence.KVDialect{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv, err := NewServer(svc, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	const total = 5000
	lats := make([]int64, 0, total)
	for i := 0; i < total; i++ {
		start := time.Now()
		req := httptest.NewRequest(http.MethodGet, "/id?name=hot&increment=1000", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
		}
		lats = append(lats, time.Since(start).Nanoseconds())
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	if p99 := time.Duration(percentile(lats, 99)); p99 > 10*time.Millisecond {
		t.Fatalf("p99 too high: %v", p99)
	}
}
