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

package integration

import (
	"context"
	"runtime"
	"strconv"
	"testing"
	"time"

	"seqgen"
	"seqgen/internal/sequencer/core"
	"seqgen/internal/sequencer/persistence"
)

// Test_Soak_MemoryBounded allocates from an ever growing set of sequence
// names and asserts that heap usage stabilizes: rendered templates are
// bounded by the cache size, not by the number of names seen.
func Test_Soak_MemoryBounded(t *testing.T) {
	if testing.Short() {
		t.Skip("soak test skipped in -short mode")
	}
	t.Setenv("GOMAXPROCS", "1")

	st, err := persistence.OpenPebble("")
	if err != nil {
		t.Fatalf("OpenPebble: %v", err)
	}
	defer st.Close()
	svc, err := core.NewService(st, persistence.KVDialect{}, core.WithTemplateCacheSize(64))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			// Cycle groupings so the template cache keeps evicting.
			key := seqgen.TableKey("soak_"+strconv.Itoa(i%512), "n"+strconv.Itoa(i%8))
			if _, err := svc.NextValue(ctx, seqgen.NewRequest(key, 1, 1)); err != nil {
				t.Errorf("NextValue: %v", err)
				return
			}
		}
	}()

	samples := make([]uint64, 0, 8)
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		runtime.GC()
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		samples = append(samples, ms.HeapAlloc)
	}
	close(stop)
	<-done

	if len(samples) < 2 {
		t.Skip("insufficient samples; skipping assertion")
	}
	first, last := samples[0], samples[len(samples)-1]
	// The in-memory pebble store grows with the 4096 distinct records, so
	// allow generous headroom on top of it.
	if last > first*3 && last-first > 32*1024*1024 {
		t.Fatalf("heap growth too high over soak: first=%d last=%d", first, last)
	}
}
