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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seqgen"
	"seqgen/internal/sequencer/telemetry"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *memStore, *opDialect) {
	t.Helper()
	store := newMemStore()
	d := &opDialect{}
	svc, err := NewService(store, d, opts...)
	require.NoError(t, err)
	return svc, store, d
}

func TestNextValue_FirstCallReturnsInitialValue(t *testing.T) {
	svc, _, _ := newTestService(t)
	v, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("orders"), 1, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestNextValue_SequentialBlocks(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := seqgen.NewRequest(seqgen.DefaultTableKey("orders"), 10, 100)
	for i := int64(0); i < 5; i++ {
		v, err := svc.NextValue(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 100+i*10, v)
	}
}

func collect(t *testing.T, svc NextValuer, req seqgen.Request, callers, perCaller int) []int64 {
	t.Helper()
	var (
		mu  sync.Mutex
		got []int64
		wg  sync.WaitGroup
	)
	errs := make(chan error, callers)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				v, err := svc.NextValue(context.Background(), req)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	return got
}

func assertCoverage(t *testing.T, got []int64, initial, increment int64, n int) {
	t.Helper()
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, initial+int64(i)*increment, v, "position %d", i)
	}
}

func TestNextValue_ConcurrentCallersCoverProgression(t *testing.T) {
	for _, key := range []seqgen.Key{seqgen.DefaultTableKey("parallel"), seqgen.SequenceKey("parallel")} {
		t.Run(key.Kind.String(), func(t *testing.T) {
			svc, _, _ := newTestService(t)
			require.NoError(t, svc.CreateSequenceRecords(context.Background(), []seqgen.Key{key}, nil))
			got := collect(t, svc, seqgen.NewRequest(key, 3, 12), 36, 10)
			assertCoverage(t, got, 12, 3, 360)
		})
	}
}

func TestNextValue_GroupingIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a := seqgen.NewRequest(seqgen.TableKey("alpha", "shared"), 1, 1)
	b := seqgen.NewRequest(seqgen.TableKey("beta", "shared"), 1, 1)

	for i := 0; i < 3; i++ {
		_, err := svc.NextValue(ctx, a)
		require.NoError(t, err)
	}
	v, err := svc.NextValue(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "beta must not see alpha's increments")
}

func TestNextValue_StrategyEquivalence(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seq := seqgen.SequenceKey("equiv")
	require.NoError(t, svc.CreateSequenceRecords(ctx, []seqgen.Key{seq}, nil))

	table := seqgen.DefaultTableKey("equiv")
	for _, inc := range []int64{5, 5, 1, 7, 5} {
		tv, err := svc.NextValue(ctx, seqgen.NewRequest(table, inc, 20))
		require.NoError(t, err)
		sv, err := svc.NextValue(ctx, seqgen.NewRequest(seq, inc, 20))
		require.NoError(t, err)
		assert.Equal(t, tv, sv)
	}
}

func TestNextValue_MissingSequence(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.SequenceKey("ghost"), 1, 1))
	var notFound *seqgen.SequenceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Key.Name)
	assert.Empty(t, store.records, "a missing sequence must not be created")
}

func TestNextValue_ConfigurationErrorSkipsBackend(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("x"), 0, 1))
	var cfg *seqgen.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, 0, store.batches)
}

func TestNextValue_BackendErrorPropagates(t *testing.T) {
	svc, store, _ := newTestService(t)
	cause := errors.New("connection refused")
	store.failWith = cause

	_, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("x"), 1, 1))
	var backend *seqgen.BackendError
	require.ErrorAs(t, err, &backend)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, store.batches, "no retry")
}

func TestNextValue_CancelledContext(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.NextValue(ctx, seqgen.NewRequest(seqgen.DefaultTableKey("x"), 1, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.records)
}

func TestNextValue_DefaultCallTimeout(t *testing.T) {
	svc, store, _ := newTestService(t, WithCallTimeout(time.Minute))
	_, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("x"), 1, 1))
	require.NoError(t, err)
	_, ok := store.lastCtx.Deadline()
	assert.True(t, ok)
}

func TestNextValue_TemplatesRenderedOncePerKey(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, _, d := newTestService(t, WithMetrics(telemetry.NewMetrics(reg)))
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "a"} {
		_, err := svc.NextValue(ctx, seqgen.NewRequest(seqgen.DefaultTableKey(name), 2, 0))
		require.NoError(t, err)
	}
	// the name is bound per call, so all four share one rendered pair
	assert.Equal(t, 2, d.renders)

	_, err := svc.NextValue(ctx, seqgen.NewRequest(seqgen.DefaultTableKey("a"), 3, 0))
	require.NoError(t, err)
	assert.Equal(t, 4, d.renders)
}

func TestNextBlock(t *testing.T) {
	svc, _, _ := newTestService(t)
	b, err := svc.NextBlock(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("blk"), 50, 1))
	require.NoError(t, err)
	assert.Equal(t, seqgen.Block{Lower: 1, Size: 50}, b)
}

func TestNextValue_JournalReceivesBlocks(t *testing.T) {
	j := &recordingJournal{}
	svc, _, _ := newTestService(t, WithJournal(j))
	key := seqgen.DefaultTableKey("journaled")
	_, err := svc.NextValue(context.Background(), seqgen.NewRequest(key, 4, 8))
	require.NoError(t, err)
	require.Len(t, j.got, 1)
	assert.Equal(t, key, j.got[0].Key)
	assert.Equal(t, seqgen.Block{Lower: 8, Size: 4}, j.got[0].Block)
}

func TestNextValue_JournalFailureKeepsAllocation(t *testing.T) {
	j := &recordingJournal{fail: errors.New("broker down")}
	svc, _, _ := newTestService(t, WithJournal(j))
	v, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("j"), 1, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestCreateConstraints_Deduplicates(t *testing.T) {
	svc, store, _ := newTestService(t)
	err := svc.CreateConstraints(context.Background(), []seqgen.Key{
		seqgen.TableKey("g1", "a"),
		seqgen.TableKey("g1", "b"),
		seqgen.TableKey("g2", "a"),
		seqgen.SequenceKey("s1"),
		seqgen.SequenceKey("s2"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1.sequence_name", "g2.sequence_name", "SEQUENCE.sequence_name"}, store.constraints)
	assert.Equal(t, 1, store.batches)
}

func TestCreateConstraints_ReportsEveryInvalidKey(t *testing.T) {
	svc, store, _ := newTestService(t)
	err := svc.CreateConstraints(context.Background(), []seqgen.Key{
		seqgen.TableKey("bad-name", "a"),
		seqgen.TableKey("ok", ""),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grouping")
	assert.Contains(t, err.Error(), "name")
	assert.Equal(t, 0, store.batches)
}

func TestCreateConstraints_RejectsMixedColumnLayouts(t *testing.T) {
	svc, store, _ := newTestService(t)
	odd := seqgen.TableKey("g1", "b")
	odd.ValueColumn = "counter"
	err := svc.CreateConstraints(context.Background(), []seqgen.Key{seqgen.TableKey("g1", "a"), odd})
	var cfg *seqgen.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "columns", cfg.Field)
	assert.Contains(t, err.Error(), "g1")
	assert.Equal(t, 0, store.batches)
}

func TestCreateSequenceRecords_InitialValues(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	preset := seqgen.SequenceKey("preset")
	lazy := seqgen.SequenceKey("lazy")
	require.NoError(t, svc.CreateSequenceRecords(ctx, []seqgen.Key{preset, lazy, seqgen.DefaultTableKey("skipped")},
		map[seqgen.Key]int64{preset: 40}))

	v, err := svc.NextValue(ctx, seqgen.NewRequest(preset, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(40), v)

	v, err = svc.NextValue(ctx, seqgen.NewRequest(lazy, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// running bootstrap again leaves existing records untouched
	require.NoError(t, svc.CreateSequenceRecords(ctx, []seqgen.Key{preset}, map[seqgen.Key]int64{preset: 40}))
	v, err = svc.NextValue(ctx, seqgen.NewRequest(preset, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}
