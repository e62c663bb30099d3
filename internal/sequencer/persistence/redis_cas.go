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

package persistence

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"seqgen"
	"seqgen/internal/sequencer/core"
)

// RedisCAS implements core.CounterCAS with WATCH/MULTI/EXEC over the same
// record layout RedisStore uses, so both can serve the same counters.
type RedisCAS struct {
	c *redis.Client
}

func NewRedisCAS(c *redis.Client) *RedisCAS { return &RedisCAS{c: c} }

var errStale = errors.New("record changed")

func loadRedisState(ctx context.Context, c redis.Cmdable, key seqgen.Key) (core.CounterState, error) {
	vals, err := c.HMGet(ctx, RedisRecordKey(key.Grouping, key.Name), key.KeyColumn, key.ValueColumn).Result()
	if err != nil {
		return core.CounterState{}, err
	}
	if vals[0] == nil {
		return core.CounterState{}, nil
	}
	st := core.CounterState{Exists: true}
	if vals[1] != nil {
		v, err := core.AsInt64(vals[1])
		if err != nil {
			return core.CounterState{}, fmt.Errorf("%s: %w", key, err)
		}
		st.HasValue, st.Value = true, v
	}
	return st, nil
}

func (r *RedisCAS) Load(ctx context.Context, key seqgen.Key) (core.CounterState, error) {
	return loadRedisState(ctx, r.c, key)
}

func (r *RedisCAS) CompareAndSwap(ctx context.Context, key seqgen.Key, expected core.CounterState, next int64) (bool, error) {
	k := RedisRecordKey(key.Grouping, key.Name)
	err := r.c.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadRedisState(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != expected {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, k, key.KeyColumn, key.Name, key.ValueColumn, next)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}
