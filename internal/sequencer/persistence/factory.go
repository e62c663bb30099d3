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
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"seqgen/internal/sequencer/core"
	"seqgen/internal/sequencer/remote"
)

// Options selects and configures the backend built by BuildBackend.
type Options struct {
	Store       string // bolt, pebble, redis, postgres, remote
	BoltPath    string
	PebbleDir   string
	RedisAddr   string
	PostgresDSN string
	RemoteAddr  string
}

// Backend bundles a store with the dialect its statements must be rendered
// in. CAS is set when the store also supports optimistic allocation.
type Backend struct {
	Store   core.StoreClient
	Dialect core.Dialect
	CAS     core.CounterCAS

	closers []func() error
}

// Close releases every resource the backend opened.
func (b *Backend) Close() error {
	var result *multierror.Error
	for _, c := range b.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (core.Dialect, error) {
	switch name {
	case KVDialect{}.Name():
		return KVDialect{}, nil
	case RedisDialect{}.Name():
		return RedisDialect{}, nil
	case PostgresDialect{}.Name():
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

func BuildBackend(ctx context.Context, opts Options) (*Backend, error) {
	switch opts.Store {
	case "", "bolt":
		s, err := OpenBolt(opts.BoltPath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Dialect: KVDialect{}, CAS: s, closers: []func() error{s.Close}}, nil
	case "pebble":
		s, err := OpenPebble(opts.PebbleDir)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Dialect: KVDialect{}, CAS: s, closers: []func() error{s.Close}}, nil
	case "redis":
		e := NewGoRedisEvaler(opts.RedisAddr)
		return &Backend{Store: NewRedisStore(e), Dialect: RedisDialect{}, CAS: NewRedisCAS(e.Client()), closers: []func() error{e.Close}}, nil
	case "postgres":
		s, err := OpenPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, Dialect: PostgresDialect{}, closers: []func() error{s.Close}}, nil
	case "remote":
		c, err := remote.Dial(opts.RemoteAddr)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		d, err := c.Describe(ctx)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("describe remote store: %w", err)
		}
		dialect, err := DialectByName(d.Dialect)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		return &Backend{Store: c, Dialect: dialect, closers: []func() error{c.Close}}, nil
	default:
		return nil, fmt.Errorf("unknown store: %s", opts.Store)
	}
}
