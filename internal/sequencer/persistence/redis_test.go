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
	"math"
	"reflect"
	"strings"
	"testing"

	"seqgen"
	"seqgen/internal/sequencer/core"
)

type fakeRedisEvaler struct {
	calls []struct {
		script string
		keys   []string
		args   []interface{}
	}
	reply     interface{}
	returnErr error
}

func (f *fakeRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f.calls = append(f.calls, struct {
		script string
		keys   []string
		args   []interface{}
	}{script: script, keys: append([]string{}, keys...), args: append([]interface{}{}, args...)})
	return f.reply, nil
}

func TestRedisRecordKey(t *testing.T) {
	if got, want := RedisRecordKey("SEQUENCE", "orders"), "SEQUENCE:orders"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestComposeRedisScript(t *testing.T) {
	key := seqgen.DefaultTableKey("users")
	stmts := []core.Statement{
		RedisDialect{}.MergeCounter(key, 12).Bind(key.Name),
		RedisDialect{}.IncrementCounter(key, 3).Bind(key.Name),
		RedisDialect{}.UniqueConstraint("g", "c")[0].Bind(),
	}
	script, argv := ComposeRedisScript(stmts)
	if want := []interface{}{1, "users", 1, "users", 0}; !reflect.DeepEqual(argv, want) {
		t.Fatalf("argv mismatch: got %v want %v", argv, want)
	}
	for _, frag := range []string{
		"out[1] = (function(A)",
		"out[3] = (function(A)",
		"'hibernate_sequences:' .. A[1]",
		"redis.call('HINCRBY', k, 'next_val', '3')",
		"return redis.call('HGET', k, 'next_val')",
		"redis.call('SADD', 'seqgen:constraints', 'g.c')",
		"return out",
	} {
		if !strings.Contains(script, frag) {
			t.Fatalf("script lacks %q:\n%s", frag, script)
		}
	}
}

func TestRedisDialect_LargeValuesStayExact(t *testing.T) {
	key := seqgen.SequenceKey("big")
	top := int64(math.MaxInt64 - 1)
	for _, tpl := range []core.Template{
		RedisDialect{}.MergeCounter(seqgen.DefaultTableKey("big"), top),
		RedisDialect{}.IncrementSequence(key, top, 100_000_000_000_000_000),
		RedisDialect{}.CreateSequence(key, &top),
	} {
		if strings.Contains(tpl.Text, "e+") {
			t.Fatalf("exponent form in script:\n%s", tpl.Text)
		}
		if !strings.Contains(tpl.Text, "'9223372036854775806'") {
			t.Fatalf("value must be a string literal:\n%s", tpl.Text)
		}
	}
	inc := RedisDialect{}.IncrementSequence(key, 1, 100_000_000_000_000_000).Text
	if !strings.Contains(inc, "'100000000000000000'") {
		t.Fatalf("increment must be a string literal:\n%s", inc)
	}

	// the counter comes back as a bulk string and is parsed without rounding
	fake := &fakeRedisEvaler{reply: []interface{}{nil, "9223372036854775807"}}
	svc, err := core.NewService(NewRedisStore(fake), RedisDialect{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	v, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.DefaultTableKey("big"), 1, top))
	if err != nil || v != top {
		t.Fatalf("got %d, %v; want %d", v, err, top)
	}
}

func TestRedisStore_Execute(t *testing.T) {
	fake := &fakeRedisEvaler{reply: []interface{}{nil, int64(15)}}
	r := NewRedisStore(fake)
	key := seqgen.DefaultTableKey("users")
	out, err := r.Execute(context.Background(), []core.Statement{
		RedisDialect{}.MergeCounter(key, 12).Bind(key.Name),
		RedisDialect{}.IncrementCounter(key, 3).Bind(key.Name),
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected one script for the whole batch, got %d", len(fake.calls))
	}
	if _, ok := out[0].Scalar(); ok {
		t.Fatalf("merge must not return a value")
	}
	if v, ok := out[1].Scalar(); !ok || v != int64(15) {
		t.Fatalf("unexpected result %+v", out[1])
	}
}

func TestRedisStore_ServiceAllocation(t *testing.T) {
	fake := &fakeRedisEvaler{reply: []interface{}{int64(1), int64(60)}}
	svc, err := core.NewService(NewRedisStore(fake), RedisDialect{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	v, err := svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.SequenceKey("orders"), 10, 1))
	if err != nil || v != 50 {
		t.Fatalf("got %d, %v; want 50", v, err)
	}

	fake.reply = []interface{}{nil, nil}
	_, err = svc.NextValue(context.Background(), seqgen.NewRequest(seqgen.SequenceKey("orders"), 10, 1))
	var notFound *seqgen.SequenceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SequenceNotFoundError, got %v", err)
	}
}

func TestRedisStore_BadReplies(t *testing.T) {
	key := seqgen.DefaultTableKey("k")
	stmts := []core.Statement{RedisDialect{}.IncrementCounter(key, 1).Bind(key.Name)}
	for _, reply := range []interface{}{"OK", []interface{}{}, []interface{}{int64(1), int64(2)}} {
		r := NewRedisStore(&fakeRedisEvaler{reply: reply})
		if _, err := r.Execute(context.Background(), stmts); err == nil {
			t.Fatalf("expected error for reply %#v", reply)
		}
	}
}

func TestRedisStore_ContextCanceled(t *testing.T) {
	r := NewRedisStore(&fakeRedisEvaler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	key := seqgen.DefaultTableKey("k")
	_, err := r.Execute(ctx, []core.Statement{RedisDialect{}.IncrementCounter(key, 1).Bind(key.Name)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedisStore_ClientErrorPropagates(t *testing.T) {
	r := NewRedisStore(&fakeRedisEvaler{returnErr: errors.New("boom")})
	key := seqgen.DefaultTableKey("k")
	_, err := r.Execute(context.Background(), []core.Statement{RedisDialect{}.IncrementCounter(key, 1).Bind(key.Name)})
	if err == nil || err.Error() != "redis eval: boom" {
		t.Fatalf("unexpected error: %v", err)
	}
}
