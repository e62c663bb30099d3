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
	"strconv"
	"strings"

	"seqgen"
	"seqgen/internal/sequencer/core"
)

// RedisEvaler is the minimal client needed to run a Lua script.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisConstraintsKey is the set recording installed uniqueness constraints.
const RedisConstraintsKey = "seqgen:constraints"

// RedisRecordKey is the hash holding the record of name inside grouping.
func RedisRecordKey(grouping, name string) string { return grouping + ":" + name }

// RedisDialect renders every template as the body of a Lua function taking
// the bound arguments as table A (A[1] is the sequence name). The body
// returns the statement's single value, or nothing.
//
// A record is a hash at "<grouping>:<name>" whose fields are the configured
// key and value columns. Identifiers are validated before they get here, so
// they are safe inside single-quoted Lua strings.
type RedisDialect struct{}

func (RedisDialect) Name() string { return "redis" }

func redisKeyExpr(grouping string) string { return "'" + grouping + ":' .. A[1]" }

// luaInt renders v as a Lua string literal. Lua numbers are doubles, so
// counter values only ever travel as strings; Redis parses them as int64.
func luaInt(v int64) string { return "'" + strconv.FormatInt(v, 10) + "'" }

func (RedisDialect) UniqueConstraint(grouping, column string) []core.Template {
	return []core.Template{{Text: fmt.Sprintf("redis.call('SADD', '%s', '%s.%s')", RedisConstraintsKey, grouping, column)}}
}

func (RedisDialect) MergeCounter(key seqgen.Key, initial int64) core.Template {
	return core.Template{Text: fmt.Sprintf(`local k = %s
if redis.call('EXISTS', k) == 0 then
  redis.call('HSET', k, '%s', A[1], '%s', %s)
end`, redisKeyExpr(key.Grouping), key.KeyColumn, key.ValueColumn, luaInt(initial))}
}

func (RedisDialect) IncrementCounter(key seqgen.Key, increment int64) core.Template {
	return core.Template{
		Text: fmt.Sprintf(`local k = %s
redis.call('HINCRBY', k, '%s', %s)
return redis.call('HGET', k, '%s')`, redisKeyExpr(key.Grouping), key.ValueColumn, luaInt(increment), key.ValueColumn),
		Shape: core.ShapeRow,
	}
}

func (RedisDialect) LocateSequence(key seqgen.Key) core.Template {
	return core.Template{
		Text:  fmt.Sprintf("if redis.call('EXISTS', %s) == 1 then return 1 end", redisKeyExpr(key.Grouping)),
		Shape: core.ShapeRow,
	}
}

func (RedisDialect) IncrementSequence(key seqgen.Key, initial, increment int64) core.Template {
	return core.Template{Text: fmt.Sprintf(`local k = %s
if redis.call('EXISTS', k) == 0 then return end
if not redis.call('HGET', k, '%s') then
  redis.call('HSET', k, '%s', %s)
end
redis.call('HINCRBY', k, '%s', %s)
return redis.call('HGET', k, '%s')`,
		redisKeyExpr(key.Grouping), key.ValueColumn, key.ValueColumn, luaInt(initial), key.ValueColumn, luaInt(increment), key.ValueColumn),
		Shape: core.ShapeRow,
	}
}

func (RedisDialect) CreateSequence(key seqgen.Key, initial *int64) core.Template {
	set := fmt.Sprintf("redis.call('HSET', k, '%s', A[1])", key.KeyColumn)
	if initial != nil {
		set = fmt.Sprintf("redis.call('HSET', k, '%s', A[1], '%s', %s)", key.KeyColumn, key.ValueColumn, luaInt(*initial))
	}
	return core.Template{Text: fmt.Sprintf(`local k = %s
if redis.call('EXISTS', k) == 0 then
  %s
end`, redisKeyExpr(key.Grouping), set)}
}

// RedisStore executes a RedisDialect batch as one Lua script, which Redis
// runs without interleaving any other command. Every statement becomes an
// inner function; its arguments travel in ARGV, each group prefixed with
// its length.
//
// All record keys are computed inside the script, so the store targets a
// single Redis node, not a cluster.
type RedisStore struct {
	client RedisEvaler
}

func NewRedisStore(client RedisEvaler) *RedisStore {
	return &RedisStore{client: client}
}

// ComposeRedisScript builds the script and flattened ARGV for stmts.
func ComposeRedisScript(stmts []core.Statement) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`local i = 1
local function args()
  local n = tonumber(ARGV[i]); i = i + 1
  local A = {}
  for j = 1, n do A[j] = ARGV[i]; i = i + 1 end
  return A
end
local out = {}
`)
	var argv []interface{}
	for n, st := range stmts {
		fmt.Fprintf(&sb, "out[%d] = (function(A)\n%s\nend)(args()) or false\n", n+1, st.Text)
		argv = append(argv, len(st.Args))
		argv = append(argv, st.Args...)
	}
	sb.WriteString("return out\n")
	return sb.String(), argv
}

func (r *RedisStore) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	script, argv := ComposeRedisScript(stmts)
	res, err := r.client.Eval(ctx, script, nil, argv...)
	if err != nil {
		return nil, fmt.Errorf("redis eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("redis eval: unexpected reply %T", res)
	}
	if len(values) != len(stmts) {
		return nil, fmt.Errorf("redis eval: %d replies for %d statements", len(values), len(stmts))
	}
	out := make([]core.ResultSet, len(stmts))
	for i, v := range values {
		if v == nil {
			continue
		}
		out[i] = core.ResultSet{Rows: []core.Row{{v}}}
	}
	return out, nil
}
