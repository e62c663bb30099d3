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

package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seqgen"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store.Kind)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 256, cfg.Service.TemplateCacheSize)
	assert.Equal(t, 10*time.Second, cfg.Service.CallTimeout)
	assert.Equal(t, []string{seqgen.DefaultTableGrouping}, cfg.Service.TableGroupings)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SEQGEN_STORE", "redis")
	t.Setenv("SEQGEN_REDIS_ADDR", "redis:6379")
	t.Setenv("SEQGEN_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SEQGEN_CALL_TIMEOUT", "250ms")
	t.Setenv("SEQGEN_TEMPLATE_CACHE_SIZE", "not-a-number")
	t.Setenv("SEQGEN_SEQUENCES", "orders=100,invoices")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Kind)
	assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Service.CallTimeout)
	assert.Equal(t, 256, cfg.Service.TemplateCacheSize, "unparsable values fall back to the default")
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Setenv("SEQGEN_STORE", "postgres")
	t.Setenv("SEQGEN_LOG_LEVEL", "chatty")
	t.Setenv("SEQGEN_LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)
	for _, frag := range []string{"SEQGEN_POSTGRES_DSN", "chatty", "xml"} {
		assert.Contains(t, err.Error(), frag)
	}
}

func TestParseSequences(t *testing.T) {
	keys, initial, err := ParseSequences(" orders=100 , invoices,")
	require.NoError(t, err)
	require.Equal(t, []seqgen.Key{seqgen.SequenceKey("orders"), seqgen.SequenceKey("invoices")}, keys)
	assert.Equal(t, map[seqgen.Key]int64{seqgen.SequenceKey("orders"): 100}, initial)

	_, _, err = ParseSequences("ok,=5,bad=x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad=x")
}

func TestNewLogger(t *testing.T) {
	l := LoggingConfig{Level: "debug", Format: "json"}.NewLogger()
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}
