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

// Package config loads the sequence server configuration from environment
// variables. Every value has a default, so an empty environment yields a
// working single-node server on an embedded bolt store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"seqgen"
)

type Config struct {
	Store   StoreConfig
	Server  ServerConfig
	Kafka   KafkaConfig
	Logging LoggingConfig
	Service ServiceConfig
}

type StoreConfig struct {
	Kind        string // bolt, pebble, redis, postgres, remote
	BoltPath    string
	PebbleDir   string // empty keeps pebble in memory
	RedisAddr   string
	PostgresDSN string
	RemoteAddr  string
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string // empty disables the remote store server
	MetricsAddr     string // empty disables /metrics
	ShutdownTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string // empty logs journal records instead
	Topic   string
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

type ServiceConfig struct {
	TemplateCacheSize int
	CallTimeout       time.Duration
	// Sequences lists SEQUENCE keys created at startup, as name[=initial].
	Sequences string
	// TableGroupings lists counter tables whose constraint is installed at
	// startup.
	TableGroupings []string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			Kind:        getEnvString("SEQGEN_STORE", "bolt"),
			BoltPath:    getEnvString("SEQGEN_BOLT_PATH", "seqgen.db"),
			PebbleDir:   getEnvString("SEQGEN_PEBBLE_DIR", ""),
			RedisAddr:   getEnvString("SEQGEN_REDIS_ADDR", "127.0.0.1:6379"),
			PostgresDSN: getEnvString("SEQGEN_POSTGRES_DSN", ""),
			RemoteAddr:  getEnvString("SEQGEN_REMOTE_ADDR", ""),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnvString("SEQGEN_HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnvString("SEQGEN_GRPC_ADDR", ""),
			MetricsAddr:     getEnvString("SEQGEN_METRICS_ADDR", ":9090"),
			ShutdownTimeout: getEnvDuration("SEQGEN_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvStringSlice("SEQGEN_KAFKA_BROKERS", nil),
			Topic:   getEnvString("SEQGEN_KAFKA_TOPIC", "seqgen-allocations"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("SEQGEN_LOG_LEVEL", "info"),
			Format: getEnvString("SEQGEN_LOG_FORMAT", "text"),
		},
		Service: ServiceConfig{
			TemplateCacheSize: getEnvInt("SEQGEN_TEMPLATE_CACHE_SIZE", 256),
			CallTimeout:       getEnvDuration("SEQGEN_CALL_TIMEOUT", 10*time.Second),
			Sequences:         getEnvString("SEQGEN_SEQUENCES", ""),
			TableGroupings:    getEnvStringSlice("SEQGEN_TABLE_GROUPINGS", []string{seqgen.DefaultTableGrouping}),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	switch c.Store.Kind {
	case "bolt":
		if c.Store.BoltPath == "" {
			result = multierror.Append(result, fmt.Errorf("SEQGEN_BOLT_PATH is required for the bolt store"))
		}
	case "pebble":
	case "redis":
		if c.Store.RedisAddr == "" {
			result = multierror.Append(result, fmt.Errorf("SEQGEN_REDIS_ADDR is required for the redis store"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			result = multierror.Append(result, fmt.Errorf("SEQGEN_POSTGRES_DSN is required for the postgres store"))
		}
	case "remote":
		if c.Store.RemoteAddr == "" {
			result = multierror.Append(result, fmt.Errorf("SEQGEN_REMOTE_ADDR is required for the remote store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store %q", c.Store.Kind))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if c.Service.TemplateCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("SEQGEN_TEMPLATE_CACHE_SIZE must be > 0, got %d", c.Service.TemplateCacheSize))
	}
	if _, _, err := ParseSequences(c.Service.Sequences); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ParseSequences parses a "name[=initial],..." list into SEQUENCE keys and
// their initial values.
func ParseSequences(s string) ([]seqgen.Key, map[seqgen.Key]int64, error) {
	var (
		keys    []seqgen.Key
		initial = map[seqgen.Key]int64{}
		result  *multierror.Error
	)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, hasValue := strings.Cut(item, "=")
		key := seqgen.SequenceKey(strings.TrimSpace(name))
		if err := key.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sequence %q: %w", item, err))
			continue
		}
		if hasValue {
			v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("sequence %q: %w", item, err))
				continue
			}
			initial[key] = v
		}
		keys = append(keys, key)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, nil, err
	}
	return keys, initial, nil
}

// NewLogger builds the process logger.
func (c LoggingConfig) NewLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(c.Level); err == nil {
		l.SetLevel(lvl)
	}
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
