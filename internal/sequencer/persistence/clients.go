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
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// GoRedisEvaler implements RedisEvaler on top of github.com/redis/go-redis/v9.
// Scripts go through EVALSHA first and fall back to EVAL when the server
// does not know the script yet.
type GoRedisEvaler struct{ c *redis.Client }

func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

// Client exposes the underlying client, e.g. for NewRedisCAS.
func (g *GoRedisEvaler) Client() *redis.Client { return g.c }

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return redis.NewScript(script).Run(ctx, g.c, keys, args...).Result()
}

func (g *GoRedisEvaler) Close() error { return g.c.Close() }

// KafkaGoProducer implements KafkaProducer with a kafka-go Writer. Messages
// with the same key land on the same partition.
type KafkaGoProducer struct{ w *kafka.Writer }

func NewKafkaGoProducer(brokers []string) *KafkaGoProducer {
	return &KafkaGoProducer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaGoProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaGoProducer) Close() error { return p.w.Close() }

// LoggingKafkaProducer logs messages at Debug instead of producing them. It
// lets the journal run without a broker.
type LoggingKafkaProducer struct {
	Log logrus.FieldLogger
}

func (p LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.Log == nil {
		return nil
	}
	p.Log.WithFields(logrus.Fields{
		"topic":   topic,
		"key":     string(key),
		"headers": headers,
	}).Debug(truncate(string(value), 256))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
