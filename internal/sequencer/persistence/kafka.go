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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"seqgen/internal/sequencer/core"
)

// KafkaProducer is the minimal producer the journal needs.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaJournal publishes every allocated block to a topic. Messages are
// keyed by "<grouping>/<name>" so the blocks of one counter stay ordered
// within a partition.
type KafkaJournal struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

func NewKafkaJournal(p KafkaProducer, topic string) *KafkaJournal {
	return &KafkaJournal{producer: p, topic: topic, defaultTimeout: 5 * time.Second}
}

// AllocationMessage is the JSON payload of one journal record. ID is unique
// per message so consumers can drop redeliveries.
type AllocationMessage struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Grouping string `json:"grouping"`
	Name     string `json:"name"`
	Lower    int64  `json:"lower"`
	Size     int64  `json:"size"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

func (k *KafkaJournal) Record(ctx context.Context, a core.Allocation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	msg := AllocationMessage{
		ID:       uuid.NewString(),
		Kind:     a.Key.Kind.String(),
		Grouping: a.Key.Grouping,
		Name:     a.Key.Name,
		Lower:    a.Block.Lower,
		Size:     a.Block.Size,
		TsUnixMs: at.UnixMilli(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	key := []byte(a.Key.Grouping + "/" + a.Key.Name)
	headers := map[string]string{"content-type": "application/json", "message-id": msg.ID}
	if err := k.producer.Produce(ctx, k.topic, key, b, headers); err != nil {
		return fmt.Errorf("kafka produce %s: %w", key, err)
	}
	return nil
}
