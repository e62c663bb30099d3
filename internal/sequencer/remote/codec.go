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

// Package remote exposes a core.StoreClient over gRPC so several sequence
// services can share one embedded store. Messages are msgpack encoded; the
// service is described by hand, so no generated code is involved.
package remote

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"seqgen/internal/sequencer/core"
)

// Codec is the gRPC codec used by both ends of the connection.
type Codec struct{}

func (Codec) Name() string { return "msgpack" }

func (Codec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes integers inside interface values as int64 or uint64,
// whatever their encoded width, so result values reach core.AsInt64 intact.
func (Codec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

type ExecuteRequest struct {
	TxID       string           `msgpack:"tx_id,omitempty"`
	Statements []core.Statement `msgpack:"statements"`
}

type ExecuteResponse struct {
	Results []core.ResultSet `msgpack:"results"`
}

type BeginRequest struct{}

type BeginResponse struct {
	TxID string `msgpack:"tx_id"`
}

// EndRequest commits or rolls back TxID.
type EndRequest struct {
	TxID string `msgpack:"tx_id"`
}

type EndResponse struct{}

type DescribeRequest struct{}

// DescribeResponse names the dialect the server's store understands.
type DescribeResponse struct {
	Dialect       string `msgpack:"dialect"`
	Transactional bool   `msgpack:"transactional"`
}
