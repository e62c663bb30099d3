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

package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"seqgen/internal/sequencer/core"
)

// Client is a core.TxStore backed by a remote Server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security. Extra options are
// appended, e.g. grpc.WithContextDialer in tests.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial remote store %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	return c.execute(ctx, "", stmts)
}

func (c *Client) execute(ctx context.Context, txID string, stmts []core.Statement) ([]core.ResultSet, error) {
	var out ExecuteResponse
	if err := c.invoke(ctx, "Execute", &ExecuteRequest{TxID: txID, Statements: stmts}, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(stmts) {
		return nil, fmt.Errorf("remote store: %d results for %d statements", len(out.Results), len(stmts))
	}
	return out.Results, nil
}

// Begin opens a transaction on the server. It must be finished with Commit
// or Rollback; the server rolls it back after its timeout otherwise.
func (c *Client) Begin(ctx context.Context) (core.Tx, error) {
	var out BeginResponse
	if err := c.invoke(ctx, "Begin", &BeginRequest{}, &out); err != nil {
		return nil, err
	}
	return &clientTx{c: c, id: out.TxID}, nil
}

// Describe returns the server's dialect name and whether it supports Begin.
func (c *Client) Describe(ctx context.Context) (DescribeResponse, error) {
	var out DescribeResponse
	err := c.invoke(ctx, "Describe", &DescribeRequest{}, &out)
	return out, err
}

type clientTx struct {
	c  *Client
	id string
}

func (t *clientTx) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	return t.c.execute(ctx, t.id, stmts)
}

func (t *clientTx) Commit(ctx context.Context) error {
	return t.c.invoke(ctx, "Commit", &EndRequest{TxID: t.id}, &EndResponse{})
}

func (t *clientTx) Rollback(ctx context.Context) error {
	return t.c.invoke(ctx, "Rollback", &EndRequest{TxID: t.id}, &EndResponse{})
}

// fromStatus turns deadline and cancellation codes back into the context
// errors so callers can match them with errors.Is.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("remote store: %s: %w", st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("remote store: %s: %w", st.Message(), context.Canceled)
	}
	return fmt.Errorf("remote store: %w", err)
}
