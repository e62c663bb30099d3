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
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"seqgen"
	"seqgen/internal/sequencer/core"
)

// PostgresDialect renders the allocation templates as PostgreSQL. Each
// grouping is a table with a text key column and a bigint value column.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func qi(s string) string { return pq.QuoteIdentifier(s) }

func (PostgresDialect) UniqueConstraint(grouping, column string) []core.Template {
	// the value column name is not known here; new tables get next_val and
	// existing tables are left alone
	return []core.Template{
		{Text: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT NOT NULL, %s BIGINT)",
			qi(grouping), qi(column), qi(seqgen.DefaultValueColumn))},
		{Text: fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			qi(grouping+"_"+column+"_key"), qi(grouping), qi(column))},
	}
}

func (PostgresDialect) MergeCounter(key seqgen.Key, initial int64) core.Template {
	return core.Template{Text: fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, %d) ON CONFLICT (%s) DO NOTHING",
		qi(key.Grouping), qi(key.KeyColumn), qi(key.ValueColumn), initial, qi(key.KeyColumn))}
}

func (PostgresDialect) IncrementCounter(key seqgen.Key, increment int64) core.Template {
	return core.Template{
		Text: fmt.Sprintf("UPDATE %s SET %s = %s + %d WHERE %s = $1 RETURNING %s",
			qi(key.Grouping), qi(key.ValueColumn), qi(key.ValueColumn), increment, qi(key.KeyColumn), qi(key.ValueColumn)),
		Shape: core.ShapeRow,
	}
}

func (PostgresDialect) LocateSequence(key seqgen.Key) core.Template {
	return core.Template{
		Text:  fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 FOR UPDATE", qi(key.Grouping), qi(key.KeyColumn)),
		Shape: core.ShapeRow,
	}
}

func (PostgresDialect) IncrementSequence(key seqgen.Key, initial, increment int64) core.Template {
	return core.Template{
		Text: fmt.Sprintf("UPDATE %s SET %s = COALESCE(%s, %d) + %d WHERE %s = $1 RETURNING %s",
			qi(key.Grouping), qi(key.ValueColumn), qi(key.ValueColumn), initial, increment, qi(key.KeyColumn), qi(key.ValueColumn)),
		Shape: core.ShapeRow,
	}
}

func (PostgresDialect) CreateSequence(key seqgen.Key, initial *int64) core.Template {
	if initial == nil {
		return core.Template{Text: fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING",
			qi(key.Grouping), qi(key.KeyColumn), qi(key.KeyColumn))}
	}
	return core.Template{Text: fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, %s) ON CONFLICT (%s) DO NOTHING",
		qi(key.Grouping), qi(key.KeyColumn), qi(key.ValueColumn), strconv.FormatInt(*initial, 10), qi(key.KeyColumn))}
}

// PostgresStore runs each batch in its own READ COMMITTED transaction. The
// row lock taken by the update (or by LocateSequence) serializes concurrent
// batches on the same record until commit.
type PostgresStore struct {
	db *sql.DB
	// fallback when ctx has no deadline
	defaultTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, defaultTimeout: 10 * time.Second}
}

// OpenPostgres opens a lib/pq connection pool for dsn.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := tx.Execute(ctx, stmts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Begin implements core.TxStore. The transaction stays open across Execute
// calls until Commit or Rollback, and is bound to ctx: database/sql rolls it
// back once ctx is done. A ctx without deadline gets the store default.
func (p *PostgresStore) Begin(ctx context.Context) (core.Tx, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc = func() {}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		cancel()
		return nil, err
	}
	return &postgresTx{tx: tx, cancel: cancel}, nil
}

type postgresTx struct {
	tx     *sql.Tx
	cancel context.CancelFunc
}

func (t *postgresTx) Execute(ctx context.Context, stmts []core.Statement) ([]core.ResultSet, error) {
	out := make([]core.ResultSet, len(stmts))
	for i, st := range stmts {
		if st.Shape == core.ShapeNone {
			if _, err := t.tx.ExecContext(ctx, st.Text, st.Args...); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			continue
		}
		rs, err := t.query(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		out[i] = rs
	}
	return out, nil
}

func (t *postgresTx) query(ctx context.Context, st core.Statement) (core.ResultSet, error) {
	rows, err := t.tx.QueryContext(ctx, st.Text, st.Args...)
	if err != nil {
		return core.ResultSet{}, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return core.ResultSet{}, err
	}
	rs := core.ResultSet{Columns: cols}
	for rows.Next() {
		row := make(core.Row, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return core.ResultSet{}, err
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

func (t *postgresTx) Commit(context.Context) error {
	defer t.cancel()
	return t.tx.Commit()
}

func (t *postgresTx) Rollback(context.Context) error {
	defer t.cancel()
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
