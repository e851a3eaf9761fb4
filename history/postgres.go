/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS call_records (
		call_id      TEXT PRIMARY KEY,
		caller_name  TEXT NOT NULL,
		caller_id    TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		answered_at  TIMESTAMPTZ,
		ended_at     TIMESTAMPTZ NOT NULL,
		final_state  TEXT NOT NULL,
		cause        TEXT NOT NULL
	)
`

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists records in a call_records table.
type PostgresStore struct {
	db    querier
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL and creates the table if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &PostgresStore{db: pool, close: pool.Close}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the call_records table.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create call_records table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	query := `
		INSERT INTO call_records (
			call_id, caller_name, caller_id, created_at,
			answered_at, ended_at, final_state, cause
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO UPDATE SET
			answered_at = EXCLUDED.answered_at,
			ended_at = EXCLUDED.ended_at,
			final_state = EXCLUDED.final_state,
			cause = EXCLUDED.cause
	`

	_, err := p.db.Exec(ctx, query,
		record.CallID, record.CallerName, record.CallerID, record.CreatedAt,
		nullableTime(record.AnsweredAt), record.EndedAt, record.FinalState, record.Cause,
	)
	if err != nil {
		return fmt.Errorf("failed to save call record %s: %w", record.CallID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, callID string) (Record, error) {
	query := `
		SELECT call_id, caller_name, caller_id, created_at,
		       answered_at, ended_at, final_state, cause
		FROM call_records
		WHERE call_id = $1
	`

	record, err := scanRecord(p.db.QueryRow(ctx, query, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load call record %s: %w", callID, err)
	}
	return record, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT call_id, caller_name, caller_id, created_at,
		       answered_at, ended_at, final_state, cause
		FROM call_records
		ORDER BY ended_at DESC
		LIMIT $1
	`

	rows, err := p.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	if p.close != nil {
		p.close()
	}
}

func scanRecord(row pgx.Row) (Record, error) {
	var record Record
	var answeredAt *time.Time
	err := row.Scan(
		&record.CallID, &record.CallerName, &record.CallerID, &record.CreatedAt,
		&answeredAt, &record.EndedAt, &record.FinalState, &record.Cause,
	)
	if err != nil {
		return Record{}, err
	}
	if answeredAt != nil {
		record.AnsweredAt = *answeredAt
	}
	return record, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
