// Package db provides the Postgres connection and schema for the optional chat archive.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the subset of *pgxpool.Pool the archive needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse archive dsn: %w", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open archive pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return pool, nil
}

// Migrate applies idempotent schema changes for the archive tables and indices.
func Migrate(ctx context.Context, db Execer) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			channel TEXT NOT NULL,
			room_id TEXT NOT NULL,
			user_id TEXT,
			username TEXT,
			message TEXT,
			color TEXT,
			badges JSONB,
			emotes JSONB,
			received_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_channel_received ON chat_messages(channel, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_room_received ON chat_messages(room_id, received_at)`,
	}
	for i, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
