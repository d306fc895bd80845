// Package database creates the attribution schema on a fresh or existing store
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

// TableCreator handles the creation of the database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
// Account columns are added to an existing users table when missing.
func (tc *TableCreator) CreateSchema(ctx context.Context, db *database.DB) error {
	ts := "TEXT"
	if db.Dialect == database.DialectPostgres {
		ts = "TIMESTAMPTZ"
	}

	for _, tableSQL := range tables {
		query := strings.ReplaceAll(tableSQL, "{ts}", ts)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", query, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}

	for _, column := range accountColumns {
		if err := tc.addColumn(ctx, db, "users", column); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TableCreator) addColumn(ctx context.Context, db *database.DB, table, column string) error {
	if db.Dialect == database.DialectPostgres {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT", table, column)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
		}
		return nil
	}

	// sqlite has no ADD COLUMN IF NOT EXISTS
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, column)
	if _, err := db.ExecContext(ctx, query); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return nil
		}
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}

var accountColumns = []string{"first_source", "first_referrer", "first_landing_path"}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT,
		created_at {ts}
	)`,
	`CREATE TABLE IF NOT EXISTS visitors (
		id TEXT PRIMARY KEY,
		account_id TEXT,
		first_source TEXT NOT NULL,
		first_referrer TEXT,
		first_landing_path TEXT,
		current_source TEXT NOT NULL,
		current_referrer TEXT,
		created_at {ts} NOT NULL,
		last_seen_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL REFERENCES visitors(id),
		account_id TEXT,
		source TEXT NOT NULL,
		landing_path TEXT,
		user_agent TEXT,
		ip TEXT,
		started_at {ts} NOT NULL,
		last_seen_at {ts} NOT NULL,
		ended_at {ts}
	)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		occurred_at {ts} NOT NULL,
		path TEXT,
		referrer TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS traffic_events (
		id TEXT PRIMARY KEY,
		occurred_at {ts} NOT NULL,
		source TEXT NOT NULL,
		referrer TEXT,
		path TEXT,
		user_agent TEXT,
		ip TEXT
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_visitors_account ON visitors(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_visitor ON sessions(visitor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_events_occurred ON traffic_events(occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_events_source ON traffic_events(source)`,
}
