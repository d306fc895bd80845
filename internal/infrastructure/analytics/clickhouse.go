// Package analytics mirrors the coarse traffic log into ClickHouse for
// aggregate queries outside the primary store.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/peakself/attribution-go/internal/domain/tracking"
)

// ClickHouseSettings selects the mirror server.
type ClickHouseSettings struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// ClickHouseWriter writes traffic batches over the native protocol.
type ClickHouseWriter struct {
	Conn clickhouse.Conn
}

// NewClickHouseWriter connects, pings and ensures the mirror table exists.
func NewClickHouseWriter(ctx context.Context, settings ClickHouseSettings) (*ClickHouseWriter, error) {
	if settings.DialTimeout <= 0 {
		settings.DialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{settings.Addr},
		Auth: clickhouse.Auth{
			Database: settings.Database,
			Username: settings.Username,
			Password: settings.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "attribution-go", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: settings.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, createTrafficTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse traffic table: %w", err)
	}

	return &ClickHouseWriter{Conn: conn}, nil
}

const createTrafficTable = `
	CREATE TABLE IF NOT EXISTS traffic_events (
		id String,
		occurred_at DateTime64(3, 'UTC'),
		source LowCardinality(String),
		referrer Nullable(String),
		path Nullable(String),
		user_agent String,
		ip String
	) ENGINE = MergeTree
	ORDER BY (occurred_at, id)`

// WriteBatch inserts events in a single batch.
func (w *ClickHouseWriter) WriteBatch(ctx context.Context, events []tracking.TrafficEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := w.Conn.PrepareBatch(ctx, `
		INSERT INTO traffic_events (id, occurred_at, source, referrer, path, user_agent, ip)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(e.ID, e.OccurredAt, string(e.Source), e.Referrer, e.Path, e.UserAgent, e.IP); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append traffic event %s: %w", e.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.Conn.Close()
}
