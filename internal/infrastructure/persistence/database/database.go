// Package database provides the core functionality for creating and managing
// database connections across the supported SQL dialects.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "pgx"
)

// timeLayout is fixed-width so stored text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Settings selects and tunes a store connection.
type Settings struct {
	DatabaseURL      string
	TursoURL         string
	TursoToken       string
	SQLitePath       string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	ConnectTimeout   time.Duration
	SkipDirectoryFix bool
}

// Resolve picks the driver and data source name for the settings.
// postgres:// URLs use pgx, libsql:// (or https:// with a token) and Turso
// settings use libsql,
// anything else falls back to a local sqlite3 file.
func (s Settings) Resolve() (Dialect, string) {
	url := strings.TrimSpace(s.DatabaseURL)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DialectPostgres, url
	case strings.HasPrefix(url, "libsql://"),
		strings.HasPrefix(url, "https://") && s.TursoToken != "":
		return DialectLibSQL, withAuthToken(url, s.TursoToken)
	case s.TursoURL != "" && s.TursoToken != "":
		return DialectLibSQL, withAuthToken(s.TursoURL, s.TursoToken)
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), url == ":memory:":
		return DialectSQLite, url
	default:
		return DialectSQLite, s.SQLitePath
	}
}

func withAuthToken(url, token string) string {
	if token == "" || strings.Contains(url, "authToken=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "authToken=" + token
}

// NewConnection establishes a new database connection for the specified dialect.
func NewConnection(dialect Dialect, dataSourceName string) (*DB, error) {
	db, err := sql.Open(string(dialect), dataSourceName)
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Open resolves the settings, connects, applies pool limits and logs timing.
func Open(ctx context.Context, settings Settings, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	dialect, dsn := settings.Resolve()
	logger.Database().Debug("Creating new database connection", "dialect", dialect)

	if dialect == DialectSQLite && !settings.SkipDirectoryFix && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		logger.Database().Error("Failed to open database connection", "error", err.Error(), "dialect", dialect)
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect, err)
	}

	if settings.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(settings.MaxIdleConns)
	}
	if settings.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}
	if settings.ConnMaxIdleTime > 0 {
		conn.SetConnMaxIdleTime(settings.ConnMaxIdleTime)
	}

	timeout := settings.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		logger.Database().Error("Database ping failed", "error", err.Error(), "dialect", dialect)
		return nil, fmt.Errorf("%s ping failed: %w", dialect, err)
	}

	duration := time.Since(start)
	logger.Database().Info("Database connection established", "dialect", dialect, "duration", duration)
	CheckAndLogSlowQuery(logger, "DATABASE_CONNECTION", duration)

	return &DB{DB: conn, Dialect: dialect}, nil
}

// Rebind rewrites ? placeholders into the dialect's native form.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Timestamp converts t into the value the dialect stores for time columns.
func (db *DB) Timestamp(t time.Time) any {
	if db.Dialect == DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

// NullableTimestamp is Timestamp for optional values.
func (db *DB) NullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return db.Timestamp(*t)
}
