package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

// SQLTrafficRepository stores the coarse traffic log.
type SQLTrafficRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLTrafficRepository creates a new instance of the repository.
func NewSQLTrafficRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLTrafficRepository {
	return &SQLTrafficRepository{db: db, logger: logger}
}

// Store appends a traffic event.
func (r *SQLTrafficRepository) Store(ctx context.Context, event *tracking.TrafficEvent) error {
	const query = `
		INSERT INTO traffic_events (id, occurred_at, source, referrer, path, user_agent, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		event.ID,
		r.db.Timestamp(event.OccurredAt),
		string(event.Source),
		database.NullString(event.Referrer),
		database.NullString(event.Path),
		event.UserAgent,
		event.IP,
	)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Traffic event insert failed", "error", err.Error(), "source", event.Source)
		return fmt.Errorf("failed to store traffic event: %w", err)
	}
	return nil
}

// CountBySource aggregates traffic events per source in an optional range.
func (r *SQLTrafficRepository) CountBySource(ctx context.Context, from, to *time.Time) (tracking.SourceCounts, error) {
	var where []string
	var args []any
	if from != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, r.db.Timestamp(*from))
	}
	if to != nil {
		where = append(where, "occurred_at < ?")
		args = append(args, r.db.Timestamp(*to))
	}

	query := "SELECT source, COUNT(*) FROM traffic_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY source"

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count traffic events: %w", err)
	}
	defer rows.Close()

	counts := make(tracking.SourceCounts)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan traffic count: %w", err)
		}
		s, ok := tracking.ParseSource(source)
		if !ok {
			s = tracking.SourceOther
		}
		counts[s] += n
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))

	return counts, rows.Err()
}
