package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

// SQLEventRepository handles the append-only per-session event log.
type SQLEventRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLEventRepository creates a new instance of the repository.
func NewSQLEventRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLEventRepository {
	return &SQLEventRepository{db: db, logger: logger}
}

// Append saves a navigation event.
func (r *SQLEventRepository) Append(ctx context.Context, event *tracking.Event) error {
	const query = `
		INSERT INTO session_events (id, session_id, occurred_at, path, referrer)
		VALUES (?, ?, ?, ?, ?)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		event.ID,
		event.SessionID,
		r.db.Timestamp(event.OccurredAt),
		database.NullString(event.Path),
		database.NullString(event.Referrer),
	)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Session event insert failed",
			"error", err.Error(),
			"sessionId", logging.MaskID(event.SessionID))
		return fmt.Errorf("failed to append session event: %w", err)
	}
	return nil
}

// ListBySession returns a session's events in occurrence order.
func (r *SQLEventRepository) ListBySession(ctx context.Context, sessionID string) ([]*tracking.Event, error) {
	const query = `
		SELECT id, session_id, occurred_at, path, referrer
		FROM session_events
		WHERE session_id = ?
		ORDER BY occurred_at ASC, id ASC`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	var events []*tracking.Event
	for rows.Next() {
		var e tracking.Event
		var occurredAt database.NullTime
		var path, referrer sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &occurredAt, &path, &referrer); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		e.OccurredAt = occurredAt.Time
		e.Path = database.StringPtr(path)
		e.Referrer = database.StringPtr(referrer)
		events = append(events, &e)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))

	return events, rows.Err()
}
