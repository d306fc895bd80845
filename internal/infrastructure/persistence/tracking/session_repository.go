package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

// SQLSessionRepository is the SQL-based implementation of the SessionRepository.
type SQLSessionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLSessionRepository creates a new instance of the repository.
func NewSQLSessionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLSessionRepository {
	return &SQLSessionRepository{db: db, logger: logger}
}

const sessionColumns = `s.id, s.visitor_id, s.account_id, s.source, s.landing_path,
		s.user_agent, s.ip, s.started_at, s.last_seen_at, s.ended_at`

// FindByID retrieves a Session by its unique identifier.
func (r *SQLSessionRepository) FindByID(ctx context.Context, id string) (*tracking.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = ?`

	start := time.Now()
	row := r.db.QueryRowContext(ctx, r.db.Rebind(query), id)
	session, err := scanSession(row)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Create saves a new Session to the database.
func (r *SQLSessionRepository) Create(ctx context.Context, s *tracking.Session) error {
	const query = `
		INSERT INTO sessions (id, visitor_id, account_id, source, landing_path,
		                      user_agent, ip, started_at, last_seen_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		s.ID,
		s.VisitorID,
		database.NullString(s.AccountID),
		string(s.Source),
		database.NullString(s.LandingPath),
		s.UserAgent,
		s.IP,
		r.db.Timestamp(s.StartedAt),
		r.db.Timestamp(s.LastSeenAt),
		r.db.NullableTimestamp(s.EndedAt),
	)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Session insert failed", "error", err.Error(), "sessionId", logging.MaskID(s.ID))
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Database().Debug("Session insert completed",
		"sessionId", logging.MaskID(s.ID),
		"source", s.Source,
		"duration", time.Since(start))
	return nil
}

// Touch refreshes last_seen_at and links the account if none is set yet.
func (r *SQLSessionRepository) Touch(ctx context.Context, id string, accountID *string, seenAt time.Time) error {
	const query = `
		UPDATE sessions
		SET last_seen_at = CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END,
		    account_id = COALESCE(account_id, ?)
		WHERE id = ?`

	ts := r.db.Timestamp(seenAt)
	return r.exec(ctx, "session_touch", query, ts, ts, database.NullString(accountID), id)
}

// End closes an open session, backdating ended_at to its last activity.
func (r *SQLSessionRepository) End(ctx context.Context, id string) error {
	const query = `
		UPDATE sessions
		SET ended_at = last_seen_at
		WHERE id = ? AND ended_at IS NULL`

	return r.exec(ctx, "session_end", query, id)
}

// List returns session summaries matching the filter, newest first.
func (r *SQLSessionRepository) List(ctx context.Context, filter tracking.SessionFilter) ([]*tracking.SessionSummary, error) {
	var where []string
	var args []any

	if filter.Source != nil {
		where = append(where, "s.source = ?")
		args = append(args, string(*filter.Source))
	}
	if filter.AccountID != nil {
		where = append(where, "s.account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.VisitorID != nil {
		where = append(where, "s.visitor_id = ?")
		args = append(args, *filter.VisitorID)
	}
	if filter.From != nil {
		where = append(where, "s.started_at >= ?")
		args = append(args, r.db.Timestamp(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "s.started_at < ?")
		args = append(args, r.db.Timestamp(*filter.To))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + `,
		COALESCE(v.first_source, s.source),
		(SELECT COUNT(*) FROM session_events e WHERE e.session_id = s.id)
		FROM sessions s
		LEFT JOIN visitors v ON v.id = s.visitor_id`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY s.started_at DESC, s.id DESC LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	query := b.String()
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.Database().Error("Session list query failed", "error", err.Error())
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*tracking.SessionSummary
	for rows.Next() {
		var firstSource string
		var pageCount int
		session, err := scanSession(rows, &firstSource, &pageCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, &tracking.SessionSummary{
			Session:     *session,
			FirstSource: tracking.Source(firstSource),
			PageCount:   pageCount,
		})
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))

	return out, rows.Err()
}

func (r *SQLSessionRepository) exec(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Session update failed", "operation", operation, "error", err.Error())
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return nil
}

// scanSession scans the session columns followed by any extra destinations.
func scanSession(row rowScanner, extra ...any) (*tracking.Session, error) {
	var s tracking.Session
	var accountID, landingPath, userAgent, ip sql.NullString
	var source string
	var startedAt, lastSeenAt, endedAt database.NullTime

	dest := []any{
		&s.ID,
		&s.VisitorID,
		&accountID,
		&source,
		&landingPath,
		&userAgent,
		&ip,
		&startedAt,
		&lastSeenAt,
		&endedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	s.AccountID = database.StringPtr(accountID)
	s.Source = tracking.Source(source)
	s.LandingPath = database.StringPtr(landingPath)
	s.UserAgent = userAgent.String
	s.IP = ip.String
	s.StartedAt = startedAt.Time
	s.LastSeenAt = lastSeenAt.Time
	s.EndedAt = endedAt.Ptr()

	return &s, nil
}
