// Package tracking provides the concrete SQL-based implementations of the
// tracking domain repositories (Visitor, Session, Event, Traffic, Account).
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

// SQLVisitorRepository is the SQL-based implementation of the VisitorRepository.
type SQLVisitorRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLVisitorRepository creates a new instance of the repository.
func NewSQLVisitorRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLVisitorRepository {
	return &SQLVisitorRepository{db: db, logger: logger}
}

// FindByID retrieves a Visitor by its unique identifier.
func (r *SQLVisitorRepository) FindByID(ctx context.Context, id string) (*tracking.Visitor, error) {
	const query = `
		SELECT id, account_id, first_source, first_referrer, first_landing_path,
		       current_source, current_referrer, created_at, last_seen_at
		FROM visitors
		WHERE id = ?`

	start := time.Now()
	row := r.db.QueryRowContext(ctx, r.db.Rebind(query), id)
	visitor, err := scanVisitor(row)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to load visitor: %w", err)
	}
	return visitor, nil
}

// Create saves a new Visitor. An existing row with the same id is left as is.
func (r *SQLVisitorRepository) Create(ctx context.Context, v *tracking.Visitor) error {
	const query = `
		INSERT INTO visitors (id, account_id, first_source, first_referrer, first_landing_path,
		                      current_source, current_referrer, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		v.ID,
		database.NullString(v.AccountID),
		string(v.FirstSource),
		database.NullString(v.FirstReferrer),
		database.NullString(v.FirstLandingPath),
		string(v.CurrentSource),
		database.NullString(v.CurrentReferrer),
		r.db.Timestamp(v.CreatedAt),
		r.db.Timestamp(v.LastSeenAt),
	)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Visitor insert failed", "error", err.Error(), "visitorId", logging.MaskID(v.ID))
		return fmt.Errorf("failed to create visitor: %w", err)
	}

	r.logger.Database().Debug("Visitor insert completed", "visitorId", logging.MaskID(v.ID), "duration", time.Since(start))
	return nil
}

// Touch refreshes current-touch fields without ever touching first-touch columns.
// last_seen_at never moves backwards when pings arrive out of order.
func (r *SQLVisitorRepository) Touch(ctx context.Context, id string, source *tracking.Source, referrer, accountID *string, seenAt time.Time) error {
	const query = `
		UPDATE visitors
		SET last_seen_at = CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END,
		    current_source = COALESCE(?, current_source),
		    current_referrer = COALESCE(?, current_referrer),
		    account_id = COALESCE(account_id, ?)
		WHERE id = ?`

	var src any
	if source != nil {
		src = string(*source)
	}

	ts := r.db.Timestamp(seenAt)
	return r.exec(ctx, "visitor_touch", query,
		ts, ts,
		src,
		database.NullString(referrer),
		database.NullString(accountID),
		id,
	)
}

// TouchReferrer refreshes last_seen_at and the current referrer when given.
func (r *SQLVisitorRepository) TouchReferrer(ctx context.Context, id string, referrer *string, seenAt time.Time) error {
	const query = `
		UPDATE visitors
		SET last_seen_at = CASE WHEN last_seen_at > ? THEN last_seen_at ELSE ? END,
		    current_referrer = COALESCE(?, current_referrer)
		WHERE id = ?`

	ts := r.db.Timestamp(seenAt)
	return r.exec(ctx, "visitor_touch_referrer", query,
		ts, ts,
		database.NullString(referrer),
		id,
	)
}

func (r *SQLVisitorRepository) exec(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		r.logger.Database().Error("Visitor update failed", "operation", operation, "error", err.Error())
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanVisitor is a helper function to scan a row into a Visitor struct.
func scanVisitor(row rowScanner) (*tracking.Visitor, error) {
	var v tracking.Visitor
	var accountID, firstReferrer, firstLanding, currentReferrer sql.NullString
	var firstSource, currentSource string
	var createdAt, lastSeenAt database.NullTime

	err := row.Scan(
		&v.ID,
		&accountID,
		&firstSource,
		&firstReferrer,
		&firstLanding,
		&currentSource,
		&currentReferrer,
		&createdAt,
		&lastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}

	v.AccountID = database.StringPtr(accountID)
	v.FirstSource = tracking.Source(firstSource)
	v.FirstReferrer = database.StringPtr(firstReferrer)
	v.FirstLandingPath = database.StringPtr(firstLanding)
	v.CurrentSource = tracking.Source(currentSource)
	v.CurrentReferrer = database.StringPtr(currentReferrer)
	v.CreatedAt = createdAt.Time
	v.LastSeenAt = lastSeenAt.Time

	return &v, nil
}
