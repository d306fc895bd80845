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

// SQLAccountRepository reads and annotates rows of the external users table.
type SQLAccountRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLAccountRepository creates a new instance of the repository.
func NewSQLAccountRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLAccountRepository {
	return &SQLAccountRepository{db: db, logger: logger}
}

// Exists reports whether an account with the id is present.
func (r *SQLAccountRepository) Exists(ctx context.Context, accountID string) (bool, error) {
	const query = `SELECT 1 FROM users WHERE id = ?`

	var one int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), accountID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return true, nil
}

// SetFirstTouch fills first-touch columns that are still NULL. The row is only
// written while first_source is unset, so the snapshot of one visitor is never
// mixed with another's.
func (r *SQLAccountRepository) SetFirstTouch(ctx context.Context, accountID string, touch tracking.FirstTouch) error {
	const query = `
		UPDATE users
		SET first_source = COALESCE(first_source, ?),
		    first_referrer = COALESCE(first_referrer, ?),
		    first_landing_path = COALESCE(first_landing_path, ?)
		WHERE id = ? AND first_source IS NULL`

	var source any
	if touch.Source != "" {
		source = string(touch.Source)
	}

	start := time.Now()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		source,
		database.NullString(touch.Referrer),
		database.NullString(touch.LandingPath),
		accountID,
	)
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to set account first touch: %w", err)
	}
	return nil
}
