package services

import (
	"context"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

// AttributionPropagator copies a visitor's first touch onto its account.
type AttributionPropagator struct {
	accounts tracking.AccountRepository
	logger   *logging.ChanneledLogger
}

// NewAttributionPropagator creates a propagator.
func NewAttributionPropagator(accounts tracking.AccountRepository, logger *logging.ChanneledLogger) *AttributionPropagator {
	return &AttributionPropagator{accounts: accounts, logger: logger}
}

// Propagate writes first-touch columns the account does not have yet.
// Failures are logged and never reach the caller.
func (p *AttributionPropagator) Propagate(ctx context.Context, accountID string, visitor *tracking.Visitor) {
	if accountID == "" || visitor == nil {
		return
	}
	if err := p.accounts.SetFirstTouch(ctx, accountID, tracking.FirstTouchOf(visitor)); err != nil {
		p.logger.Tracking().Warn("First-touch propagation failed",
			"accountId", logging.MaskID(accountID),
			"visitorId", logging.MaskID(visitor.ID),
			"error", err.Error())
	}
}
