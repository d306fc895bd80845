package services

import (
	"context"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
)

// AccountResolver turns request credentials into a verified account id.
// It never fails: anything unverifiable is anonymous.
type AccountResolver struct {
	accounts  tracking.AccountRepository
	jwtSecret string
	logger    *logging.ChanneledLogger
}

// NewAccountResolver creates a resolver for tokens signed with jwtSecret.
func NewAccountResolver(accounts tracking.AccountRepository, jwtSecret string, logger *logging.ChanneledLogger) *AccountResolver {
	return &AccountResolver{accounts: accounts, jwtSecret: jwtSecret, logger: logger}
}

// Resolve returns the account id carried by token, or nil.
func (r *AccountResolver) Resolve(ctx context.Context, token string) *string {
	if token == "" || r.jwtSecret == "" {
		return nil
	}

	claims, err := security.ValidateJWT(token, r.jwtSecret)
	if err != nil {
		r.logger.Auth().Debug("Ignoring unverifiable account token", "error", err.Error())
		return nil
	}
	accountID, ok := security.AccountIDFromClaims(claims)
	if !ok {
		return nil
	}

	exists, err := r.accounts.Exists(ctx, accountID)
	if err != nil {
		r.logger.Auth().Warn("Account lookup failed", "accountId", logging.MaskID(accountID), "error", err.Error())
		return nil
	}
	if !exists {
		r.logger.Auth().Debug("Token references unknown account", "accountId", logging.MaskID(accountID))
		return nil
	}
	return &accountID
}
