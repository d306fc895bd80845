package services

import (
	"time"

	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig holds the admin credentials.
type AuthConfig struct {
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

// AuthService handles admin authentication for the reporting API
type AuthService struct {
	config      AuthConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewAuthService creates a new authentication service
func NewAuthService(config AuthConfig, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *AuthService {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	return &AuthService{config: config, logger: logger, perfTracker: perfTracker}
}

// AuthResult holds authentication result data
type AuthResult struct {
	Token   string `json:"token,omitempty"`
	Role    string `json:"role,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IsConfigured reports whether an admin password hash is set.
func (a *AuthService) IsConfigured() bool {
	return a.config.PasswordHash != "" && a.config.JWTSecret != ""
}

// AuthenticateAdmin validates the admin password and issues a token
func (a *AuthService) AuthenticateAdmin(password string) *AuthResult {
	marker := a.perfTracker.StartOperation("auth:admin_login")
	defer marker.Complete()

	if !a.IsConfigured() {
		marker.SetSuccess(false)
		return &AuthResult{Success: false, Error: "Admin login is not configured"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.config.PasswordHash), []byte(password)); err != nil {
		marker.SetSuccess(false)
		a.logger.Auth().Warn("Admin login rejected")
		return &AuthResult{Success: false, Error: "Invalid credentials"}
	}

	token, err := security.GenerateAdminToken(a.config.JWTSecret, a.config.TokenTTL)
	if err != nil {
		marker.SetError(err)
		a.logger.Auth().Error("Admin token generation failed", "error", err.Error())
		return &AuthResult{Success: false, Error: "Token generation failed"}
	}

	a.logger.Auth().Info("Admin login succeeded")
	return &AuthResult{Token: token, Role: "admin", Success: true}
}

// ValidateAdminToken reports whether token is a live admin token.
func (a *AuthService) ValidateAdminToken(token string) bool {
	if token == "" || a.config.JWTSecret == "" {
		return false
	}
	claims, err := security.ValidateJWT(token, a.config.JWTSecret)
	if err != nil {
		a.logger.Auth().Debug("Admin token rejected", "error", err.Error())
		return false
	}
	return security.IsAdminClaims(claims)
}
