package services

import (
	"context"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
)

// SessionInput carries one ping's view of the session.
type SessionInput struct {
	Cookies     *tracking.CookieJar
	Visitor     *tracking.Visitor
	Source      tracking.Source
	HasSignal   bool
	LandingPath *string
	UserAgent   string
	IP          string
	AccountID   *string
	Now         time.Time
}

// SessionManager applies the sliding inactivity window to session cookies.
// Stale sessions are closed lazily, when their id is presented again.
type SessionManager struct {
	sessions  tracking.SessionRepository
	window    time.Duration
	cookieTTL time.Duration
	logger    *logging.ChanneledLogger
}

// NewSessionManager creates a manager for the given inactivity window.
func NewSessionManager(sessions tracking.SessionRepository, window, cookieTTL time.Duration, logger *logging.ChanneledLogger) *SessionManager {
	return &SessionManager{sessions: sessions, window: window, cookieTTL: cookieTTL, logger: logger}
}

// Resolve returns the active session for the ping and whether it was created.
func (m *SessionManager) Resolve(ctx context.Context, in SessionInput) (*tracking.Session, bool, error) {
	session, err := m.reuse(ctx, in)
	if err != nil {
		return nil, false, err
	}

	created := false
	if session == nil {
		if session, err = m.start(ctx, in); err != nil {
			return nil, false, err
		}
		created = true
	}

	in.Cookies.Set(tracking.CookieSessionID, session.ID, m.window)
	in.Cookies.Set(tracking.CookieCurrentSource, string(in.Visitor.CurrentSource), m.cookieTTL)
	return session, created, nil
}

// reuse returns the cookie's session when it is still active, closing it
// first when it went stale. A nil session means a new one is needed.
func (m *SessionManager) reuse(ctx context.Context, in SessionInput) (*tracking.Session, error) {
	id, _ := in.Cookies.Get(tracking.CookieSessionID)
	if !security.IsValidID(id) {
		return nil, nil
	}

	session, err := m.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if session.VisitorID != in.Visitor.ID {
		m.logger.Tracking().Warn("Session cookie belongs to another visitor",
			"sessionId", logging.MaskID(id),
			"visitorId", logging.MaskID(in.Visitor.ID))
		return nil, nil
	}

	if session.IsStale(in.Now, m.window) {
		if err := m.sessions.End(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("session end: %w", err)
		}
		m.logger.Tracking().Debug("Stale session closed",
			"sessionId", logging.MaskID(session.ID),
			"endedAt", session.LastSeenAt)
		return nil, nil
	}
	if !session.IsActive(in.Now, m.window) {
		return nil, nil
	}

	if err := m.sessions.Touch(ctx, session.ID, in.AccountID, in.Now); err != nil {
		return nil, fmt.Errorf("session touch: %w", err)
	}
	if session.AccountID == nil {
		session.AccountID = in.AccountID
	}
	if in.Now.After(session.LastSeenAt) {
		session.LastSeenAt = in.Now
	}
	return session, nil
}

func (m *SessionManager) start(ctx context.Context, in SessionInput) (*tracking.Session, error) {
	accountID := in.AccountID
	if accountID == nil {
		accountID = in.Visitor.AccountID
	}

	session := &tracking.Session{
		ID:          security.GenerateOrderedULID(in.Now),
		VisitorID:   in.Visitor.ID,
		AccountID:   accountID,
		Source:      m.entrySource(in),
		LandingPath: in.LandingPath,
		UserAgent:   in.UserAgent,
		IP:          in.IP,
		StartedAt:   in.Now,
		LastSeenAt:  in.Now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}

	m.logger.Tracking().Debug("Session started",
		"sessionId", logging.MaskID(session.ID),
		"visitorId", logging.MaskID(session.VisitorID),
		"source", session.Source)
	return session, nil
}

// entrySource prefers the ping's own classification, direct hits included,
// then what the visitor last came from.
func (m *SessionManager) entrySource(in SessionInput) tracking.Source {
	switch {
	case in.HasSignal && in.Source != "":
		return in.Source
	case in.Visitor.CurrentSource != "":
		return in.Visitor.CurrentSource
	case in.Visitor.FirstSource != "":
		return in.Visitor.FirstSource
	case in.Source != "":
		return in.Source
	default:
		return tracking.SourceOther
	}
}
