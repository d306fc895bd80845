// Package services provides application-level orchestration services
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/messaging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
)

// Field limits applied before anything is classified or stored.
const (
	MaxReferrerLength  = 2048
	MaxPathLength      = 512
	MaxUserAgentLength = 512
	MaxIPLength        = 128
	maxHintLength      = 64
)

// TrackRequest is one navigation ping as read off the wire. Referrer is
// already resolved against the Referer header by the transport: nil means
// the ping said nothing about its origin, while a blank value marks a
// direct hit.
type TrackRequest struct {
	Referrer     *string
	Path         *string
	SourceHint   *string
	UserAgent    string
	IP           string
	Cookies      map[string]string
	AccountToken string
}

// TrackResult is what the transport reports back. IDs are empty when the
// rich pipeline failed.
type TrackResult struct {
	VisitorID string
	SessionID string
	Source    tracking.Source
	Cookies   []tracking.CookieWrite
}

// TrackingConfig holds the tunables of the pipeline.
type TrackingConfig struct {
	InactivityWindow time.Duration
	CookieTTL        time.Duration
	QueryTimeout     time.Duration
}

// TrackingService runs the attribution pipeline for each ping.
type TrackingService struct {
	visitors   *VisitorResolver
	sessions   *SessionManager
	events     *EventRecorder
	propagator *AttributionPropagator
	accounts   *AccountResolver
	traffic    tracking.TrafficRepository
	publisher  messaging.Publisher

	queryTimeout time.Duration
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
	now          func() time.Time
}

// TrackingRepositories groups the stores the pipeline writes to.
type TrackingRepositories struct {
	Visitors tracking.VisitorRepository
	Sessions tracking.SessionRepository
	Events   tracking.EventRepository
	Traffic  tracking.TrafficRepository
	Accounts tracking.AccountRepository
}

// NewTrackingService wires the pipeline. publisher may be nil.
func NewTrackingService(repos TrackingRepositories, cfg TrackingConfig, jwtSecret string, publisher messaging.Publisher, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *TrackingService {
	return &TrackingService{
		visitors:     NewVisitorResolver(repos.Visitors, cfg.CookieTTL, logger),
		sessions:     NewSessionManager(repos.Sessions, cfg.InactivityWindow, cfg.CookieTTL, logger),
		events:       NewEventRecorder(repos.Events, repos.Visitors),
		propagator:   NewAttributionPropagator(repos.Accounts, logger),
		accounts:     NewAccountResolver(repos.Accounts, jwtSecret, logger),
		traffic:      repos.Traffic,
		publisher:    publisher,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
		perfTracker:  perfTracker,
		now:          time.Now,
	}
}

// SetClock replaces the pipeline's time source.
func (s *TrackingService) SetClock(now func() time.Time) {
	s.now = now
}

type ping struct {
	referrer  *string
	path      *string
	hint      string
	userAgent string
	ip        string
	source    tracking.Source
	hasSignal bool
	now       time.Time
}

type richOutcome struct {
	visitor    *tracking.Visitor
	session    *tracking.Session
	newVisitor bool
	newSession bool
}

// Track never returns an error: the rich pipeline runs behind a recovered
// failure boundary and the coarse traffic log is written regardless.
func (s *TrackingService) Track(ctx context.Context, req TrackRequest) *TrackResult {
	marker := s.perfTracker.StartOperation("track:ping")
	defer marker.Complete()

	p := s.normalize(req)
	jar := tracking.NewCookieJar(req.Cookies)
	result := &TrackResult{Source: p.source}

	outcome, err := s.runRich(ctx, p, jar, req.AccountToken)
	if err != nil {
		marker.SetError(err)
		s.logger.Tracking().Error("Tracking pipeline failed, falling back to traffic log",
			"source", p.source,
			"error", err.Error())
	} else {
		result.VisitorID = outcome.visitor.ID
		result.SessionID = outcome.session.ID
	}

	s.storeTraffic(ctx, p)
	result.Cookies = jar.Writes()

	if err == nil {
		s.publish(ctx, p, outcome)
	}
	return result
}

func (s *TrackingService) normalize(req TrackRequest) ping {
	p := ping{
		referrer:  truncatePtr(req.Referrer, MaxReferrerLength),
		path:      truncatePtr(req.Path, MaxPathLength),
		userAgent: truncate(req.UserAgent, MaxUserAgentLength),
		ip:        truncate(req.IP, MaxIPLength),
		now:       s.now().UTC(),
	}
	if req.SourceHint != nil {
		p.hint = truncate(strings.TrimSpace(*req.SourceHint), maxHintLength)
	}

	referrer := ""
	if p.referrer != nil {
		referrer = *p.referrer
	}
	p.source = tracking.Classify(p.hint, referrer)
	p.hasSignal = p.hint != "" || req.Referrer != nil
	return p
}

func (s *TrackingService) runRich(ctx context.Context, p ping, jar *tracking.CookieJar, token string) (out *richOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracking pipeline panic: %v", r)
		}
	}()

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	accountID := s.accounts.Resolve(ctx, token)

	visitor, newVisitor, err := s.visitors.Resolve(ctx, VisitorInput{
		Cookies:     jar,
		AccountID:   accountID,
		Source:      p.source,
		HasSignal:   p.hasSignal,
		Referrer:    p.referrer,
		LandingPath: p.path,
		Now:         p.now,
	})
	if err != nil {
		return nil, err
	}

	session, newSession, err := s.sessions.Resolve(ctx, SessionInput{
		Cookies:     jar,
		Visitor:     visitor,
		Source:      p.source,
		HasSignal:   p.hasSignal,
		LandingPath: p.path,
		UserAgent:   p.userAgent,
		IP:          p.ip,
		AccountID:   accountID,
		Now:         p.now,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.events.Record(ctx, session.ID, visitor.ID, p.path, p.referrer, p.now); err != nil {
		return nil, err
	}

	if accountID != nil {
		s.propagator.Propagate(ctx, *accountID, visitor)
	}

	return &richOutcome{visitor: visitor, session: session, newVisitor: newVisitor, newSession: newSession}, nil
}

// storeTraffic gets its own deadline so a timed-out rich path cannot starve it.
func (s *TrackingService) storeTraffic(ctx context.Context, p ping) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Tracking().Error("Traffic log write panicked", "panic", fmt.Sprint(r))
		}
	}()

	ctx = context.WithoutCancel(ctx)
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	event := &tracking.TrafficEvent{
		ID:         security.GenerateOrderedULID(p.now),
		OccurredAt: p.now,
		Source:     p.source,
		Referrer:   p.referrer,
		Path:       p.path,
		UserAgent:  p.userAgent,
		IP:         p.ip,
	}
	if err := s.traffic.Store(ctx, event); err != nil {
		s.logger.Tracking().Error("Traffic log write failed", "error", err.Error())
	}
}

func (s *TrackingService) publish(ctx context.Context, p ping, out *richOutcome) {
	if s.publisher == nil {
		return
	}
	event := messaging.FeedEvent{
		Type:       messaging.FeedEventType,
		VisitorID:  out.visitor.ID,
		SessionID:  out.session.ID,
		Source:     string(out.session.Source),
		NewSession: out.newSession,
		NewVisitor: out.newVisitor,
		OccurredAt: p.now,
	}
	if p.path != nil {
		event.Path = *p.path
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Feed().Warn("Feed publish failed", "error", err.Error())
	}
}

// truncate cuts s to at most limit bytes without splitting a rune. Input
// that is not valid UTF-8 near the cut is cut at the byte limit.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for cut := limit; cut >= 0 && cut > limit-utf8.UTFMax; cut-- {
		if utf8.RuneStart(s[cut]) {
			return s[:cut]
		}
	}
	return s[:limit]
}

// truncatePtr also maps blank values to nil.
func truncatePtr(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(truncate(strings.TrimSpace(*s), limit))
	if t == "" {
		return nil
	}
	return &t
}
