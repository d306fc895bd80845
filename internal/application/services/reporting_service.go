package services

import (
	"context"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
)

// Listing bounds for session queries.
const (
	DefaultSessionLimit = 50
	MaxSessionLimit     = 200
)

// DashboardCounts is the coarse traffic breakdown shown on the admin dashboard.
type DashboardCounts struct {
	Google    int `json:"traffic_google"`
	Instagram int `json:"traffic_instagram"`
	YouTube   int `json:"traffic_youtube"`
	Others    int `json:"traffic_others"`
	Total     int `json:"traffic_total"`
}

// SessionDetail is a single session with its computed state.
type SessionDetail struct {
	*tracking.Session
	Active bool `json:"active"`
}

// ReportingService answers read-only queries over the tracking tables.
type ReportingService struct {
	visitors    tracking.VisitorRepository
	sessions    tracking.SessionRepository
	events      tracking.EventRepository
	traffic     tracking.TrafficRepository
	window      time.Duration
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	now         func() time.Time
}

// NewReportingService creates a reporting service.
func NewReportingService(repos TrackingRepositories, window time.Duration, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *ReportingService {
	return &ReportingService{
		visitors:    repos.Visitors,
		sessions:    repos.Sessions,
		events:      repos.Events,
		traffic:     repos.Traffic,
		window:      window,
		logger:      logger,
		perfTracker: perfTracker,
		now:         time.Now,
	}
}

// ClampLimit applies the default and bounds to a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSessionLimit
	case limit > MaxSessionLimit:
		return MaxSessionLimit
	default:
		return limit
	}
}

// ListSessions returns session summaries, newest first.
func (r *ReportingService) ListSessions(ctx context.Context, filter tracking.SessionFilter) ([]*tracking.SessionSummary, error) {
	marker := r.perfTracker.StartOperation("report:sessions")
	defer marker.Complete()

	filter.Limit = ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	summaries, err := r.sessions.List(ctx, filter)
	if err != nil {
		marker.SetError(err)
		r.logger.Reporting().Error("Session listing failed", "error", err.Error())
		return nil, err
	}

	now := r.now()
	for _, s := range summaries {
		s.Active = s.Session.IsActive(now, r.window)
	}
	if summaries == nil {
		summaries = []*tracking.SessionSummary{}
	}
	return summaries, nil
}

// AccountSessions lists the sessions linked to an account.
func (r *ReportingService) AccountSessions(ctx context.Context, accountID string, limit, offset int) ([]*tracking.SessionSummary, error) {
	return r.ListSessions(ctx, tracking.SessionFilter{AccountID: &accountID, Limit: limit, Offset: offset})
}

// GetSession returns a session or nil when it does not exist.
func (r *ReportingService) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	session, err := r.sessions.FindByID(ctx, id)
	if err != nil {
		r.logger.Reporting().Error("Session lookup failed", "sessionId", logging.MaskID(id), "error", err.Error())
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return &SessionDetail{Session: session, Active: session.IsActive(r.now(), r.window)}, nil
}

// SessionEvents returns the ordered event log of a session. A nil slice
// with a nil error means the session does not exist.
func (r *ReportingService) SessionEvents(ctx context.Context, id string) ([]*tracking.Event, error) {
	session, err := r.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	events, err := r.events.ListBySession(ctx, id)
	if err != nil {
		r.logger.Reporting().Error("Event listing failed", "sessionId", logging.MaskID(id), "error", err.Error())
		return nil, err
	}
	if events == nil {
		events = []*tracking.Event{}
	}
	return events, nil
}

// GetVisitor returns a visitor or nil when it does not exist.
func (r *ReportingService) GetVisitor(ctx context.Context, id string) (*tracking.Visitor, error) {
	return r.visitors.FindByID(ctx, id)
}

// Dashboard counts coarse traffic per source within [from, to).
func (r *ReportingService) Dashboard(ctx context.Context, from, to *time.Time) (*DashboardCounts, error) {
	marker := r.perfTracker.StartOperation("report:dashboard")
	defer marker.Complete()

	if from != nil && to != nil && !from.Before(*to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidRange)
	}

	counts, err := r.traffic.CountBySource(ctx, from, to)
	if err != nil {
		marker.SetError(err)
		r.logger.Reporting().Error("Traffic counts failed", "error", err.Error())
		return nil, err
	}

	d := &DashboardCounts{
		Google:    counts[tracking.SourceGoogle],
		Instagram: counts[tracking.SourceInstagram],
		YouTube:   counts[tracking.SourceYouTube],
		Others:    counts[tracking.SourceOther],
	}
	d.Total = d.Google + d.Instagram + d.YouTube + d.Others
	return d, nil
}
