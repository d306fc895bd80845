package tracking

import (
	"context"
	"time"
)

// VisitorRepository persists Visitor entities.
// Find methods return nil, nil when nothing matches.
type VisitorRepository interface {
	FindByID(ctx context.Context, id string) (*Visitor, error)
	// Create inserts the visitor unless a row with the same id exists.
	Create(ctx context.Context, visitor *Visitor) error
	// Touch refreshes current-touch fields in one statement. A nil source or
	// referrer keeps the stored value; a nil account id never unlinks.
	Touch(ctx context.Context, id string, source *Source, referrer, accountID *string, seenAt time.Time) error
	// TouchReferrer refreshes last_seen_at and, when non-nil, current_referrer.
	TouchReferrer(ctx context.Context, id string, referrer *string, seenAt time.Time) error
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	Source    *Source
	AccountID *string
	VisitorID *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// SessionRepository persists Session entities.
type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, session *Session) error
	// Touch refreshes last_seen_at and attaches accountID when none is set.
	Touch(ctx context.Context, id string, accountID *string, seenAt time.Time) error
	// End backdates ended_at to last_seen_at if the session is still open.
	End(ctx context.Context, id string) error
	List(ctx context.Context, filter SessionFilter) ([]*SessionSummary, error)
}

// EventRepository persists the ordered per-session event log.
type EventRepository interface {
	Append(ctx context.Context, event *Event) error
	ListBySession(ctx context.Context, sessionID string) ([]*Event, error)
}

// TrafficRepository persists the coarse traffic log.
type TrafficRepository interface {
	Store(ctx context.Context, event *TrafficEvent) error
	CountBySource(ctx context.Context, from, to *time.Time) (SourceCounts, error)
}

// AccountRepository is the narrow view of the external accounts table.
type AccountRepository interface {
	Exists(ctx context.Context, accountID string) (bool, error)
	// SetFirstTouch writes each first-touch column only where it is unset.
	SetFirstTouch(ctx context.Context, accountID string, touch FirstTouch) error
}
