// Package tracking defines the visitor, session and event entities of the
// attribution engine and the repositories that persist them.
package tracking

import "time"

// Visitor is a long-lived browser or device identity.
// FirstSource, FirstReferrer and FirstLandingPath are write-once.
type Visitor struct {
	ID               string    `json:"id"`
	AccountID        *string   `json:"accountId,omitempty"`
	FirstSource      Source    `json:"firstSource"`
	FirstReferrer    *string   `json:"firstReferrer,omitempty"`
	FirstLandingPath *string   `json:"firstLandingPath,omitempty"`
	CurrentSource    Source    `json:"currentSource"`
	CurrentReferrer  *string   `json:"currentReferrer,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	LastSeenAt       time.Time `json:"lastSeenAt"`
}

// Session is a bounded browsing episode belonging to one Visitor.
// Source and LandingPath are fixed at creation.
type Session struct {
	ID          string     `json:"id"`
	VisitorID   string     `json:"visitorId"`
	AccountID   *string    `json:"accountId,omitempty"`
	Source      Source     `json:"source"`
	LandingPath *string    `json:"landingPath,omitempty"`
	UserAgent   string     `json:"userAgent"`
	IP          string     `json:"ip"`
	StartedAt   time.Time  `json:"startedAt"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// IsActive reports whether the session is still open at now for the given
// inactivity window.
func (s *Session) IsActive(now time.Time, window time.Duration) bool {
	if s == nil || s.EndedAt != nil {
		return false
	}
	return now.Sub(s.LastSeenAt) <= window
}

// IsStale reports whether the session has outlived its window but has not
// been closed yet.
func (s *Session) IsStale(now time.Time, window time.Duration) bool {
	return s != nil && s.EndedAt == nil && now.Sub(s.LastSeenAt) > window
}

// Event is one navigation inside a Session.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	OccurredAt time.Time `json:"occurredAt"`
	Path       *string   `json:"path,omitempty"`
	Referrer   *string   `json:"referrer,omitempty"`
}

// TrafficEvent is the coarse, session-independent ping log.
type TrafficEvent struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurredAt"`
	Source     Source    `json:"source"`
	Referrer   *string   `json:"referrer,omitempty"`
	Path       *string   `json:"path,omitempty"`
	UserAgent  string    `json:"userAgent"`
	IP         string    `json:"ip"`
}

// FirstTouch is the attribution snapshot copied onto an account.
type FirstTouch struct {
	Source      Source  `json:"firstSource"`
	Referrer    *string `json:"firstReferrer,omitempty"`
	LandingPath *string `json:"firstLandingPath,omitempty"`
}

// FirstTouchOf returns the visitor's immutable first-touch fields.
func FirstTouchOf(v *Visitor) FirstTouch {
	return FirstTouch{
		Source:      v.FirstSource,
		Referrer:    v.FirstReferrer,
		LandingPath: v.FirstLandingPath,
	}
}

// SessionSummary is a reporting row: a session plus derived counts.
type SessionSummary struct {
	Session
	FirstSource Source `json:"firstSource"`
	PageCount   int    `json:"pageCount"`
	Active      bool   `json:"active"`
}

// SourceCounts holds coarse traffic totals per source.
type SourceCounts map[Source]int
