package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/messaging"
)

// memStore backs every fake repository so reporting sees what tracking wrote.
type memStore struct {
	mu       sync.Mutex
	visitors map[string]tracking.Visitor
	sessions map[string]tracking.Session
	events   []tracking.Event
	traffic  []tracking.TrafficEvent
	accounts map[string]*tracking.FirstTouch
}

func newMemStore() *memStore {
	return &memStore{
		visitors: map[string]tracking.Visitor{},
		sessions: map[string]tracking.Session{},
		accounts: map[string]*tracking.FirstTouch{},
	}
}

func (m *memStore) repos() TrackingRepositories {
	return TrackingRepositories{
		Visitors: memVisitors{m},
		Sessions: memSessions{m},
		Events:   memEvents{m},
		Traffic:  memTraffic{m},
		Accounts: memAccounts{m},
	}
}

func (m *memStore) visitor(id string) tracking.Visitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visitors[id]
}

func (m *memStore) session(id string) tracking.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memStore) eventsFor(sessionID string) []tracking.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracking.Event
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) trafficCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.traffic)
}

func later(stored, seen time.Time) time.Time {
	if stored.After(seen) {
		return stored
	}
	return seen
}

type memVisitors struct{ *memStore }

func (r memVisitors) FindByID(_ context.Context, id string) (*tracking.Visitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r memVisitors) Create(_ context.Context, v *tracking.Visitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visitors[v.ID]; !ok {
		r.visitors[v.ID] = *v
	}
	return nil
}

func (r memVisitors) Touch(_ context.Context, id string, source *tracking.Source, referrer, accountID *string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[id]
	if !ok {
		return nil
	}
	v.LastSeenAt = later(v.LastSeenAt, seenAt)
	if source != nil {
		v.CurrentSource = *source
	}
	if referrer != nil {
		v.CurrentReferrer = referrer
	}
	if v.AccountID == nil {
		v.AccountID = accountID
	}
	r.visitors[id] = v
	return nil
}

func (r memVisitors) TouchReferrer(_ context.Context, id string, referrer *string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[id]
	if !ok {
		return nil
	}
	v.LastSeenAt = later(v.LastSeenAt, seenAt)
	if referrer != nil {
		v.CurrentReferrer = referrer
	}
	r.visitors[id] = v
	return nil
}

type memSessions struct{ *memStore }

func (r memSessions) FindByID(_ context.Context, id string) (*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r memSessions) Create(_ context.Context, s *tracking.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r memSessions) Touch(_ context.Context, id string, accountID *string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	s.LastSeenAt = later(s.LastSeenAt, seenAt)
	if s.AccountID == nil {
		s.AccountID = accountID
	}
	r.sessions[id] = s
	return nil
}

func (r memSessions) End(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s.EndedAt == nil {
		ended := s.LastSeenAt
		s.EndedAt = &ended
	}
	r.sessions[id] = s
	return nil
}

func (r memSessions) List(_ context.Context, f tracking.SessionFilter) ([]*tracking.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tracking.SessionSummary
	for _, s := range r.sessions {
		if f.Source != nil && s.Source != *f.Source {
			continue
		}
		if f.VisitorID != nil && s.VisitorID != *f.VisitorID {
			continue
		}
		if f.AccountID != nil && (s.AccountID == nil || *s.AccountID != *f.AccountID) {
			continue
		}
		pages := 0
		for _, e := range r.events {
			if e.SessionID == s.ID {
				pages++
			}
		}
		out = append(out, &tracking.SessionSummary{Session: s, FirstSource: r.visitors[s.VisitorID].FirstSource, PageCount: pages})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memEvents struct{ *memStore }

func (r memEvents) Append(_ context.Context, e *tracking.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r memEvents) ListBySession(_ context.Context, sessionID string) ([]*tracking.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tracking.Event
	for i := range r.events {
		if r.events[i].SessionID == sessionID {
			e := r.events[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

type memTraffic struct{ *memStore }

func (r memTraffic) Store(_ context.Context, e *tracking.TrafficEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traffic = append(r.traffic, *e)
	return nil
}

func (r memTraffic) CountBySource(_ context.Context, from, to *time.Time) (tracking.SourceCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := tracking.SourceCounts{}
	for _, e := range r.traffic {
		if from != nil && e.OccurredAt.Before(*from) {
			continue
		}
		if to != nil && !e.OccurredAt.Before(*to) {
			continue
		}
		counts[e.Source]++
	}
	return counts, nil
}

type memAccounts struct{ *memStore }

func (r memAccounts) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[id]
	return ok, nil
}

func (r memAccounts) SetFirstTouch(_ context.Context, id string, touch tracking.FirstTouch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[id]
	if !ok {
		return nil
	}
	if cur == nil {
		t := touch
		r.accounts[id] = &t
	}
	return nil
}

var errStoreDown = errors.New("store unavailable")

// brokenVisitors fails or panics on every lookup.
type brokenVisitors struct {
	memVisitors
	panics bool
}

func (r brokenVisitors) FindByID(context.Context, string) (*tracking.Visitor, error) {
	if r.panics {
		panic("driver exploded")
	}
	return nil, errStoreDown
}

func (r brokenVisitors) Create(context.Context, *tracking.Visitor) error {
	if r.panics {
		panic("driver exploded")
	}
	return errStoreDown
}

type brokenTraffic struct{}

func (brokenTraffic) Store(context.Context, *tracking.TrafficEvent) error { return errStoreDown }
func (brokenTraffic) CountBySource(context.Context, *time.Time, *time.Time) (tracking.SourceCounts, error) {
	return nil, errStoreDown
}

type brokenAccounts struct{ memAccounts }

func (brokenAccounts) SetFirstTouch(context.Context, string, tracking.FirstTouch) error {
	return errStoreDown
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.FeedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e messaging.FeedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// testClock is advanced explicitly by tests.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }
