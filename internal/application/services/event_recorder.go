package services

import (
	"context"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
)

// EventRecorder appends navigation events to a session.
type EventRecorder struct {
	events   tracking.EventRepository
	visitors tracking.VisitorRepository
}

// NewEventRecorder creates a recorder.
func NewEventRecorder(events tracking.EventRepository, visitors tracking.VisitorRepository) *EventRecorder {
	return &EventRecorder{events: events, visitors: visitors}
}

// Record appends one event and refreshes the owning visitor's recency.
// Repeated paths are stored as distinct events.
func (r *EventRecorder) Record(ctx context.Context, sessionID, visitorID string, path, referrer *string, now time.Time) (*tracking.Event, error) {
	event := &tracking.Event{
		ID:         security.GenerateOrderedULID(now),
		SessionID:  sessionID,
		OccurredAt: now,
		Path:       path,
		Referrer:   referrer,
	}
	if err := r.events.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("event append: %w", err)
	}
	if err := r.visitors.TouchReferrer(ctx, visitorID, referrer, now); err != nil {
		return nil, fmt.Errorf("visitor refresh: %w", err)
	}
	return event, nil
}
