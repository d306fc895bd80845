package performance

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerAggregatesOperations(t *testing.T) {
	var slowCalls int
	tracker := NewTracker(&TrackerConfig{
		MaxMarkers:    4,
		SlowThreshold: time.Nanosecond,
		OnSlow:        func(Marker) { slowCalls++ },
	})

	for i := 0; i < 3; i++ {
		m := tracker.StartOperation("track:ping")
		time.Sleep(time.Millisecond)
		m.Complete()
	}
	failed := tracker.StartOperation("report:sessions")
	failed.SetError(errors.New("boom"))
	time.Sleep(time.Millisecond)
	failed.Complete()
	failed.Complete()

	stats := tracker.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(stats))
	}
	if stats[0].Operation != "report:sessions" || stats[0].Failures != 1 || stats[0].Count != 1 {
		t.Fatalf("unexpected report stats %+v", stats[0])
	}
	if stats[1].Count != 3 || stats[1].Average() <= 0 {
		t.Fatalf("unexpected ping stats %+v", stats[1])
	}
	if slowCalls != 4 {
		t.Fatalf("expected 4 slow callbacks, got %d", slowCalls)
	}
}

func TestTrackerRecentIsBounded(t *testing.T) {
	tracker := NewTracker(&TrackerConfig{MaxMarkers: 2})

	for _, op := range []string{"a", "b", "c"} {
		tracker.StartOperation(op).Complete()
	}

	recent := tracker.Recent(time.Minute)
	if len(recent) != 2 {
		t.Fatalf("expected 2 retained markers, got %d", len(recent))
	}
	if recent[0].Operation != "c" || recent[1].Operation != "b" {
		t.Fatalf("expected newest first, got %s then %s", recent[0].Operation, recent[1].Operation)
	}
}
