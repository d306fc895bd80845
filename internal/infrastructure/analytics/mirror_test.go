package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

type captureWriter struct {
	mu      sync.Mutex
	batches [][]tracking.TrafficEvent
	err     error
}

func (w *captureWriter) WriteBatch(_ context.Context, events []tracking.TrafficEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]tracking.TrafficEvent, len(events))
	copy(cp, events)
	w.batches = append(w.batches, cp)
	return w.err
}

func (w *captureWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

type primaryStub struct {
	stored int
	err    error
}

func (p *primaryStub) Store(context.Context, *tracking.TrafficEvent) error {
	if p.err != nil {
		return p.err
	}
	p.stored++
	return nil
}

func (p *primaryStub) CountBySource(context.Context, *time.Time, *time.Time) (tracking.SourceCounts, error) {
	return tracking.SourceCounts{tracking.SourceGoogle: p.stored}, nil
}

func TestTrafficMirrorBatchesBySize(t *testing.T) {
	w := &captureWriter{}
	m := NewTrafficMirror(w, MirrorConfig{BatchSize: 3, FlushInterval: time.Hour}, logging.NewDiscardLogger())

	for i := 0; i < 7; i++ {
		m.Enqueue(tracking.TrafficEvent{ID: string(rune('a' + i))})
	}
	m.Close()

	if w.total() != 7 {
		t.Fatalf("expected 7 mirrored events, got %d", w.total())
	}
	if len(w.batches) != 3 || len(w.batches[0]) != 3 || len(w.batches[2]) != 1 {
		t.Fatalf("unexpected batch shapes %v", w.batches)
	}
}

func TestTrafficMirrorFlushesOnInterval(t *testing.T) {
	w := &captureWriter{}
	m := NewTrafficMirror(w, MirrorConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, logging.NewDiscardLogger())
	defer m.Close()

	m.Enqueue(tracking.TrafficEvent{ID: "x"})
	deadline := time.Now().Add(2 * time.Second)
	for w.total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.total() != 1 {
		t.Fatal("expected the interval to flush a partial batch")
	}
}

func TestMirroredRepositoryIgnoresMirrorFailures(t *testing.T) {
	w := &captureWriter{err: errors.New("clickhouse down")}
	m := NewTrafficMirror(w, MirrorConfig{BatchSize: 1}, logging.NewDiscardLogger())
	primary := &primaryStub{}
	repo := NewMirroredTrafficRepository(primary, m)

	if err := repo.Store(context.Background(), &tracking.TrafficEvent{ID: "e1"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	m.Close()
	if primary.stored != 1 || w.total() != 1 {
		t.Fatalf("primary=%d mirrored=%d", primary.stored, w.total())
	}

	counts, err := repo.CountBySource(context.Background(), nil, nil)
	if err != nil || counts[tracking.SourceGoogle] != 1 {
		t.Fatalf("reads must come from the primary: %v %v", counts, err)
	}
}

func TestMirroredRepositorySkipsMirrorWhenPrimaryFails(t *testing.T) {
	w := &captureWriter{}
	m := NewTrafficMirror(w, MirrorConfig{BatchSize: 1}, logging.NewDiscardLogger())
	repo := NewMirroredTrafficRepository(&primaryStub{err: errors.New("sqlite locked")}, m)

	if err := repo.Store(context.Background(), &tracking.TrafficEvent{ID: "e1"}); err == nil {
		t.Fatal("expected the primary error")
	}
	m.Close()
	if w.total() != 0 {
		t.Fatal("rejected events must not be mirrored")
	}
}
