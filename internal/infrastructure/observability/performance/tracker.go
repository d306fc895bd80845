package performance

import (
	"sort"
	"sync"
	"time"
)

// Tracker keeps the most recent completed markers and per-operation totals.
type Tracker struct {
	mu        sync.RWMutex
	recent    []Marker
	next      int
	full      bool
	totals    map[string]*OperationStats
	threshold time.Duration
	onSlow    func(Marker)
	started   time.Time
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers    int           `json:"maxMarkers"`
	SlowThreshold time.Duration `json:"slowThreshold"`
	// OnSlow is called for every completed marker slower than SlowThreshold.
	OnSlow func(Marker) `json:"-"`
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:    1000,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// OperationStats aggregates completed markers of one operation.
type OperationStats struct {
	Operation string        `json:"operation"`
	Count     int           `json:"count"`
	Failures  int           `json:"failures"`
	Slow      int           `json:"slow"`
	Total     time.Duration `json:"totalDuration"`
	Max       time.Duration `json:"maxDuration"`
}

// Average returns the mean duration.
func (s OperationStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if config.MaxMarkers <= 0 {
		config.MaxMarkers = DefaultTrackerConfig().MaxMarkers
	}

	return &Tracker{
		recent:    make([]Marker, config.MaxMarkers),
		totals:    make(map[string]*OperationStats),
		threshold: config.SlowThreshold,
		onSlow:    config.OnSlow,
		started:   time.Now(),
	}
}

// StartOperation creates a marker for an operation; call Complete when done.
func (t *Tracker) StartOperation(operation string) *Marker {
	return &Marker{
		Operation: operation,
		StartTime: time.Now(),
		Success:   true,
		tracker:   t,
	}
}

func (t *Tracker) record(m *Marker) {
	slow := t.threshold > 0 && m.Duration > t.threshold

	t.mu.Lock()
	t.recent[t.next] = *m
	t.recent[t.next].tracker = nil
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.full = true
	}

	stats, ok := t.totals[m.Operation]
	if !ok {
		stats = &OperationStats{Operation: m.Operation}
		t.totals[m.Operation] = stats
	}
	stats.Count++
	stats.Total += m.Duration
	if m.Duration > stats.Max {
		stats.Max = m.Duration
	}
	if !m.Success {
		stats.Failures++
	}
	if slow {
		stats.Slow++
	}
	onSlow := t.onSlow
	t.mu.Unlock()

	if slow && onSlow != nil {
		onSlow(*m)
	}
}

// Stats returns per-operation totals sorted by operation name.
func (t *Tracker) Stats() []OperationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]OperationStats, 0, len(t.totals))
	for _, s := range t.totals {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Recent returns retained markers completed within the given duration, newest first.
func (t *Tracker) Recent(within time.Duration) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.next
	if t.full {
		n = len(t.recent)
	}
	cutoff := time.Now().Add(-within)

	out := make([]Marker, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.next - 1 - i + len(t.recent)) % len(t.recent)
		m := t.recent[idx]
		if m.EndTime.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Uptime reports how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}
