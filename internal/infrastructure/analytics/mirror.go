package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

// BatchWriter persists a batch of traffic events.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []tracking.TrafficEvent) error
}

// MirrorConfig tunes batching.
type MirrorConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	WriteTimeout  time.Duration
}

// TrafficMirror buffers traffic events and flushes them in batches from a
// single background worker.
type TrafficMirror struct {
	writer BatchWriter
	config MirrorConfig
	queue  chan tracking.TrafficEvent
	logger *logging.ChanneledLogger

	closeOnce sync.Once
	done      chan struct{}
}

// NewTrafficMirror starts the flush worker.
func NewTrafficMirror(writer BatchWriter, config MirrorConfig, logger *logging.ChanneledLogger) *TrafficMirror {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 10000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	m := &TrafficMirror{
		writer: writer,
		config: config,
		queue:  make(chan tracking.TrafficEvent, config.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Enqueue adds an event without blocking; events are dropped when full.
func (m *TrafficMirror) Enqueue(event tracking.TrafficEvent) bool {
	select {
	case m.queue <- event:
		return true
	default:
		m.logger.Database().Warn("Traffic mirror queue full, dropping event", "eventId", logging.MaskID(event.ID))
		return false
	}
}

// Close flushes what is queued and stops the worker.
func (m *TrafficMirror) Close() {
	m.closeOnce.Do(func() {
		close(m.queue)
		<-m.done
	})
}

func (m *TrafficMirror) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]tracking.TrafficEvent, 0, m.config.BatchSize)
	for {
		select {
		case event, ok := <-m.queue:
			if !ok {
				m.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= m.config.BatchSize {
				m.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (m *TrafficMirror) flush(batch []tracking.TrafficEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := m.writer.WriteBatch(ctx, batch); err != nil {
		m.logger.Database().Error("Traffic mirror flush failed", "events", len(batch), "error", err.Error())
		return
	}
	m.logger.Database().Debug("Traffic mirror flushed", "events", len(batch), "duration", time.Since(start))
}

// MirroredTrafficRepository writes to the primary repository and mirrors
// accepted events. Reads are served by the primary.
type MirroredTrafficRepository struct {
	tracking.TrafficRepository
	mirror *TrafficMirror
}

// NewMirroredTrafficRepository wraps primary.
func NewMirroredTrafficRepository(primary tracking.TrafficRepository, mirror *TrafficMirror) *MirroredTrafficRepository {
	return &MirroredTrafficRepository{TrafficRepository: primary, mirror: mirror}
}

// Store writes to the primary; the mirror never affects the result.
func (r *MirroredTrafficRepository) Store(ctx context.Context, event *tracking.TrafficEvent) error {
	if err := r.TrafficRepository.Store(ctx, event); err != nil {
		return err
	}
	r.mirror.Enqueue(*event)
	return nil
}
