// Package messaging fans tracked pings out to live dashboards and brokers.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

// FeedEvent describes one successfully attributed ping.
type FeedEvent struct {
	Type       string    `json:"type"`
	VisitorID  string    `json:"visitor_id"`
	SessionID  string    `json:"session_id"`
	Source     string    `json:"source"`
	Path       string    `json:"path,omitempty"`
	NewSession bool      `json:"new_session"`
	NewVisitor bool      `json:"new_visitor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FeedEventType is the type of every ping event.
const FeedEventType = "pageview"

// Publisher delivers feed events to one destination.
type Publisher interface {
	Publish(ctx context.Context, event FeedEvent) error
	Close() error
}

// MultiPublisher sends each event to every configured publisher.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher skips nil publishers.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	mp := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			mp.publishers = append(mp.publishers, p)
		}
	}
	return mp
}

// Publish attempts every publisher and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, event FeedEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many publishers are attached.
func (m *MultiPublisher) Len() int { return len(m.publishers) }

// AsyncPublisher moves delivery to a background worker so request handlers
// never wait on a broker. Events are dropped when the queue is full.
type AsyncPublisher struct {
	inner   Publisher
	name    string
	queue   chan FeedEvent
	done    chan struct{}
	timeout time.Duration
	logger  *logging.ChanneledLogger
}

// NewAsyncPublisher starts the delivery worker.
func NewAsyncPublisher(name string, inner Publisher, buffer int, timeout time.Duration, logger *logging.ChanneledLogger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &AsyncPublisher{
		inner:   inner,
		name:    name,
		queue:   make(chan FeedEvent, buffer),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.inner.Publish(ctx, event); err != nil {
			p.logger.Feed().Warn("Feed publish failed", "publisher", p.name, "error", err.Error())
		}
		cancel()
	}
}

// Publish enqueues the event without blocking.
func (p *AsyncPublisher) Publish(_ context.Context, event FeedEvent) error {
	select {
	case p.queue <- event:
		return nil
	default:
		p.logger.Feed().Warn("Feed queue full, dropping event", "publisher", p.name)
		return nil
	}
}

// Close drains the queue and closes the inner publisher.
func (p *AsyncPublisher) Close() error {
	close(p.queue)
	<-p.done
	return p.inner.Close()
}
