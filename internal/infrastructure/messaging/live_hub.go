package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

// LiveClient represents a single connected admin dashboard.
type LiveClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// NewLiveClient creates a client with a bounded outbound queue.
func NewLiveClient(conn *websocket.Conn) *LiveClient {
	return &LiveClient{Conn: conn, Send: make(chan []byte, 64)}
}

// LiveStats is the periodic summary pushed to every client.
type LiveStats struct {
	Type            string    `json:"type"`
	Clients         int       `json:"clients"`
	EventsSeen      int64     `json:"events_seen"`
	SessionsStarted int64     `json:"sessions_started"`
	VisitorsCreated int64     `json:"visitors_created"`
	SourceCounts    SourceMix `json:"sources"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// SourceMix counts feed events per source since startup.
type SourceMix map[string]int64

// LiveHub manages connected dashboards and broadcasts feed events to them.
type LiveHub struct {
	clients    map[*LiveClient]bool
	register   chan *LiveClient
	unregister chan *LiveClient
	broadcast  chan []byte
	done       chan struct{}
	interval   time.Duration
	logger     *logging.ChanneledLogger
	mu         sync.RWMutex

	eventsSeen      atomic.Int64
	sessionsStarted atomic.Int64
	visitorsCreated atomic.Int64
	sourceMu        sync.Mutex
	sources         SourceMix
}

// NewLiveHub creates a hub that pushes stats every interval.
func NewLiveHub(interval time.Duration, logger *logging.ChanneledLogger) *LiveHub {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &LiveHub{
		clients:    make(map[*LiveClient]bool),
		register:   make(chan *LiveClient),
		unregister: make(chan *LiveClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		interval:   interval,
		logger:     logger,
		sources:    SourceMix{},
	}
}

// Run starts the hub's main loop until ctx is done. Run it as a goroutine.
// Run must only be called once.
func (h *LiveHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Feed().Info("Live client registered", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Feed().Info("Live client unregistered", "clients", count)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-ticker.C:
			message, err := json.Marshal(h.Stats())
			if err != nil {
				h.logger.Feed().Error("Error marshaling live stats", "error", err.Error())
				continue
			}
			h.fanOut(message)
		}
	}
}

// Register queues a client for registration. Once the hub has stopped the
// client's queue is closed instead, so its writer sends a close frame.
func (h *LiveHub) Register(client *LiveClient) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister queues a client for unregistration. It is a no-op once the hub
// has stopped; closeAll already released every registered client.
func (h *LiveHub) Unregister(client *LiveClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *LiveHub) Done() <-chan struct{} { return h.done }

// Publish counts the event and queues it for connected clients. It never
// blocks the tracking request.
func (h *LiveHub) Publish(_ context.Context, event FeedEvent) error {
	h.eventsSeen.Add(1)
	if event.NewSession {
		h.sessionsStarted.Add(1)
	}
	if event.NewVisitor {
		h.visitorsCreated.Add(1)
	}
	h.sourceMu.Lock()
	h.sources[event.Source]++
	h.sourceMu.Unlock()

	if h.ClientCount() == 0 {
		return nil
	}

	message, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Feed().Warn("Live broadcast queue full, dropping event")
	}
	return nil
}

// Close is a no-op; the hub stops with the context passed to Run.
func (h *LiveHub) Close() error { return nil }

// ClientCount returns the number of connected clients.
func (h *LiveHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats snapshots the counters.
func (h *LiveHub) Stats() LiveStats {
	h.sourceMu.Lock()
	sources := make(SourceMix, len(h.sources))
	for k, v := range h.sources {
		sources[k] = v
	}
	h.sourceMu.Unlock()

	return LiveStats{
		Type:            "stats",
		Clients:         h.ClientCount(),
		EventsSeen:      h.eventsSeen.Load(),
		SessionsStarted: h.sessionsStarted.Load(),
		VisitorsCreated: h.visitorsCreated.Load(),
		SourceCounts:    sources,
		GeneratedAt:     time.Now().UTC(),
	}
}

func (h *LiveHub) fanOut(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
		}
	}
}

func (h *LiveHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
}
