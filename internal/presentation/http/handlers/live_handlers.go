package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/peakself/attribution-go/internal/application/services"
	"github.com/peakself/attribution-go/internal/infrastructure/messaging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// admin tokens are checked before upgrading
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveHandlers streams the live feed to admin dashboards over websockets.
type LiveHandlers struct {
	hub         *messaging.LiveHub
	authService *services.AuthService
	logger      *logging.ChanneledLogger
}

// NewLiveHandlers creates live feed handlers.
func NewLiveHandlers(hub *messaging.LiveHub, authService *services.AuthService, logger *logging.ChanneledLogger) *LiveHandlers {
	return &LiveHandlers{hub: hub, authService: authService, logger: logger}
}

// ServeLive upgrades GET /live?token= to a websocket. Browsers cannot set
// headers on websocket requests, so the token travels in the query.
func (h *LiveHandlers) ServeLive(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if !h.authService.ValidateAdminToken(token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Feed().Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := messaging.NewLiveClient(conn)
	h.hub.Register(client)

	go h.writePump(client)
	h.readPump(client)
}

// readPump only watches for disconnects; clients never send commands.
func (h *LiveHandlers) readPump(client *messaging.LiveClient) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(512)
	client.Conn.SetReadDeadline(time.Now().Add(livePongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Feed().Debug("Live client read error", "error", err.Error())
			}
			return
		}
	}
}

func (h *LiveHandlers) writePump(client *messaging.LiveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetLiveStats returns the hub counters without a websocket.
func (h *LiveHandlers) GetLiveStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
