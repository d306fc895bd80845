package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peakself/attribution-go/internal/application/services"
	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
)

// AdminHandlers serves login, reporting and operator endpoints.
type AdminHandlers struct {
	authService      *services.AuthService
	reportingService *services.ReportingService
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(authService *services.AuthService, reportingService *services.ReportingService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *AdminHandlers {
	return &AdminHandlers{
		authService:      authService,
		reportingService: reportingService,
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// AuthCheck reports whether login is configured and the caller is signed in.
func (h *AdminHandlers) AuthCheck(c *gin.Context) {
	response := gin.H{
		"passwordRequired": h.authService.IsConfigured(),
		"authenticated":    h.authService.ValidateAdminToken(bearerToken(c.GetHeader("Authorization"))),
	}
	if !h.authService.IsConfigured() {
		response["message"] = "Set ADMIN_PASSWORD_HASH and JWT_SECRET to enable the reporting API"
	}
	c.JSON(http.StatusOK, response)
}

// Login exchanges the admin password for a bearer token.
func (h *AdminHandlers) Login(c *gin.Context) {
	var request struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result := h.authService.AuthenticateAdmin(request.Password)
	if !result.Success {
		status := http.StatusUnauthorized
		if !h.authService.IsConfigured() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": result.Token, "role": result.Role})
}

// AdminAuthMiddleware protects the reporting endpoints.
func (h *AdminHandlers) AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.authService.ValidateAdminToken(bearerToken(c.GetHeader("Authorization"))) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ListSessions handles GET /sessions with optional filters.
func (h *AdminHandlers) ListSessions(c *gin.Context) {
	filter, err := sessionFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessions, err := h.reportingService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"limit":    services.ClampLimit(filter.Limit),
		"offset":   filter.Offset,
	})
}

// GetSession handles GET /sessions/:id.
func (h *AdminHandlers) GetSession(c *gin.Context) {
	session, err := h.reportingService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSessionEvents handles GET /sessions/:id/events.
func (h *AdminHandlers) GetSessionEvents(c *gin.Context) {
	events, err := h.reportingService.SessionEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}
	if events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetVisitor handles GET /visitors/:id.
func (h *AdminHandlers) GetVisitor(c *gin.Context) {
	visitor, err := h.reportingService.GetVisitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load visitor"})
		return
	}
	if visitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Visitor not found"})
		return
	}
	c.JSON(http.StatusOK, visitor)
}

// GetAccountSessions handles GET /accounts/:id/sessions.
func (h *AdminHandlers) GetAccountSessions(c *gin.Context) {
	limit, offset, err := pageFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessions, err := h.reportingService.AccountSessions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Dashboard handles GET /dashboard?from&to.
func (h *AdminHandlers) Dashboard(c *gin.Context) {
	from, err := timeFromQuery(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := timeFromQuery(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	counts, err := h.reportingService.Dashboard(c.Request.Context(), from, to)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// GetPerformance returns per-operation timing totals.
func (h *AdminHandlers) GetPerformance(c *gin.Context) {
	stats := h.perfTracker.Stats()
	out := make([]gin.H, 0, len(stats))
	for _, s := range stats {
		out = append(out, gin.H{
			"operation": s.Operation,
			"count":     s.Count,
			"failures":  s.Failures,
			"slow":      s.Slow,
			"avgMs":     float64(s.Average().Microseconds()) / 1000,
			"maxMs":     float64(s.Max.Microseconds()) / 1000,
		})
	}
	c.JSON(http.StatusOK, gin.H{"uptime": h.perfTracker.Uptime().String(), "operations": out})
}

// GetLogLevels returns current log levels for all channels.
func (h *AdminHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.logger.GetChannelLevels())
}

// SetLogLevel sets the log level for a specific channel.
func (h *AdminHandlers) SetLogLevel(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	var level slog.Level
	switch req.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log level specified"})
		return
	}

	if err := h.logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to set log level", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": fmt.Sprintf("Log level for channel '%s' set to '%s'", req.Channel, req.Level)})
}

func sessionFilterFromQuery(c *gin.Context) (tracking.SessionFilter, error) {
	var filter tracking.SessionFilter

	if raw := c.Query("source"); raw != "" {
		source, ok := tracking.ParseSource(raw)
		if !ok {
			return filter, fmt.Errorf("unknown source %q", raw)
		}
		filter.Source = &source
	}
	if v := c.Query("user_id"); v != "" {
		filter.AccountID = &v
	}
	if v := c.Query("visitor_id"); v != "" {
		filter.VisitorID = &v
	}

	var err error
	if filter.From, err = timeFromQuery(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = timeFromQuery(c, "to"); err != nil {
		return filter, err
	}
	filter.Limit, filter.Offset, err = pageFromQuery(c)
	return filter, err
}

func pageFromQuery(c *gin.Context) (limit, offset int, err error) {
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}
	}
	return services.ClampLimit(limit), offset, nil
}

func timeFromQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339", key)
	}
	return &t, nil
}
