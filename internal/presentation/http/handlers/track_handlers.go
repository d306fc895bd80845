// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/peakself/attribution-go/internal/application/services"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
)

// AccountCookieName carries the account token for browsers without a
// bearer header.
const AccountCookieName = "ps_auth"

// maxTrackBody bounds what a ping may upload.
const maxTrackBody = 16 << 10

// CookieOptions controls the attributes of tracking cookies.
type CookieOptions struct {
	Domain string
	Secure bool
}

// TrackHandlers serves the ingestion endpoint.
type TrackHandlers struct {
	trackingService *services.TrackingService
	cookies         CookieOptions
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
}

// NewTrackHandlers creates track handlers with injected dependencies
func NewTrackHandlers(trackingService *services.TrackingService, cookies CookieOptions, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *TrackHandlers {
	return &TrackHandlers{
		trackingService: trackingService,
		cookies:         cookies,
		logger:          logger,
		perfTracker:     perfTracker,
	}
}

// PostTrack records one navigation ping. It always answers 200 {ok:true}.
func (h *TrackHandlers) PostTrack(c *gin.Context) {
	marker := h.perfTracker.StartOperation("http:track")
	defer marker.Complete()

	defer func() {
		if r := recover(); r != nil {
			marker.SetSuccess(false)
			h.logger.Tracking().Error("Track handler panicked", "panic", r)
			c.JSON(http.StatusOK, gin.H{"ok": true})
		}
	}()

	req := h.parseRequest(c)
	result := h.trackingService.Track(c.Request.Context(), req)

	c.SetSameSite(http.SameSiteLaxMode)
	for _, cookie := range result.Cookies {
		c.SetCookie(cookie.Name, cookie.Value, int(cookie.MaxAge.Seconds()), "/", h.cookies.Domain, h.cookies.Secure, true)
	}

	response := gin.H{"ok": true}
	if result.VisitorID != "" {
		response["visitor_id"] = result.VisitorID
	}
	if result.SessionID != "" {
		response["session_id"] = result.SessionID
	}
	c.JSON(http.StatusOK, response)
}

// parseRequest reads the optional body fields. A referrer key that is absent
// falls back to the Referer header; an explicit null, empty or non-string
// value is passed on as an empty referrer, which marks a direct hit.
// Malformed bodies are treated as empty.
func (h *TrackHandlers) parseRequest(c *gin.Context) services.TrackRequest {
	req := services.TrackRequest{
		UserAgent:    c.Request.UserAgent(),
		IP:           c.ClientIP(),
		Cookies:      requestCookies(c.Request),
		AccountToken: accountToken(c),
	}

	var body map[string]json.RawMessage
	if c.Request.Body != nil {
		decoder := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxTrackBody))
		if err := decoder.Decode(&body); err != nil {
			h.logger.Tracking().Debug("Ignoring malformed track body", "error", err.Error())
			body = nil
		}
	}

	if raw, present := body["referrer"]; present {
		req.Referrer = rawString(raw)
		if req.Referrer == nil {
			direct := ""
			req.Referrer = &direct
		}
	} else if header := c.GetHeader("Referer"); header != "" {
		req.Referrer = &header
	}
	req.Path = rawString(body["path"])
	req.SourceHint = rawString(body["source"])
	return req
}

// rawString returns the value of a JSON string, or nil for anything else.
func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func requestCookies(r *http.Request) map[string]string {
	cookies := make(map[string]string)
	for _, cookie := range r.Cookies() {
		cookies[cookie.Name] = cookie.Value
	}
	return cookies
}

// accountToken prefers the Authorization header over the account cookie.
func accountToken(c *gin.Context) string {
	if token := bearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(AccountCookieName); err == nil {
		return cookie
	}
	return ""
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
