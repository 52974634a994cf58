package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/api/middleware"
	"github.com/luo-one/mailsync/internal/events"
)

// EventsHandler serves the SSE stream of sync events
type EventsHandler struct {
	bus          *events.Bus
	tokenManager *middleware.StreamTokenManager
}

// NewEventsHandler creates a new EventsHandler instance
func NewEventsHandler(bus *events.Bus, tokenManager *middleware.StreamTokenManager) *EventsHandler {
	return &EventsHandler{
		bus:          bus,
		tokenManager: tokenManager,
	}
}

// IssueToken returns a short-lived token for opening the event stream.
// EventSource cannot send headers, so the stream authenticates with this
// token in the query string instead of the API key.
// POST /api/events/token
func (h *EventsHandler) IssueToken(c *gin.Context) {
	token, expiresAt, err := h.tokenManager.IssueToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to issue stream token",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"token":      token,
			"expires_at": expiresAt,
		},
	})
}

// Stream delivers sync events over SSE until the client disconnects
// GET /api/events?token=
func (h *EventsHandler) Stream(c *gin.Context) {
	ch, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
}
