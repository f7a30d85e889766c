package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tavernfall/loreweave-backend/internal/events"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
)

// EventHandler streams note lifecycle events for one campaign as
// server-sent events, backed by the Redis bus.
type EventHandler struct {
	bus *events.Bus
	log *logger.Logger
}

func NewEventHandler(bus *events.Bus, baseLog *logger.Logger) *EventHandler {
	return &EventHandler{
		bus: bus,
		log: baseLog.With("handler", "EventHandler"),
	}
}

// Stream holds the connection open and forwards bus messages as "note"
// events until the client disconnects. 503 when the bus is disabled.
func (h *EventHandler) Stream(c *gin.Context) {
	campaignID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	ch := h.bus.Subscribe(c.Request.Context(), campaignID)
	if ch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		msg, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("note", json.RawMessage(msg))
		return true
	})
}
