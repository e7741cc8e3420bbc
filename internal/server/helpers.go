package server

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const timestampLayout = time.RFC3339

func parsePositiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, fmt.Errorf("value must be positive: %d", value)
	}
	return value, nil
}

// parseOptionalMoment parses an RFC3339 timestamp, treating an empty string
// as "now decides later" via the zero time.
func parseOptionalMoment(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	moment, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return moment.UTC(), nil
}

const heartbeatInterval = 25 * time.Second

// handleEvents streams ledger change events to dashboards over SSE.
// Heartbeats keep intermediaries from closing the idle connection.
func (h *httpHandler) handleEvents(c *gin.Context) {
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", h.clock().UTC().Format(timestampLayout))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
