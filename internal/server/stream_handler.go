package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/serandev/seran-sjune/internal/messages"
	"go.uber.org/zap"
)

// handleMessageStream sends the full message list as a server-sent event on connect
// and after every change.
func (h *httpHandler) handleMessageStream(c *gin.Context) {
	ctx := c.Request.Context()
	snapshots, unsubscribe := h.realtime.Subscribe(ctx)
	defer unsubscribe()

	h.metrics.StreamSubscribed()
	defer h.metrics.StreamUnsubscribed()

	initial, err := h.messages.List(ctx)
	if err != nil {
		h.logger.Warn("initial stream snapshot failed", zap.Error(err))
		initial = []messages.MessageWithUser{}
	}
	if initial == nil {
		initial = []messages.MessageWithUser{}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(RealtimeEventMessages, initial)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			c.SSEvent(RealtimeEventMessages, snapshot)
			c.Writer.Flush()
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Unix()})
			c.Writer.Flush()
		}
	}
}
