package api

import (
	"context"
	"io"

	"flagpost/internal/service"
	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MembershipLookup interface {
	OrgsOf(ctx context.Context, userID uint64) ([]uint64, error)
}

type StreamHandler struct {
	memberships MembershipLookup
	hub         *service.Hub
	bufferSize  int
}

func NewStreamHandler(memberships MembershipLookup, hub *service.Hub, bufferSize int) *StreamHandler {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &StreamHandler{
		memberships: memberships,
		hub:         hub,
		bufferSize:  bufferSize,
	}
}

// Watch upgrades the request into an SSE stream of change events scoped to
// the authenticated user. The event feed is ephemeral: clients that
// reconnect pull /v1/flags/snapshot instead of asking for missed events.
func (h *StreamHandler) Watch(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Membership is captured at connect time. A user added to an
	// organization mid-stream reconnects to pick up its events.
	orgIDs, err := h.memberships.OrgsOf(c.Request.Context(), op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	orgs := make(map[uint64]bool, len(orgIDs))
	for _, id := range orgIDs {
		orgs[id] = true
	}

	client := &service.Client{
		ID:     uuid.NewString(),
		UserID: op.UserID,
		Orgs:   orgs,
		Send:   make(chan v1.ChangeEvent, h.bufferSize),
	}

	logger.Info("subscriber connected",
		zap.String("conn_id", client.ID),
		zap.Uint64("user_id", op.UserID),
		zap.String("ip", c.ClientIP()),
	)

	h.hub.Register <- client
	defer func() {
		h.hub.Unregister <- client.ID
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client.Send:
			if !ok {
				return false
			}
			if ev.Kind == v1.ChangePing {
				c.SSEvent("ping", "pong")
				return true
			}
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	logger.Info("subscriber disconnected",
		zap.String("conn_id", client.ID),
		zap.Uint64("user_id", op.UserID),
	)
}
