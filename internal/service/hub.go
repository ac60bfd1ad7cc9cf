package service

import (
	"context"
	"time"

	"flagpost/internal/metrics"
	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/logger"

	"go.uber.org/zap"
)

// Client is one live subscriber connection. Orgs is the set of organization
// ids the subscriber belonged to at connect time and scopes which events it
// receives.
type Client struct {
	ID     string
	UserID uint64
	Orgs   map[uint64]bool
	Send   chan v1.ChangeEvent
}

// Wants reports whether this subscriber is interested in the event's scope.
// Targeted events (overrides) go to the target user only; personal events to
// the owner; organizational events to members of that organization.
func (c *Client) Wants(ev v1.ChangeEvent) bool {
	if ev.Kind == v1.ChangePing {
		return true
	}
	if ev.TargetUserID != 0 {
		return ev.TargetUserID == c.UserID
	}
	switch ev.Scope.Type {
	case v1.ScopePersonal:
		return ev.Scope.OwnerID == c.UserID
	case v1.ScopeOrganization:
		return c.Orgs[ev.Scope.OrganizationID]
	}
	return false
}

// Hub is the change broadcaster: a registry of connection id → subscriber,
// owned by a single Run goroutine. Delivery is best-effort fire-and-forget;
// a subscriber that cannot accept a send is closed and removed, and failures
// never reach the publisher. Events are not persisted; subscribers that
// connect later pull a snapshot instead of replaying a backlog.
type Hub struct {
	clients    map[string]*Client
	Broadcast  chan v1.ChangeEvent
	Register   chan *Client
	Unregister chan string

	observer  metrics.HubObserver
	heartbeat time.Duration
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		clients:    make(map[string]*Client),
		Broadcast:  make(chan v1.ChangeEvent, 64),
		Register:   make(chan *Client),
		Unregister: make(chan string),
		observer:   observer,
		heartbeat:  heartbeat,
	}
}

// Run owns all registry state; per-subscriber delivery order matches publish
// order because this is the only goroutine that sends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
				h.observer.DecOnline()
			}
			return
		case client := <-h.Register:
			// Re-registering a connection id replaces the old handle.
			if old, ok := h.clients[client.ID]; ok {
				close(old.Send)
			} else {
				h.observer.IncOnline()
			}
			h.clients[client.ID] = client
		case id := <-h.Unregister:
			// Unknown ids are a no-op.
			if client, ok := h.clients[id]; ok {
				close(client.Send)
				delete(h.clients, id)
				h.observer.DecOnline()
			}
		case ev := <-h.Broadcast:
			h.deliver(ev)
		case <-ticker.C:
			h.deliver(v1.ChangeEvent{Kind: v1.ChangePing, Timestamp: time.Now().UTC()})
		}
	}
}

func (h *Hub) deliver(ev v1.ChangeEvent) {
	for id, client := range h.clients {
		if !client.Wants(ev) {
			continue
		}
		select {
		case client.Send <- ev:
			if ev.Kind != v1.ChangePing {
				h.observer.RecordPush()
			}
		default:
			logger.Warn("dropping unresponsive subscriber",
				zap.String("connection_id", id),
				zap.Uint64("user_id", client.UserID))
			close(client.Send)
			delete(h.clients, id)
			h.observer.DecOnline()
			h.observer.RecordDrop()
		}
	}
}
