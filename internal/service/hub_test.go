package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nopObserver{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func personalEvent(ownerID uint64, key string) v1.ChangeEvent {
	return v1.ChangeEvent{
		Kind:  v1.ChangeUpdated,
		Key:   key,
		Scope: v1.Scope{Type: v1.ScopePersonal, OwnerID: ownerID},
	}
}

func orgEvent(orgID uint64, key string) v1.ChangeEvent {
	return v1.ChangeEvent{
		Kind:  v1.ChangeUpdated,
		Key:   key,
		Scope: v1.Scope{Type: v1.ScopeOrganization, OrganizationID: orgID},
	}
}

func TestHub_ScopedDelivery(t *testing.T) {
	hub := newRunningHub(t)

	owner := &Client{ID: "c1", UserID: 1, Send: make(chan v1.ChangeEvent, 8)}
	orgMember := &Client{ID: "c2", UserID: 2, Orgs: map[uint64]bool{10: true}, Send: make(chan v1.ChangeEvent, 8)}
	outsider := &Client{ID: "c3", UserID: 3, Send: make(chan v1.ChangeEvent, 8)}
	hub.Register <- owner
	hub.Register <- orgMember
	hub.Register <- outsider

	hub.Broadcast <- personalEvent(1, "personal-key")
	hub.Broadcast <- orgEvent(10, "org-key")

	ev := waitEvent(t, owner)
	if ev.Key != "personal-key" {
		t.Fatalf("owner got %q, want personal-key", ev.Key)
	}
	ev = waitEvent(t, orgMember)
	if ev.Key != "org-key" {
		t.Fatalf("org member got %q, want org-key", ev.Key)
	}
	expectNoEvent(t, outsider)
}

// Targeted events (override changes) reach the target user only, even
// though the flag's scope would make them visible to the whole org.
func TestHub_TargetedDelivery(t *testing.T) {
	hub := newRunningHub(t)

	target := &Client{ID: "c1", UserID: 1, Orgs: map[uint64]bool{10: true}, Send: make(chan v1.ChangeEvent, 8)}
	bystander := &Client{ID: "c2", UserID: 2, Orgs: map[uint64]bool{10: true}, Send: make(chan v1.ChangeEvent, 8)}
	hub.Register <- target
	hub.Register <- bystander

	ev := orgEvent(10, "beta")
	ev.TargetUserID = 1
	hub.Broadcast <- ev

	got := waitEvent(t, target)
	if got.Key != "beta" {
		t.Fatalf("target got %q, want beta", got.Key)
	}
	expectNoEvent(t, bystander)
}

// Per-subscriber delivery order matches publish order.
func TestHub_FIFOPerSubscriber(t *testing.T) {
	hub := newRunningHub(t)

	c := &Client{ID: "c1", UserID: 1, Send: make(chan v1.ChangeEvent, 64)}
	hub.Register <- c

	const n = 32
	for i := 0; i < n; i++ {
		hub.Broadcast <- personalEvent(1, fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < n; i++ {
		ev := waitEvent(t, c)
		want := fmt.Sprintf("key-%d", i)
		if ev.Key != want {
			t.Fatalf("event %d: got %q, want %q", i, ev.Key, want)
		}
	}
}

// Re-registering a connection id replaces the previous handle and closes
// its channel; unregistering an unknown id does nothing.
func TestHub_RegistryEdgeCases(t *testing.T) {
	hub := newRunningHub(t)

	first := &Client{ID: "conn", UserID: 1, Send: make(chan v1.ChangeEvent, 8)}
	second := &Client{ID: "conn", UserID: 1, Send: make(chan v1.ChangeEvent, 8)}
	hub.Register <- first
	hub.Register <- second

	select {
	case _, ok := <-first.Send:
		if ok {
			t.Fatal("replaced client received an event instead of close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replaced client's channel was not closed")
	}

	hub.Unregister <- "never-registered"

	hub.Broadcast <- personalEvent(1, "after-replace")
	ev := waitEvent(t, second)
	if ev.Key != "after-replace" {
		t.Fatalf("got %q, want after-replace", ev.Key)
	}
}

// A subscriber with a full channel is dropped and closed; the publish path
// never blocks or fails on it.
func TestHub_DropsUnresponsiveSubscriber(t *testing.T) {
	hub := newRunningHub(t)

	stuck := &Client{ID: "stuck", UserID: 1, Send: make(chan v1.ChangeEvent, 1)}
	healthy := &Client{ID: "healthy", UserID: 1, Send: make(chan v1.ChangeEvent, 64)}
	hub.Register <- stuck
	hub.Register <- healthy

	// First event fills the stuck client's buffer; second overflows it.
	hub.Broadcast <- personalEvent(1, "fill")
	hub.Broadcast <- personalEvent(1, "overflow")

	waitEvent(t, healthy)
	waitEvent(t, healthy)

	deadline := time.After(2 * time.Second)
	got := 0
	for {
		select {
		case _, ok := <-stuck.Send:
			if !ok {
				if got != 1 {
					t.Fatalf("stuck client received %d events before close, want 1", got)
				}
				return
			}
			got++
		case <-deadline:
			t.Fatal("stuck client's channel was never closed")
		}
	}
}

// Once unregistered, a subscriber's channel is closed and it receives
// nothing published afterwards.
func TestHub_NoDeliveryAfterUnregister(t *testing.T) {
	hub := newRunningHub(t)

	c := &Client{ID: "conn", UserID: 1, Send: make(chan v1.ChangeEvent, 8)}
	hub.Register <- c

	hub.Broadcast <- personalEvent(1, "before")
	ev := waitEvent(t, c)
	if ev.Key != "before" {
		t.Fatalf("got %q, want before", ev.Key)
	}

	hub.Unregister <- "conn"
	hub.Broadcast <- personalEvent(1, "after")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Send:
			if !ok {
				return
			}
			t.Fatalf("received %q after unregister", ev.Key)
		case <-deadline:
			t.Fatal("channel was never closed after unregister")
		}
	}
}

func TestHub_Concurrency(t *testing.T) {
	hub := newRunningHub(t)

	var wg sync.WaitGroup
	clientCount := 50
	eventCount := 200

	clients := make([]*Client, clientCount)

	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := &Client{
				ID:     fmt.Sprintf("conn-%d", idx),
				UserID: 1,
				Send:   make(chan v1.ChangeEvent, 50),
			}
			clients[idx] = c
			hub.Register <- c
		}(i)
	}
	wg.Wait()

	broadcastDone := make(chan struct{})

	go func() {
		for i := 0; i < eventCount; i++ {
			hub.Broadcast <- personalEvent(1, "churn-key")
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		close(broadcastDone)
	}()

	go func() {
		for i := 0; i < clientCount/2; i++ {
			time.Sleep(2 * time.Millisecond)
			hub.Unregister <- clients[i].ID
		}
	}()

	var readWg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		readWg.Add(1)
		go func(c *Client) {
			defer readWg.Done()
			timeout := time.After(3 * time.Second)
			for {
				select {
				case _, ok := <-c.Send:
					if !ok {
						return
					}
				case <-broadcastDone:
					for {
						select {
						case _, ok := <-c.Send:
							if !ok {
								return
							}
						default:
							return
						}
					}
				case <-timeout:
					return
				}
			}
		}(clients[i])
	}

	readWg.Wait()
}
