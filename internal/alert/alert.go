// Package alert fans high-severity audit events out to live subscribers
// (security dashboards, on-call tooling) without blocking the audit write path.
package alert

import (
	"context"
	"sync"
	"time"
)

// Event is the subscriber-facing projection of a high-severity audit entry.
// It deliberately omits metadata payloads; subscribers follow up through the
// audit query API with proper authorization.
type Event struct {
	ID             string    `json:"id"`
	Action         string    `json:"action"`
	Severity       string    `json:"severity"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Hub fan-outs events to all active subscribers (SSE clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
