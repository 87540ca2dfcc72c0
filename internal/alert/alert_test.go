package alert

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := h.Subscribe(ctx)
	ch2 := h.Subscribe(ctx)

	evt := Event{ID: "a-1", Action: "unauthorized_access", Severity: "high", OrganizationID: "org-1"}
	h.Publish(evt)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != "a-1" || got.OrganizationID != "org-1" {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Publish(Event{ID: "burst"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscribeClosesOnContextEnd(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)

	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel to be closed without events")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	// Publishing after unsubscribe must not panic.
	h.Publish(Event{ID: "late"})
}
