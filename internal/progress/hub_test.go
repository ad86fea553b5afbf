package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHub_SubscriberReceivesPublishedEvent(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()
	sub, snapshot := h.Subscribe(jobID)
	if snapshot != nil {
		t.Fatal("expected no snapshot for a job with no prior events")
	}
	defer h.Unsubscribe(sub)

	h.Publish(Event{JobID: jobID, Status: "running", CompletedPosters: 1, TotalPosters: 5})

	select {
	case msg := <-sub.Chan():
		if len(msg) == 0 {
			t.Fatal("expected a non-empty message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHub_LateJoinerGetsSnapshot(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()
	h.Publish(Event{JobID: jobID, Status: "running", CompletedPosters: 3, TotalPosters: 10})

	sub, snapshot := h.Subscribe(jobID)
	defer h.Unsubscribe(sub)
	if snapshot == nil {
		t.Fatal("expected a buffered snapshot for a late joiner")
	}
}

func TestHub_TerminalEventPrunesSnapshot(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()
	h.Publish(Event{JobID: jobID, Status: "running"})
	h.Publish(Event{JobID: jobID, Status: "completed"})

	_, snapshot := h.Subscribe(jobID)
	if snapshot != nil {
		t.Fatal("expected no snapshot once the job reached a terminal status")
	}
}

func TestHub_UnsubscribeRemovesSubscriber(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()
	sub, _ := h.Subscribe(jobID)
	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount())
	}
	h.Unsubscribe(sub)
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", h.SubscriberCount())
	}
}

func TestEvent_Terminal(t *testing.T) {
	cases := map[string]bool{
		"completed": true,
		"failed":    true,
		"cancelled": true,
		"running":   false,
		"queued":    false,
	}
	for status, want := range cases {
		if got := (Event{Status: status}).Terminal(); got != want {
			t.Errorf("status %q: got %v, want %v", status, got, want)
		}
	}
}
