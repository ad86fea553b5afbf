// Package progress fans out job progress: an in-process Hub for
// WebSocket clients (client registry, per-subscriber send channel,
// a buffered snapshot for late joiners) plus a Redis-backed Bus so
// progress events reach subscribers connected to a different process
// than the worker that produced them.
package progress

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is one progress update published for a job.
type Event struct {
	JobID            uuid.UUID `json:"job_id"`
	Status           string    `json:"status"`
	CompletedPosters int       `json:"completed_posters"`
	FailedPosters    int       `json:"failed_posters"`
	TotalPosters     int       `json:"total_posters"`
	CurrentPosterID  string    `json:"current_poster_id,omitempty"`
	Message          string    `json:"message,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Status == "completed" || e.Status == "failed" || e.Status == "cancelled"
}

type Subscriber struct {
	jobID uuid.UUID
	send  chan []byte
}

// Hub fans progress events out to local WebSocket clients, tracking
// the latest event per job so a client that connects mid-job gets a
// snapshot instead of silence until the next update.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*Subscriber]bool
	lastSeen map[uuid.UUID]json.RawMessage
}

func NewHub() *Hub {
	return &Hub{
		subs:     make(map[*Subscriber]bool),
		lastSeen: make(map[uuid.UUID]json.RawMessage),
	}
}

// Publish delivers an event to every subscriber of e.JobID and
// updates the snapshot, pruning it once the job reaches a terminal
// status so late joiners don't replay a finished job forever.
func (h *Hub) Publish(e Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}

	h.mu.Lock()
	if e.Terminal() {
		delete(h.lastSeen, e.JobID)
	} else {
		h.lastSeen[e.JobID] = raw
	}
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.jobID == e.JobID {
			subs = append(subs, s)
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.send <- raw:
		default:
		}
	}
}

// Subscribe registers a new subscriber for jobID and returns it along
// with any currently-buffered snapshot so the caller can replay it
// before waiting on further sends.
func (h *Hub) Subscribe(jobID uuid.UUID) (*Subscriber, []byte) {
	s := &Subscriber{jobID: jobID, send: make(chan []byte, 32)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = true
	return s, h.lastSeen[jobID]
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		close(s.send)
		delete(h.subs, s)
	}
}

func (s *Subscriber) Chan() <-chan []byte { return s.send }

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
