package api

import (
	"encoding/json"
	"log"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/progress"
)

// handleJobWebSocket subscribes a client to progress events for one
// job, replaying a buffered snapshot for late joiners and then
// forwarding live events until the job reaches a terminal status or
// the client disconnects. A writer loop drains the subscriber's send
// channel while a reader goroutine exists solely to detect client
// disconnects.
func (s *Server) handleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseUUIDParam(r, "id")
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[api] websocket accept error: %v", err)
		return
	}

	sub, snapshot := s.hub.Subscribe(jobID)
	defer s.hub.Unsubscribe(sub)

	ctx := r.Context()

	if snapshot == nil {
		snapshot = s.jobStoreSnapshot(jobID)
	}

	if snapshot != nil {
		if err := conn.Write(ctx, websocket.MessageText, snapshot); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.Chan():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			var ev progress.Event
			if json.Unmarshal(msg, &ev) == nil && ev.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
		case <-done:
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// jobStoreSnapshot computes a progress snapshot straight from the Job
// Store for a fresh subscription the hub has nothing buffered for —
// either the job has been running a while with no recent event, or
// the hub was cleared by an API restart. Returns nil if the job can't
// be loaded.
func (s *Server) jobStoreSnapshot(jobID uuid.UUID) []byte {
	job, err := s.manager.GetJob(jobID)
	if err != nil {
		return nil
	}
	ev := progress.Event{
		JobID:            job.ID,
		Status:           string(job.Status),
		CompletedPosters: job.CompletedPosters,
		FailedPosters:    job.FailedPosters,
		TotalPosters:     job.TotalPosters,
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return raw
}

// handleBroadcastProgress lets an out-of-process worker push a
// progress event into this API's hub/bus, guarded by serviceAuth
// since the caller is a worker, not a user.
func (s *Server) handleBroadcastProgress(w http.ResponseWriter, r *http.Request) {
	var ev progress.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid progress event")
		return
	}
	if err := s.manager.BroadcastProgress(ev); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}
