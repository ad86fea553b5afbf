package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

type createJobRequest struct {
	Owner      string             `json:"owner"`
	Name       string             `json:"name"`
	PosterIDs  []string           `json:"poster_ids"`
	BadgeTypes []models.BadgeType `json:"badge_types"`
	Priority   int                `json:"priority"`
}

// handleCreateJob validates and persists the request, splitting into
// multiple jobs when the poster count exceeds models.MaxPostersPerJob,
// and returns every job created.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" {
		s.respondError(w, http.StatusBadRequest, "owner is required")
		return
	}
	priority := req.Priority
	if priority == 0 {
		priority = models.DefaultPriority
	}

	jobs, err := s.manager.CreateJob(req.Owner, req.Name, req.PosterIDs, req.BadgeTypes, priority, models.JobSourceManual)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, Response{Success: true, Data: jobs})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.respondError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	var status *models.JobStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.JobStatus(v)
		status = &st
	}
	jobs, err := s.manager.ListUserJobs(owner, status)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.manager.GetJob(id)
	if err != nil {
		if err == store.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: job})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.jobControl(w, r, s.manager.Pause)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.jobControl(w, r, s.manager.Resume)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobControl(w, r, s.manager.Cancel)
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	s.jobControl(w, r, s.manager.Restart)
}

func (s *Server) jobControl(w http.ResponseWriter, r *http.Request, op func(id uuid.UUID) error) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := op(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}
