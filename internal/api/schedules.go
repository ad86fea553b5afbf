package api

import (
	"encoding/json"
	"net/http"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

type createScheduleRequest struct {
	Name            string             `json:"name"`
	Cron            string             `json:"cron"`
	Timezone        string             `json:"timezone"`
	TargetLibraries []string           `json:"target_libraries"`
	BadgeTypes      []models.BadgeType `json:"badge_types"`
	ReprocessAll    bool               `json:"reprocess_all"`
	Enabled         bool               `json:"enabled"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Cron == "" {
		s.respondError(w, http.StatusBadRequest, "name and cron are required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	sch := &models.Schedule{
		Name:            req.Name,
		Cron:            req.Cron,
		Timezone:        req.Timezone,
		TargetLibraries: req.TargetLibraries,
		BadgeTypes:      req.BadgeTypes,
		ReprocessAll:    req.ReprocessAll,
		Enabled:         req.Enabled,
	}
	if err := s.schedules.Create(sch); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, Response{Success: true, Data: sch})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var (
		scheds []*models.Schedule
		err    error
	)
	if r.URL.Query().Get("enabled_only") == "true" {
		scheds, err = s.schedules.ListEnabled()
	} else {
		scheds, err = s.schedules.ListAll()
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: scheds})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	sch, err := s.schedules.Get(id)
	if err != nil {
		if err == store.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: sch})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.schedules.SetEnabled(id, req.Enabled); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	if err := s.schedules.Delete(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true})
}

// handleExecuteScheduleNow runs a schedule's library scan and job
// creation immediately, independent of the cron catch-up window.
func (s *Server) handleExecuteScheduleNow(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}
	exec, err := s.scheduler.ExecuteNow(id)
	if err != nil {
		if err == store.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: exec})
}
