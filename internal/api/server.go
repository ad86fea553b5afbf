// Package api is the HTTP/WebSocket surface: job submission/control,
// schedule CRUD, analytics endpoints, and the progress-subscription
// WebSocket, built on a stdlib http.ServeMux with Go 1.22 method-
// pattern routing and a Response{Success,Data,Error} envelope.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/analytics"
	"github.com/aphrodite-project/aphrodite/internal/jobmanager"
	"github.com/aphrodite-project/aphrodite/internal/progress"
	"github.com/aphrodite-project/aphrodite/internal/scheduler"
	"github.com/aphrodite-project/aphrodite/internal/store"
	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Server struct {
	manager   *jobmanager.Manager
	scheduler *scheduler.Scheduler
	schedules *store.ScheduleStore
	analytics *analytics.Service
	hub       *progress.Hub
	jwtSecret string
	router    *http.ServeMux
}

func NewServer(manager *jobmanager.Manager, sched *scheduler.Scheduler, schedules *store.ScheduleStore, an *analytics.Service, hub *progress.Hub, jwtSecret string) *Server {
	s := &Server{
		manager:   manager,
		scheduler: sched,
		schedules: schedules,
		analytics: an,
		hub:       hub,
		jwtSecret: jwtSecret,
		router:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /api/v1/jobs", s.handleCreateJob)
	s.router.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	s.router.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	s.router.HandleFunc("POST /api/v1/jobs/{id}/pause", s.handlePauseJob)
	s.router.HandleFunc("POST /api/v1/jobs/{id}/resume", s.handleResumeJob)
	s.router.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.handleCancelJob)
	s.router.HandleFunc("POST /api/v1/jobs/{id}/restart", s.handleRestartJob)

	s.router.HandleFunc("GET /api/v1/schedules", s.handleListSchedules)
	s.router.HandleFunc("POST /api/v1/schedules", s.handleCreateSchedule)
	s.router.HandleFunc("GET /api/v1/schedules/{id}", s.handleGetSchedule)
	s.router.HandleFunc("PUT /api/v1/schedules/{id}/enabled", s.handleSetScheduleEnabled)
	s.router.HandleFunc("DELETE /api/v1/schedules/{id}", s.handleDeleteSchedule)
	s.router.HandleFunc("POST /api/v1/schedules/{id}/execute-now", s.handleExecuteScheduleNow)

	s.router.HandleFunc("GET /api/v1/analytics/search", s.handleAnalyticsSearch)
	s.router.HandleFunc("GET /api/v1/analytics/summary", s.handleAnalyticsSummary)
	s.router.HandleFunc("GET /api/v1/analytics/batch/{id}", s.handleBatchSummary)
	s.router.HandleFunc("GET /api/v1/analytics/user/{id}", s.handleUserSummary)
	s.router.HandleFunc("GET /api/v1/analytics/suggestions", s.handleSuggestions)

	s.router.HandleFunc("GET /api/v1/ws/jobs/{id}", s.handleJobWebSocket)
	s.router.HandleFunc("POST /api/v1/worker/broadcast-progress", s.serviceAuth(s.handleBroadcastProgress))
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, Response{Success: false, Error: message})
}

// respondErr maps a workflowerr.Error's Kind to its HTTP status; any
// other error becomes a 500.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	if we, ok := err.(*workflowerr.Error); ok {
		s.respondError(w, we.Kind.HTTPStatus(), we.Error())
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "ok"}})
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
