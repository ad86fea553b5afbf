package api

import (
	"net/http"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

// filterFromQuery builds an ActivityFilter from the search/summary
// endpoint's query string.
func filterFromQuery(r *http.Request) store.ActivityFilter {
	q := r.URL.Query()
	f := store.ActivityFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := q.Get("activity_type"); v != "" {
		t := models.ActivityType(v)
		f.ActivityType = &t
	}
	if v := q.Get("status"); v != "" {
		st := models.ActivityStatus(v)
		f.Status = &st
	}
	if v := q.Get("success"); v != "" {
		b := v == "true"
		f.Success = &b
	}
	if v := q.Get("initiated_by"); v != "" {
		ib := models.InitiatedBy(v)
		f.InitiatedBy = &ib
	}
	if v := q.Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := q.Get("media_id"); v != "" {
		f.MediaID = &v
	}
	if v := q.Get("started_after"); v != "" {
		f.StartedAfter = &v
	}
	if v := q.Get("started_before"); v != "" {
		f.StartedBefore = &v
	}
	if v := q.Get("error_like"); v != "" {
		f.ErrorLike = &v
	}
	if v, err := parseUUIDParam(r, "batch_job_id"); err == nil {
		f.BatchJobID = &v
	}
	f.SortDesc = q.Get("sort") != "asc"
	return f
}

func (s *Server) handleAnalyticsSearch(w http.ResponseWriter, r *http.Request) {
	activities, total, err := s.analytics.Search(filterFromQuery(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"activities": activities,
		"total":      total,
	}})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.analytics.Summary(filterFromQuery(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: summary})
}

func (s *Server) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid batch job id")
		return
	}
	summary, err := s.analytics.BatchSummaryFor(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: summary})
}

func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	summary, err := s.analytics.UserSummaryFor(userID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: summary})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sugg, err := s.analytics.Suggestions()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: sugg})
}
