package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON_WritesStatusAndBody(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.respondJSON(rec, http.StatusCreated, Response{Success: true, Data: map[string]string{"k": "v"}})

	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusCreated)
	}
	var got Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !got.Success {
		t.Fatal("expected Success to be true")
	}
}

func TestRespondError_SetsErrorField(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.respondError(rec, http.StatusBadRequest, "bad input")

	var got Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Success {
		t.Fatal("expected Success to be false")
	}
	if got.Error != "bad input" {
		t.Fatalf("got error %q, want %q", got.Error, "bad input")
	}
}

func TestParseUUIDParam_InvalidReturnsError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	if _, err := parseUUIDParam(req, "id"); err == nil {
		t.Fatal("expected an error for a malformed uuid")
	}
}

func TestQueryInt_FallsBackOnMissingOrInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=20", nil)
	if got := queryInt(req, "limit", 50); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
	if got := queryInt(req, "offset", 5); got != 5 {
		t.Fatalf("got %d, want fallback 5", got)
	}

	bad := httptest.NewRequest(http.MethodGet, "/x?limit=notanumber", nil)
	if got := queryInt(bad, "limit", 50); got != 50 {
		t.Fatalf("got %d, want fallback 50 for invalid input", got)
	}
}

func TestFilterFromQuery_ParsesKnownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?activity_type=badge_application&success=true&user_id=u1&sort=asc", nil)
	f := filterFromQuery(req)
	if f.ActivityType == nil || string(*f.ActivityType) != "badge_application" {
		t.Fatalf("expected activity_type to be parsed, got %v", f.ActivityType)
	}
	if f.Success == nil || !*f.Success {
		t.Fatal("expected success=true to be parsed")
	}
	if f.UserID == nil || *f.UserID != "u1" {
		t.Fatal("expected user_id to be parsed")
	}
	if f.SortDesc {
		t.Fatal("expected sort=asc to set SortDesc false")
	}
}
