package models

import "testing"

func TestValidBadgeType(t *testing.T) {
	if !ValidBadgeType("audio") {
		t.Fatal("expected audio to be a valid badge type")
	}
	if ValidBadgeType("subtitle") {
		t.Fatal("expected subtitle to be rejected")
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	cases := map[JobStatus]bool{
		JobQueued:    false,
		JobRunning:   false,
		JobPaused:    false,
		JobCompleted: true,
		JobFailed:    true,
		JobCancelled: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s: got %v, want %v", status, got, want)
		}
	}
}

func TestJob_CountersValid(t *testing.T) {
	j := &Job{TotalPosters: 10, CompletedPosters: 6, FailedPosters: 3}
	if !j.CountersValid() {
		t.Fatal("expected 6+3<=10 to be valid")
	}
	j.FailedPosters = 5
	if j.CountersValid() {
		t.Fatal("expected 6+5>10 to be invalid")
	}
}

func TestJob_TerminalConsistent(t *testing.T) {
	completed := &Job{Status: JobCompleted}
	if completed.TerminalConsistent() {
		t.Fatal("expected a terminal job with no CompletedAt to be inconsistent")
	}

	now := completed.CreatedAt
	completed.CompletedAt = &now
	if !completed.TerminalConsistent() {
		t.Fatal("expected a terminal job with CompletedAt set to be consistent")
	}

	running := &Job{Status: JobRunning}
	if !running.TerminalConsistent() {
		t.Fatal("expected a non-terminal job with no CompletedAt to be consistent")
	}
}

func TestMediaActivity_Invariant(t *testing.T) {
	processing := &MediaActivity{Status: ActivityProcessing}
	if !processing.Invariant() {
		t.Fatal("expected a processing activity to always satisfy the invariant")
	}

	incomplete := &MediaActivity{Status: ActivityCompleted}
	if incomplete.Invariant() {
		t.Fatal("expected a completed activity missing CompletedAt/Success to fail")
	}

	now := incomplete.StartedAt
	success := true
	dur := int64(500)
	valid := &MediaActivity{Status: ActivityCompleted, CompletedAt: &now, Success: &success, ProcessingDurationMS: &dur}
	if !valid.Invariant() {
		t.Fatal("expected a fully-populated completed activity to satisfy the invariant")
	}

	negative := int64(-1)
	invalidDur := &MediaActivity{Status: ActivityCompleted, CompletedAt: &now, Success: &success, ProcessingDurationMS: &negative}
	if invalidDur.Invariant() {
		t.Fatal("expected a negative duration to fail the invariant")
	}
}
