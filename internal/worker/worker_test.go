package worker

import "testing"

func TestMostFrequentError_PicksHighestCount(t *testing.T) {
	counts := map[string]int{
		"timeout contacting media server": 2,
		"upload verification failed":      5,
		"poster not found":                1,
	}
	got := mostFrequentError(counts)
	if got != "upload verification failed" {
		t.Fatalf("expected highest-count message, got %q", got)
	}
}

func TestMostFrequentError_TiesBreakLexicographically(t *testing.T) {
	counts := map[string]int{
		"zeta error":  3,
		"alpha error": 3,
	}
	got := mostFrequentError(counts)
	if got != "alpha error" {
		t.Fatalf("expected lexicographically-first tie winner, got %q", got)
	}
}

func TestIncr_SequentialCallsAccumulate(t *testing.T) {
	var n int64
	if incr(&n) != 1 {
		t.Fatal("expected first call to return 1")
	}
	if incr(&n) != 2 {
		t.Fatal("expected second call to return 2")
	}
}
