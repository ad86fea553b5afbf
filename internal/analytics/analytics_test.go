package analytics

import "testing"

func TestTopNErrors_OrdersByCountThenLexicographically(t *testing.T) {
	counts := map[string]int{
		"timeout":       2,
		"bad signature": 5,
		"not found":     5,
		"rare":          1,
	}
	got := topNErrors(counts, 3)
	want := []string{"bad signature", "not found", "timeout"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTopNErrors_CapsAtN(t *testing.T) {
	counts := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}
	got := topNErrors(counts, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0] != "d" || got[1] != "c" {
		t.Fatalf("expected top 2 by count descending, got %v", got)
	}
}
