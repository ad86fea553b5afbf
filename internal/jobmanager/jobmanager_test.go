package jobmanager

import (
	"reflect"
	"testing"
)

func TestSplitBatches_UnderLimitReturnsOneBatch(t *testing.T) {
	ids := []string{"a", "b", "c"}
	got := splitBatches(ids, 10)
	want := [][]string{{"a", "b", "c"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitBatches_SplitsIntoContiguousChunks(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	got := splitBatches(ids, 2)
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPriorityQueue(t *testing.T) {
	cases := []struct {
		priority int
		want     string
	}{
		{1, "critical"},
		{3, "critical"},
		{4, "default"},
		{7, "default"},
		{8, "low"},
		{10, "low"},
	}
	for _, c := range cases {
		if got := priorityQueue(c.priority); got != c.want {
			t.Errorf("priority %d: got %q, want %q", c.priority, got, c.want)
		}
	}
}
