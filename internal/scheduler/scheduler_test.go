package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
)

func TestPreviousFire_DailySchedule(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse("0 3 * * *") // daily at 03:00
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	asOf := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	got := previousFire(schedule, asOf)
	want := time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPreviousFire_BeforeFirstFireOfDay(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse("0 3 * * *")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	asOf := time.Date(2026, 7, 29, 1, 0, 0, 0, time.UTC)
	got := previousFire(schedule, asOf)
	want := time.Date(2026, 7, 28, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHasOverlayTag(t *testing.T) {
	withTag := mediaserver.Item{Tags: []string{"favorite", overlayTag}}
	if !hasOverlayTag(withTag) {
		t.Fatal("expected item with overlay tag to be detected")
	}

	withoutTag := mediaserver.Item{Tags: []string{"favorite"}}
	if hasOverlayTag(withoutTag) {
		t.Fatal("expected item without overlay tag to not be detected")
	}
}
