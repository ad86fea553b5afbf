package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aphrodite-project/aphrodite/internal/detect"
	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
	"github.com/aphrodite-project/aphrodite/internal/models"
)

func TestBottleneckStage_PicksLongestStage(t *testing.T) {
	timings := map[string]int64{
		"resolve": 10,
		"download": 250,
		"compose": 40,
	}
	if got := bottleneckStage(timings); got != "download" {
		t.Fatalf("got %q, want %q", got, "download")
	}
}

func TestBottleneckStage_EmptyReturnsEmptyString(t *testing.T) {
	if got := bottleneckStage(map[string]int64{}); got != "" {
		t.Fatalf("expected empty string for no stages, got %q", got)
	}
}

func TestCacheOriginal_WritesOncePerContentHash(t *testing.T) {
	dir := t.TempDir()
	p := &Pipeline{cacheDir: dir}
	data := []byte("poster-bytes")

	if err := p.cacheOriginal("poster-1", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 cached file, got %d", len(entries))
	}

	// Caching the same bytes again under a different poster id should
	// not create a second file: the cache key is content-addressed.
	if err := p.cacheOriginal("poster-2", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected cache to stay at 1 file for identical content, got %d", len(entries))
	}
}

func TestWriteOutput_WritesUnderTempDir(t *testing.T) {
	dir := t.TempDir()
	p := &Pipeline{tempDir: dir}

	path, err := p.writeOutput("poster-9", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected output under %s, got %s", dir, path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written output: %v", err)
	}
	if string(got) != "jpeg-bytes" {
		t.Fatal("expected written content to match input")
	}
}

type stubAudioDetector struct{ codec string }

func (s stubAudioDetector) Detect(item *mediaserver.Item, episodes []*mediaserver.Item) (detect.AudioFormat, error) {
	return detect.AudioFormat{Codec: s.codec}, nil
}

func TestDetectOne_AudioUsesDetectorLabel(t *testing.T) {
	p := &Pipeline{detectors: Detectors{Audio: stubAudioDetector{codec: "truehd"}}}
	req := p.detectOne(&mediaserver.Item{}, nil, models.BadgeAudio)
	if req.Label != "truehd" {
		t.Fatalf("got label %q, want %q", req.Label, "truehd")
	}
	if req.BadgeType != models.BadgeAudio {
		t.Fatalf("got badge type %q, want audio", req.BadgeType)
	}
}
