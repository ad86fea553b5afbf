package detect

import (
	"testing"

	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
)

func TestStreamAudioDetector_PicksHighestScoringStream(t *testing.T) {
	d := NewStreamAudioDetector()
	item := &mediaserver.Item{
		MediaStreams: []mediaserver.MediaStream{
			{Type: "Audio", Codec: "aac", Channels: 2},
			{Type: "Audio", Codec: "truehd", Channels: 8, Profile: "Atmos"},
			{Type: "Video", Codec: "hevc"},
		},
	}

	got, err := d.Detect(item, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Codec != "truehd" {
		t.Fatalf("expected truehd to win, got %q", got.Codec)
	}
}

func TestStreamAudioDetector_SeriesCachesAcrossCalls(t *testing.T) {
	d := NewStreamAudioDetector()
	episodes := []*mediaserver.Item{
		{MediaStreams: []mediaserver.MediaStream{{Type: "Audio", Codec: "dts", Channels: 6}}},
	}
	series := &mediaserver.Item{SeriesID: "series-1"}

	first, err := d.Detect(series, episodes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second call with different (would-be) episodes should still
	// return the cached result for this series id.
	different := []*mediaserver.Item{
		{MediaStreams: []mediaserver.MediaStream{{Type: "Audio", Codec: "aac", Channels: 2}}},
	}
	second, err := d.Detect(series, different)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Codec != first.Codec {
		t.Fatalf("expected cached codec %q, got %q", first.Codec, second.Codec)
	}
}

func TestWidthResolutionDetector(t *testing.T) {
	cases := []struct {
		name  string
		width int
		want  string
	}{
		{"4k", 3840, "4K"},
		{"1080p", 1920, "1080p"},
		{"720p", 1280, "720p"},
		{"sd", 720, "SD"},
	}
	d := NewWidthResolutionDetector()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			item := &mediaserver.Item{MediaStreams: []mediaserver.MediaStream{
				{Type: "Video", Width: c.width},
			}}
			got, err := d.Detect(item)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Label != c.want {
				t.Fatalf("width %d: want %s, got %s", c.width, c.want, got.Label)
			}
		})
	}
}

func TestWidthResolutionDetector_FlagsHDRAndDolbyVision(t *testing.T) {
	d := NewWidthResolutionDetector()
	item := &mediaserver.Item{MediaStreams: []mediaserver.MediaStream{
		{Type: "Video", Width: 3840, Profile: "HDR10", DisplayTitle: "2160p Dolby Vision"},
	}}
	got, err := d.Detect(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.HDR {
		t.Fatal("expected HDR to be detected")
	}
	if !got.DV {
		t.Fatal("expected Dolby Vision to be detected")
	}
}

func TestVoteThresholdReviewDetector(t *testing.T) {
	d := NewVoteThresholdReviewDetector(50)
	below := &mediaserver.Item{CommunityRating: 0}
	got, err := d.Detect(below)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.VoteCount != 0 {
		t.Fatalf("expected zero-rating item to be below threshold, got %+v", got)
	}

	above := &mediaserver.Item{CommunityRating: 8.5}
	got, err = d.Detect(above)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 8.5 {
		t.Fatalf("expected score 8.5, got %v", got.Score)
	}
}

func TestProviderAwardsDetector(t *testing.T) {
	d := NewProviderAwardsDetector()
	item := &mediaserver.Item{ProviderIDs: map[string]string{"Imdb": "tt123", "Tmdb": "456"}}
	got, err := d.Detect(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Sources) != 2 || got.Sources[0] != "Imdb" || got.Sources[1] != "Tmdb" {
		t.Fatalf("expected sorted [Imdb Tmdb], got %v", got.Sources)
	}
}
