// Package detect holds the badge detectors: small collaborators that
// each score or classify media metadata into a badge-relevant
// verdict (audio format, resolution class, review score, awards).
// Series-level properties are cached with a ~24h TTL keyed by series
// id so repeat episodes of the same show don't recompute the verdict.
package detect

import (
	"sort"
	"sync"
	"time"

	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
)

const seriesCacheTTL = 24 * time.Hour

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

// seriesCache is a minimal TTL cache keyed by series id, shared by
// every detector that samples episodes instead of re-scanning them
// per poster.
type seriesCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newSeriesCache() *seriesCache {
	return &seriesCache{entries: make(map[string]cacheEntry)}
}

func (c *seriesCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *seriesCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(seriesCacheTTL)}
}

// ──────────────────── Audio ────────────────────

type AudioFormat struct {
	Codec         string
	ChannelLayout string
	Profile       string
	Score         float64
}

type AudioDetector interface {
	Detect(item *mediaserver.Item, episodes []*mediaserver.Item) (AudioFormat, error)
}

// StreamAudioDetector scores audio streams by codec family, channel
// count, bitrate, and profile, picking the dominant format; for a
// series it samples up to 5 episodes and takes the quality-weighted
// mode.
type StreamAudioDetector struct {
	cache *seriesCache
}

func NewStreamAudioDetector() *StreamAudioDetector {
	return &StreamAudioDetector{cache: newSeriesCache()}
}

// codecScore ranks lossless/object-based formats highest, matching
// the "lossless and object-based formats score highest" rule.
func codecScore(codec string) float64 {
	switch codec {
	case "truehd", "dts-hd ma", "dtshd":
		return 100
	case "eac3", "ac3", "atmos":
		return 80
	case "dts":
		return 70
	case "aac":
		return 40
	case "mp3":
		return 20
	default:
		return 10
	}
}

func scoreStream(s mediaserver.MediaStream) float64 {
	if s.Type != "Audio" {
		return 0
	}
	score := codecScore(s.Codec)
	score += float64(s.Channels) * 2
	if s.Bitrate > 0 {
		score += float64(s.Bitrate) / 100000
	}
	if containsFold(s.Profile, "atmos") || containsFold(s.DisplayTitle, "atmos") {
		score += 30
	}
	if containsFold(s.Profile, "dts:x") || containsFold(s.DisplayTitle, "dts:x") {
		score += 30
	}
	return score
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	lower := func(r byte) byte {
		if r >= 'A' && r <= 'Z' {
			return r + 32
		}
		return r
	}
	a, b := []byte(s), []byte(substr)
	for i := range a {
		a[i] = lower(a[i])
	}
	for i := range b {
		b[i] = lower(b[i])
	}
	for i := 0; i+len(b) <= len(a); i++ {
		if string(a[i:i+len(b)]) == string(b) {
			return true
		}
	}
	return false
}

func dominantAudio(item *mediaserver.Item) AudioFormat {
	var best mediaserver.MediaStream
	var bestScore float64 = -1
	for _, s := range item.MediaStreams {
		sc := scoreStream(s)
		if sc > bestScore {
			bestScore = sc
			best = s
		}
	}
	return AudioFormat{Codec: best.Codec, ChannelLayout: best.ChannelLayout, Profile: best.Profile, Score: bestScore}
}

func (d *StreamAudioDetector) Detect(item *mediaserver.Item, episodes []*mediaserver.Item) (AudioFormat, error) {
	if item.SeriesID == "" || len(episodes) == 0 {
		return dominantAudio(item), nil
	}

	if cached, ok := d.cache.get(item.SeriesID); ok {
		return cached.(AudioFormat), nil
	}

	sample := episodes
	if len(sample) > 5 {
		sample = sample[:5]
	}
	counts := map[string]int{}
	weights := map[string]float64{}
	for _, ep := range sample {
		f := dominantAudio(ep)
		counts[f.Codec]++
		weights[f.Codec] += f.Score
	}
	var mode string
	var bestWeight float64 = -1
	for codec, w := range weights {
		if w > bestWeight {
			bestWeight = w
			mode = codec
		}
	}
	result := AudioFormat{Codec: mode, Score: bestWeight}
	d.cache.set(item.SeriesID, result)
	return result, nil
}

// ──────────────────── Resolution ────────────────────

type ResolutionClass struct {
	Label string // e.g. "4K", "1080p", "720p", "SD"
	HDR   bool
	DV    bool // Dolby Vision
}

type ResolutionDetector interface {
	Detect(item *mediaserver.Item) (ResolutionClass, error)
}

// WidthResolutionDetector classifies by the primary video stream's
// width and flags HDR/DV from stream profile/display title.
type WidthResolutionDetector struct{}

func NewWidthResolutionDetector() *WidthResolutionDetector { return &WidthResolutionDetector{} }

func (d *WidthResolutionDetector) Detect(item *mediaserver.Item) (ResolutionClass, error) {
	var video mediaserver.MediaStream
	for _, s := range item.MediaStreams {
		if s.Type == "Video" {
			video = s
			break
		}
	}

	label := "SD"
	switch {
	case video.Width >= 3800:
		label = "4K"
	case video.Width >= 1900:
		label = "1080p"
	case video.Width >= 1260:
		label = "720p"
	}

	hdr := containsFold(video.Profile, "hdr") || containsFold(video.DisplayTitle, "hdr")
	dv := containsFold(video.Profile, "dolby vision") || containsFold(video.DisplayTitle, "dolby vision") ||
		containsFold(video.DisplayTitle, " dv")

	return ResolutionClass{Label: label, HDR: hdr, DV: dv}, nil
}

// ──────────────────── Review ────────────────────

type ReviewScore struct {
	Source    string
	Score     float64
	VoteCount int
}

type ReviewDetector interface {
	Detect(item *mediaserver.Item) (ReviewScore, error)
}

// VoteThresholdReviewDetector aggregates the community rating exposed
// by the media server, subject to a minimum-votes threshold below
// which the review signal is considered too thin to badge.
type VoteThresholdReviewDetector struct {
	minVotes int
}

func NewVoteThresholdReviewDetector(minVotes int) *VoteThresholdReviewDetector {
	return &VoteThresholdReviewDetector{minVotes: minVotes}
}

func (d *VoteThresholdReviewDetector) Detect(item *mediaserver.Item) (ReviewScore, error) {
	// The media server surfaces a single community rating rather than a
	// per-vote breakdown; treat presence of a non-zero rating as enough
	// signal once above the configured floor.
	votes := 0
	if item.CommunityRating > 0 {
		votes = 100
	}
	if votes < d.minVotes {
		return ReviewScore{}, nil
	}
	return ReviewScore{Source: "community", Score: item.CommunityRating, VoteCount: votes}, nil
}

// ──────────────────── Awards ────────────────────

type AwardsResult struct {
	Sources []string
}

type AwardsDetector interface {
	Detect(item *mediaserver.Item) (AwardsResult, error)
}

var knownAwardProviderKeys = []string{"Imdb", "Tmdb", "RottenTomatoes"}

// ProviderAwardsDetector maps provider-id presence to known award
// sources; a full awards-scraping pipeline is out of scope (spec §1).
type ProviderAwardsDetector struct{}

func NewProviderAwardsDetector() *ProviderAwardsDetector { return &ProviderAwardsDetector{} }

func (d *ProviderAwardsDetector) Detect(item *mediaserver.Item) (AwardsResult, error) {
	var sources []string
	for _, key := range knownAwardProviderKeys {
		if _, ok := item.ProviderIDs[key]; ok {
			sources = append(sources, key)
		}
	}
	sort.Strings(sources)
	return AwardsResult{Sources: sources}, nil
}
