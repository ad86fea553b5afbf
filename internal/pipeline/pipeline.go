// Package pipeline runs one poster through seven stages: resolve,
// download, detect, compose, upload, tag, record. A handler struct is
// wired with its collaborators (media client, detectors, composer,
// activity tracker) behind a single Process entry point, timing each
// stage and logging failures with log.Printf.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/activity"
	"github.com/aphrodite-project/aphrodite/internal/badges"
	"github.com/aphrodite-project/aphrodite/internal/detect"
	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

// OverlayTag marks an item as already carrying an Aphrodite-composed
// poster; the scheduler skips already-tagged items unless a schedule
// forces reprocessing.
const OverlayTag = "aphrodite-overlay"

const maxUploadAttempts = 3

type Detectors struct {
	Audio      detect.AudioDetector
	Resolution detect.ResolutionDetector
	Review     detect.ReviewDetector
	Awards     detect.AwardsDetector
}

type Pipeline struct {
	media     *mediaserver.Client
	detectors Detectors
	composer  badges.Composer
	tracker   *activity.Tracker
	cacheDir  string
	tempDir   string
}

func New(media *mediaserver.Client, detectors Detectors, composer badges.Composer, tracker *activity.Tracker, cacheDir, tempDir string) *Pipeline {
	return &Pipeline{media: media, detectors: detectors, composer: composer, tracker: tracker, cacheDir: cacheDir, tempDir: tempDir}
}

type Outcome struct {
	PosterID    string
	Success     bool
	OutputPath  string
	Err         error
	TagFailed   bool // upload ok, tag failed: non-fatal
}

// Process runs one poster through all seven stages for the given job,
// recording a top-level activity regardless of outcome.
func (p *Pipeline) Process(ctx context.Context, jobID uuid.UUID, posterID string, badgeTypes []models.BadgeType) Outcome {
	started := time.Now().UTC()
	activityID, actErr := p.tracker.Start(posterID, models.ActivityBadgeApplication, models.InitiatedByBatchOperation,
		activity.WithBatchJobID(jobID),
		activity.WithInputParameters(map[string]interface{}{"badge_types": badgeTypes}))
	if actErr != nil {
		log.Printf("pipeline: failed to start activity for poster %s: %v", posterID, actErr)
	}

	stageTimings := map[string]int64{}
	outcome := p.run(ctx, activityID, posterID, badgeTypes, stageTimings)

	if actErr == nil {
		result := map[string]interface{}{"output_path": outcome.OutputPath, "tag_failed": outcome.TagFailed}
		var errMsg *string
		if outcome.Err != nil {
			m := outcome.Err.Error()
			errMsg = &m
		}
		if err := p.tracker.Complete(activityID, started, outcome.Success, result, errMsg); err != nil {
			log.Printf("pipeline: failed to complete activity %s: %v", activityID, err)
		}
	}

	return outcome
}

func (p *Pipeline) run(ctx context.Context, activityID uuid.UUID, posterID string, badgeTypes []models.BadgeType, stageTimings map[string]int64) Outcome {
	stage := func(name string, fn func() error) error {
		t0 := time.Now()
		err := fn()
		stageTimings[name] = time.Since(t0).Milliseconds()
		return err
	}

	// 1. Resolve item.
	var item *mediaserver.Item
	if err := stage("resolve", func() error {
		i, err := p.media.GetItem(ctx, posterID)
		item = i
		return err
	}); err != nil {
		return Outcome{PosterID: posterID, Err: classifyResolveErr(err)}
	}

	// 2. Download original, content-address cache it for revert.
	var original []byte
	if err := stage("download", func() error {
		data, err := p.media.DownloadPoster(ctx, posterID)
		original = data
		return err
	}); err != nil {
		return Outcome{PosterID: posterID, Err: err}
	}
	if err := p.cacheOriginal(posterID, original); err != nil {
		log.Printf("pipeline: failed to cache original for %s: %v", posterID, err)
	}

	// 3. Detect, one per requested badge kind.
	var episodes []*mediaserver.Item
	if item.SeriesID != "" {
		eps, err := p.media.GetSeriesEpisodes(ctx, item.SeriesID, 5)
		if err == nil {
			for i := range eps {
				episodes = append(episodes, &eps[i])
			}
		}
	}

	var reqs []badges.Request
	_ = stage("detect", func() error {
		for _, bt := range badgeTypes {
			reqs = append(reqs, p.detectOne(item, episodes, bt))
		}
		return nil
	})

	// 4. Compose.
	var composed badges.Result
	var perBadge []models.BadgeResult
	if err := stage("compose", func() error {
		r, results, err := p.composer.Compose(original, reqs)
		composed = r
		perBadge = results
		return err
	}); err != nil {
		return Outcome{PosterID: posterID, Err: workflowerr.New(workflowerr.ComposerFailed, "Process.compose", err)}
	}

	// 5. Upload, with retry budget + backoff/jitter.
	var uploadErr error
	_ = stage("upload", func() error {
		uploadErr = p.uploadWithRetry(ctx, posterID, composed.Image)
		return uploadErr
	})
	if uploadErr != nil {
		return Outcome{PosterID: posterID, Err: uploadErr}
	}

	outputPath, writeErr := p.writeOutput(posterID, composed.Image)
	if writeErr != nil {
		log.Printf("pipeline: failed to persist composed output for %s: %v", posterID, writeErr)
	}

	// 6. Tag — non-fatal on failure.
	tagFailed := false
	_ = stage("tag", func() error {
		if err := p.media.AddTag(ctx, posterID, OverlayTag); err != nil {
			tagFailed = true
			log.Printf("pipeline: tag update failed for %s (non-fatal): %v", posterID, err)
		}
		return nil
	})

	// 7. Record detail rows.
	p.recordDetails(activityID, posterID, badgeTypes, perBadge, composed, outputPath, stageTimings)

	return Outcome{PosterID: posterID, Success: true, OutputPath: outputPath, TagFailed: tagFailed}
}

// classifyResolveErr preserves a *workflowerr.Error already classified
// by the mediaserver client (e.g. NetworkTransient for a 5xx/transport
// failure, which must stay retryable) and only falls back to
// ItemMissing for an error GetItem didn't classify itself.
func classifyResolveErr(err error) error {
	if we, ok := err.(*workflowerr.Error); ok {
		return we
	}
	return workflowerr.New(workflowerr.ItemMissing, "Process.resolve", err)
}

func (p *Pipeline) detectOne(item *mediaserver.Item, episodes []*mediaserver.Item, bt models.BadgeType) badges.Request {
	switch bt {
	case models.BadgeAudio:
		f, _ := p.detectors.Audio.Detect(item, episodes)
		return badges.Request{BadgeType: bt, Label: f.Codec, Position: badges.PositionTopLeft}
	case models.BadgeResolution:
		r, _ := p.detectors.Resolution.Detect(item)
		label := r.Label
		if r.HDR {
			label += " HDR"
		}
		if r.DV {
			label += " DV"
		}
		return badges.Request{BadgeType: bt, Label: label, Position: badges.PositionTopRight}
	case models.BadgeReview:
		r, _ := p.detectors.Review.Detect(item)
		return badges.Request{BadgeType: bt, Label: fmt.Sprintf("%.1f", r.Score), Position: badges.PositionBottomLeft}
	case models.BadgeAwards:
		a, _ := p.detectors.Awards.Detect(item)
		label := "awards"
		if len(a.Sources) > 0 {
			label = a.Sources[0]
		}
		return badges.Request{BadgeType: bt, Label: label, Position: badges.PositionBottomRight}
	default:
		return badges.Request{BadgeType: bt}
	}
}

// uploadWithRetry uploads the composed poster, retrying upload
// verification failures up to maxUploadAttempts with exponential
// backoff and jitter.
func (p *Pipeline) uploadWithRetry(ctx context.Context, posterID string, data []byte) error {
	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		if err := p.media.UploadPoster(ctx, posterID, data); err != nil {
			lastErr = err
			we, ok := err.(*workflowerr.Error)
			if !ok || !we.Kind.Retryable() || attempt == maxUploadAttempts {
				return err
			}
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			jitter := time.Duration(rand.Intn(250)) * time.Millisecond
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (p *Pipeline) cacheOriginal(posterID string, data []byte) error {
	if p.cacheDir == "" || len(data) == 0 {
		return nil
	}
	sum := sha256.Sum256(data)
	path := filepath.Join(p.cacheDir, hex.EncodeToString(sum[:])+".orig")
	if _, err := os.Stat(path); err == nil {
		return nil // already cached under this content hash
	}
	if err := os.MkdirAll(p.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *Pipeline) writeOutput(posterID string, data []byte) (string, error) {
	if p.tempDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.tempDir, posterID+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// recordDetails attaches the BadgeApplication and PerformanceMetric
// detail rows to the poster's top-level activity. Each writer
// verifies the parent activity exists before inserting.
// A missing activity (activityID == uuid.Nil, e.g. Start failed
// earlier) is skipped without writing detail rows; Process has already
// logged the Start failure.
func (p *Pipeline) recordDetails(activityID uuid.UUID, posterID string, badgeTypes []models.BadgeType, perBadge []models.BadgeResult, composed badges.Result, outputPath string, stageTimings map[string]int64) {
	if activityID == uuid.Nil {
		return
	}

	badgeApp := &models.BadgeApplication{
		ActivityID:        activityID,
		BadgeTypesApplied: badgeTypes,
		InputPath:         posterID,
		OutputPath:        outputPath,
		PerBadgeResults:   perBadge,
		FinalWidth:        composed.Width,
		FinalHeight:       composed.Height,
		FinalBytes:        int64(len(composed.Image)),
		StageTimingsMS:    stageTimings,
	}
	if err := p.tracker.LogBadgeApplication(badgeApp); err != nil {
		log.Printf("pipeline: failed to log badge application for %s: %v", posterID, err)
	}

	perf := &models.PerformanceMetric{
		ActivityID:     activityID,
		StageTimingsMS: stageTimings,
	}
	perf.BottleneckStage = bottleneckStage(stageTimings)
	if err := p.tracker.LogPerformanceMetric(perf); err != nil {
		log.Printf("pipeline: failed to log performance metric for %s: %v", posterID, err)
	}
}

func bottleneckStage(timings map[string]int64) string {
	var stage string
	var max int64 = -1
	for name, ms := range timings {
		if ms > max {
			max = ms
			stage = name
		}
	}
	return stage
}
