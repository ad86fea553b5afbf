// Package worker is an asynq task handler that pulls a job's posters
// through the pipeline under bounded per-job concurrency, tracks
// counters, and publishes progress: unmarshal the task payload,
// publish a progress event after each poster finishes, and check for
// cooperative cancellation between units of work.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/pipeline"
	"github.com/aphrodite-project/aphrodite/internal/progress"
	"github.com/aphrodite-project/aphrodite/internal/store"
	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

const TaskProcessJob = "job:process"

type JobPayload struct {
	JobID string `json:"job_id"`
}

type Handler struct {
	jobs                 *store.JobStore
	pipeline             *pipeline.Pipeline
	bus                  *progress.Bus
	hub                  *progress.Hub
	maxPosterConcurrency int
	maxAttemptsPerPoster int
}

func NewHandler(jobs *store.JobStore, pl *pipeline.Pipeline, bus *progress.Bus, hub *progress.Hub, maxPosterConcurrency, maxAttemptsPerPoster int) *Handler {
	if maxPosterConcurrency <= 0 {
		maxPosterConcurrency = 3
	}
	if maxAttemptsPerPoster <= 0 {
		maxAttemptsPerPoster = 3
	}
	return &Handler{jobs: jobs, pipeline: pl, bus: bus, hub: hub, maxPosterConcurrency: maxPosterConcurrency, maxAttemptsPerPoster: maxAttemptsPerPoster}
}

// ProcessTask implements asynq.Handler, pulling the job named in the
// payload and running it to a terminal state.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p JobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal job payload: %w", err)
	}
	jobID, err := uuid.Parse(p.JobID)
	if err != nil {
		return fmt.Errorf("parse job id: %w", err)
	}

	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	if err := h.jobs.TransitionJob(jobID, []models.JobStatus{models.JobQueued}, models.JobRunning); err != nil {
		// Already running (a previous attempt) or paused/cancelled out
		// from under us — nothing to do.
		log.Printf("worker: job %s not eligible to start: %v", jobID, err)
		return nil
	}

	h.runJob(ctx, job)
	return nil
}

type posterResult struct {
	posterID string
	success  bool
	err      error
}

func (h *Handler) runJob(ctx context.Context, job *models.Job) {
	sem := make(chan struct{}, h.maxPosterConcurrency)
	var wg sync.WaitGroup
	results := make(chan posterResult, len(job.SelectedPosterIDs))

	var startTimes sync.Map // posterID -> time.Time, for ETA extrapolation
	var doneCount int64
	totalCount := int64(len(job.SelectedPosterIDs))
	jobStart := time.Now()

	for _, posterID := range job.SelectedPosterIDs {
		if h.shouldStop(job.ID) {
			break
		}
		if current, err := h.posterAlreadyTerminal(job.ID, posterID); err == nil && current {
			continue // resumed job: skip posters already terminal from a prior run
		}

		sem <- struct{}{}
		wg.Add(1)
		startTimes.Store(posterID, time.Now())
		go func(posterID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if h.shouldStop(job.ID) {
				return
			}

			_ = h.jobs.UpsertPosterStatus(job.ID, posterID, models.PosterProcessing, nil, nil, false)
			outcome := h.processWithRetry(ctx, job.ID, posterID, job.BadgeTypes)

			var outPath, errMsg *string
			if outcome.OutputPath != "" {
				outPath = &outcome.OutputPath
			}
			status := models.PosterCompleted
			if !outcome.Success {
				status = models.PosterFailed
				if outcome.Err != nil {
					m := outcome.Err.Error()
					errMsg = &m
				}
			}
			_ = h.jobs.UpsertPosterStatus(job.ID, posterID, status, outPath, errMsg, false)

			doneDelta, failDelta := 1, 0
			if !outcome.Success {
				doneDelta, failDelta = 0, 1
			}
			_ = h.jobs.IncrementCounters(job.ID, doneDelta, failDelta)

			results <- posterResult{posterID: posterID, success: outcome.Success, err: outcome.Err}
		}(posterID)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	errorCounts := map[string]int{}
	for r := range results {
		completed := incr(&doneCount)
		h.publishProgress(job, completed, totalCount, r.posterID, jobStart)
		if r.err != nil {
			errorCounts[r.err.Error()]++
		}
	}

	h.finalize(job.ID, errorCounts)
}

// processWithRetry runs one poster through the pipeline, retrying a
// Retryable-classified failure (network_transient, upload verification,
// store conflict) up to maxAttemptsPerPoster times with exponential
// backoff and jitter. Each retry is recorded with isRetry=true so
// retry_count reflects the real attempt history; a non-retryable
// failure or the final attempt returns immediately.
func (h *Handler) processWithRetry(ctx context.Context, jobID uuid.UUID, posterID string, badgeTypes []models.BadgeType) pipeline.Outcome {
	var outcome pipeline.Outcome
	for attempt := 1; attempt <= h.maxAttemptsPerPoster; attempt++ {
		outcome = h.pipeline.Process(ctx, jobID, posterID, badgeTypes)
		if outcome.Success {
			return outcome
		}

		we, ok := outcome.Err.(*workflowerr.Error)
		if !ok || !we.Kind.Retryable() || attempt == h.maxAttemptsPerPoster {
			return outcome
		}

		_ = h.jobs.UpsertPosterStatus(jobID, posterID, models.PosterProcessing, nil, nil, true)

		backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return outcome
		}
	}
	return outcome
}

// incr is called only from the single results-draining goroutine, so
// a plain increment is safe without sync/atomic.
func incr(n *int64) int64 {
	*n++
	return *n
}

func (h *Handler) shouldStop(jobID uuid.UUID) bool {
	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		return true
	}
	return job.Status == models.JobCancelled || job.Status == models.JobPaused
}

func (h *Handler) posterAlreadyTerminal(jobID uuid.UUID, posterID string) (bool, error) {
	ps, err := h.jobs.GetPosterStatus(jobID, posterID)
	if err != nil {
		return false, err
	}
	return ps.Status.Terminal(), nil
}

func (h *Handler) publishProgress(job *models.Job, completed, total int64, currentPoster string, jobStart time.Time) {
	refreshed, err := h.jobs.GetJob(job.ID)
	if err != nil {
		return
	}

	if completed > 0 {
		avgPerDone := time.Since(jobStart) / time.Duration(completed)
		remaining := total - completed
		if remaining > 0 {
			eta := time.Now().Add(avgPerDone * time.Duration(remaining))
			_ = h.jobs.SetEstimatedCompletion(job.ID, eta)
		}
	}

	event := progress.Event{
		JobID:            job.ID,
		Status:           string(refreshed.Status),
		CompletedPosters: refreshed.CompletedPosters,
		FailedPosters:    refreshed.FailedPosters,
		TotalPosters:      refreshed.TotalPosters,
		CurrentPosterID:  currentPoster,
	}
	h.hub.Publish(event)
	if h.bus != nil {
		if err := h.bus.Publish(context.Background(), event); err != nil {
			log.Printf("worker: failed to publish progress for job %s: %v", job.ID, err)
		}
	}
}

// finalize marks the job completed (with a non-empty error_summary if
// any poster failed) once every poster has reached a terminal state.
// There is no dedicated completed_with_errors job state — completion
// is defined purely by all posters being terminal.
func (h *Handler) finalize(jobID uuid.UUID, errorCounts map[string]int) {
	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		log.Printf("worker: failed to reload job %s for finalize: %v", jobID, err)
		return
	}
	if job.Status == models.JobCancelled || job.Status == models.JobPaused {
		return
	}

	if err := h.jobs.TransitionJob(jobID, []models.JobStatus{models.JobRunning}, models.JobCompleted); err != nil {
		log.Printf("worker: failed to transition job %s to completed: %v", jobID, err)
		return
	}

	if len(errorCounts) > 0 {
		summary := mostFrequentError(errorCounts)
		if err := h.jobs.SetErrorSummary(jobID, summary); err != nil {
			log.Printf("worker: failed to set error summary for job %s: %v", jobID, err)
		}
	}

	finalEvent := progress.Event{JobID: jobID, Status: string(models.JobCompleted)}
	h.hub.Publish(finalEvent)
	if h.bus != nil {
		_ = h.bus.Publish(context.Background(), finalEvent)
	}
}

// mostFrequentError picks the error message with the highest
// occurrence count, breaking ties by the lexicographically first
// message so the result is deterministic across runs.
func mostFrequentError(counts map[string]int) string {
	type pair struct {
		msg string
		n   int
	}
	pairs := make([]pair, 0, len(counts))
	for msg, n := range counts {
		pairs = append(pairs, pair{msg, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].msg < pairs[j].msg
	})
	return pairs[0].msg
}
