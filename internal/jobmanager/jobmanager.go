// Package jobmanager owns public job lifecycle operations: create,
// pause, resume, cancel, restart, and progress broadcast. It never
// runs pipeline work itself — only writes the store and enqueues
// tasks for the worker to pick up.
package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/progress"
	"github.com/aphrodite-project/aphrodite/internal/store"
	"github.com/aphrodite-project/aphrodite/internal/worker"
)

// priorityQueue maps a job's 1-10 priority into one of the three
// weighted asynq queues (critical/default/low) the worker consumes.
func priorityQueue(priority int) string {
	switch {
	case priority <= 3:
		return "critical"
	case priority <= 7:
		return "default"
	default:
		return "low"
	}
}

type Manager struct {
	jobs   *store.JobStore
	client *asynq.Client
	hub    *progress.Hub
	bus    *progress.Bus
}

func New(jobs *store.JobStore, client *asynq.Client, hub *progress.Hub, bus *progress.Bus) *Manager {
	return &Manager{jobs: jobs, client: client, hub: hub, bus: bus}
}

// CreateJob validates and persists the request, splitting into
// contiguous batches of at most models.MaxPostersPerJob posters named
// "{name} (Batch i/N)" when the request exceeds that limit, then
// dispatches each resulting job. A job whose dispatch fails is marked
// failed with an error summary rather than left stuck queued forever.
func (m *Manager) CreateJob(owner, name string, posterIDs []string, badgeTypes []models.BadgeType, priority int, source models.JobSource) ([]*models.Job, error) {
	batches := splitBatches(posterIDs, models.MaxPostersPerJob)

	jobs := make([]*models.Job, 0, len(batches))
	for i, batch := range batches {
		batchName := name
		if len(batches) > 1 {
			batchName = fmt.Sprintf("%s (Batch %d/%d)", name, i+1, len(batches))
		}
		job, err := m.jobs.CreateJob(owner, batchName, batch, badgeTypes, priority, source)
		if err != nil {
			return nil, err
		}
		if err := m.dispatch(job); err != nil {
			_ = m.jobs.SetErrorSummary(job.ID, fmt.Sprintf("failed to dispatch job: %v", err))
			_ = m.jobs.TransitionJob(job.ID, []models.JobStatus{models.JobQueued}, models.JobFailed)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// splitBatches divides ids into contiguous chunks of at most max
// elements, preserving order.
func splitBatches(ids []string, max int) [][]string {
	if len(ids) <= max {
		return [][]string{ids}
	}
	var batches [][]string
	for i := 0; i < len(ids); i += max {
		end := i + max
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}

func (m *Manager) dispatch(job *models.Job) error {
	payload, err := json.Marshal(worker.JobPayload{JobID: job.ID.String()})
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	task := asynq.NewTask(worker.TaskProcessJob, payload, asynq.Queue(priorityQueue(job.Priority)),
		asynq.TaskID("job:"+job.ID.String()))
	_, err = m.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (m *Manager) GetJob(id uuid.UUID) (*models.Job, error) {
	return m.jobs.GetJob(id)
}

func (m *Manager) ListUserJobs(owner string, status *models.JobStatus) ([]*models.Job, error) {
	return m.jobs.ListUserJobs(owner, status)
}

// Pause is allowed only from running.
func (m *Manager) Pause(id uuid.UUID) error {
	return m.jobs.TransitionJob(id, []models.JobStatus{models.JobRunning}, models.JobPaused)
}

// Resume is allowed only from paused, moving the job back to queued
// and re-dispatching so a worker pass picks it up from the first
// non-terminal poster.
func (m *Manager) Resume(id uuid.UUID) error {
	if err := m.jobs.TransitionJob(id, []models.JobStatus{models.JobPaused}, models.JobQueued); err != nil {
		return err
	}
	job, err := m.jobs.GetJob(id)
	if err != nil {
		return err
	}
	return m.dispatch(job)
}

// Cancel is allowed from any non-terminal state. In-flight posters
// finish (the worker checks status before starting each new one, not
// mid-poster); remaining posters are never started.
func (m *Manager) Cancel(id uuid.UUID) error {
	return m.jobs.TransitionJob(id, []models.JobStatus{models.JobQueued, models.JobRunning, models.JobPaused}, models.JobCancelled)
}

// Restart is allowed from queued (stuck) or failed; clears the error
// summary and re-dispatches.
func (m *Manager) Restart(id uuid.UUID) error {
	job, err := m.jobs.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != models.JobQueued && job.Status != models.JobFailed {
		return fmt.Errorf("job %s not eligible for restart from status %s", id, job.Status)
	}
	if err := m.jobs.ClearErrorSummary(id); err != nil {
		return err
	}
	if job.Status == models.JobFailed {
		if err := m.jobs.TransitionJob(id, []models.JobStatus{models.JobFailed}, models.JobQueued); err != nil {
			return err
		}
	}
	return m.dispatch(job)
}

// BroadcastProgress lets an out-of-process worker forward a progress
// snapshot into the hub/bus without touching the store directly.
func (m *Manager) BroadcastProgress(event progress.Event) error {
	m.hub.Publish(event)
	if m.bus != nil {
		return m.bus.Publish(context.Background(), event)
	}
	return nil
}
