// Package scheduler is a long-running loop that wakes roughly once a
// minute and fires any enabled Schedule whose cron expression is due,
// within a 10-minute catch-up grace window. It also sweeps for jobs
// stuck without progress.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aphrodite-project/aphrodite/internal/jobmanager"
	"github.com/aphrodite-project/aphrodite/internal/mediaserver"
	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/pipeline"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

const catchUpGrace = 10 * time.Minute

// stuckJobThreshold flags a running job whose StartedAt is at least
// this old as a candidate for the stuck-job sweep.
const stuckJobThreshold = 2 * time.Hour

type Scheduler struct {
	schedules *store.ScheduleStore
	jobs      *store.JobStore
	media     *mediaserver.Client
	manager   *jobmanager.Manager
	interval  time.Duration
	parser    cron.Parser
	stop      chan struct{}
}

func New(schedules *store.ScheduleStore, jobs *store.JobStore, media *mediaserver.Client, manager *jobmanager.Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		schedules: schedules,
		jobs:      jobs,
		media:     media,
		manager:   manager,
		interval:  interval,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stop:      make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
	log.Printf("[scheduler] started (%s interval)", s.interval)
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) run() {
	time.Sleep(5 * time.Second)
	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
			s.sweepStuckJobs()
		case <-s.stop:
			log.Println("[scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick() {
	schedules, err := s.schedules.ListEnabled()
	if err != nil {
		log.Printf("[scheduler] error listing enabled schedules: %v", err)
		return
	}

	now := time.Now().UTC()
	for _, sch := range schedules {
		if err := s.maybeFire(sch, now); err != nil {
			log.Printf("[scheduler] schedule %s (%s) error: %v", sch.Name, sch.ID, err)
		}
	}
}

// maybeFire computes the schedule's previous cron fire time at or
// before now, and executes it unless that fire is more than
// catchUpGrace in the past or a ScheduleExecution already covers that
// window.
func (s *Scheduler) maybeFire(sch *models.Schedule, now time.Time) error {
	schedule, err := s.parser.Parse(sch.Cron)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", sch.Cron, err)
	}

	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		loc = time.UTC
	}

	prevFire := previousFire(schedule, now.In(loc))
	if prevFire.IsZero() {
		return nil
	}
	if now.Sub(prevFire) > catchUpGrace {
		return nil // missed window older than the grace period; wait for the next fire
	}

	windowStart := prevFire.Add(-catchUpGrace).UTC()
	recent, err := s.schedules.RecentExecutions(sch.ID, windowStart.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("check recent executions: %w", err)
	}
	if len(recent) > 0 {
		return nil // already run for this window
	}

	_, err = s.Execute(sch)
	return err
}

// previousFire walks forward from a lookback horizon to find the
// latest cron fire at or before asOf. robfig/cron's Schedule only
// exposes Next, so the previous fire is found by repeated forward
// stepping rather than a reverse computation.
func previousFire(schedule cron.Schedule, asOf time.Time) time.Time {
	t := asOf.Add(-366 * 24 * time.Hour)
	var prev time.Time
	for {
		next := schedule.Next(t)
		if next.After(asOf) {
			break
		}
		prev = next
		t = next
	}
	return prev
}

// Execute scans a schedule's target libraries and dispatches the
// resulting jobs, used both by the tick loop and by a manual
// execute-now request.
func (s *Scheduler) Execute(sch *models.Schedule) (*models.ScheduleExecution, error) {
	exec := &models.ScheduleExecution{
		ScheduleID: sch.ID,
		Status:     models.ScheduleExecProcessing,
	}
	now := time.Now().UTC()
	exec.StartedAt = &now
	if err := s.schedules.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("create schedule execution: %w", err)
	}

	items := models.ItemsProcessed{}
	ctx := context.Background()
	var execErr error

	for _, libraryID := range sch.TargetLibraries {
		libItems, err := s.media.ListLibraryItems(ctx, libraryID)
		if err != nil {
			execErr = fmt.Errorf("list items for library %s: %w", libraryID, err)
			continue
		}

		var posterIDs []string
		for _, it := range libItems {
			items.TotalSeen++
			if it.Type != "Movie" && it.Type != "Series" {
				items.Skipped++
				continue
			}
			if !sch.ReprocessAll && hasOverlayTag(it) {
				items.Skipped++
				continue
			}
			posterIDs = append(posterIDs, it.ID)
		}

		if len(posterIDs) == 0 {
			continue
		}

		jobs, err := s.manager.CreateJob("scheduler", sch.Name, posterIDs, sch.BadgeTypes, models.DefaultPriority, models.JobSourceScheduled)
		if err != nil {
			execErr = fmt.Errorf("create jobs for library %s: %w", libraryID, err)
			continue
		}
		for _, j := range jobs {
			items.Enqueued += len(j.SelectedPosterIDs)
			items.CreatedJobs = append(items.CreatedJobs, j.ID.String())
		}
	}

	status := models.ScheduleExecCompleted
	var errMsg *string
	if execErr != nil {
		if len(items.CreatedJobs) > 0 {
			status = models.ScheduleExecCompletedWithErrors
		} else {
			status = models.ScheduleExecFailed
		}
		m := execErr.Error()
		errMsg = &m
	}

	if err := s.schedules.CompleteExecution(exec.ID, status, items, errMsg); err != nil {
		return nil, fmt.Errorf("complete schedule execution: %w", err)
	}

	last := time.Now().UTC()
	_ = s.schedules.RecordRun(sch.ID, last, nil)

	exec.Status = status
	exec.ItemsProcessed = items
	return exec, nil
}

// ExecuteNow is the manual execute_schedule_now operation: it runs
// steps 3-4 immediately, independent of the cron catch-up window.
func (s *Scheduler) ExecuteNow(id uuid.UUID) (*models.ScheduleExecution, error) {
	sch, err := s.schedules.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Execute(sch)
}

const overlayTag = pipeline.OverlayTag

func hasOverlayTag(it mediaserver.Item) bool {
	for _, t := range it.Tags {
		if t == overlayTag {
			return true
		}
	}
	return false
}

// sweepStuckJobs flags running jobs whose StartedAt is older than
// stuckJobThreshold — possibly orphaned by a crashed worker. It looks
// only at the start time, not at completed/failed counter movement, so
// a long job that is still progressing is flagged too. It only logs:
// the job stays running and an operator decides whether to
// cancel/restart it.
func (s *Scheduler) sweepStuckJobs() {
	jobs, err := s.jobs.ListRunning()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-stuckJobThreshold)
	for _, j := range jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			log.Printf("[scheduler] job %s stuck in running since %s, no auto-action taken — use cancel/restart", j.ID, j.StartedAt)
		}
	}
}
