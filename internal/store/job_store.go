// Package store is durable persistence for jobs, per-poster rows,
// schedules/executions, and the activity audit log: status-guarded
// UPDATEs and QueryRow-then-Scan constructors over database/sql.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/workflowerr"
)

var ErrNotFound = errors.New("not found")

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func badgeTypesToStrings(bs []models.BadgeType) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

func stringsToBadgeTypes(ss []string) []models.BadgeType {
	out := make([]models.BadgeType, len(ss))
	for i, s := range ss {
		out[i] = models.BadgeType(s)
	}
	return out
}

// CreateJob validates and persists a new job in the queued state.
// Splitting a large poster-id list into multiple jobs is the job
// manager's responsibility, not the store's.
func (s *JobStore) CreateJob(owner, name string, posterIDs []string, badgeTypes []models.BadgeType, priority int, source models.JobSource) (*models.Job, error) {
	if len(posterIDs) == 0 {
		return nil, workflowerr.New(workflowerr.InvalidInput, "CreateJob", fmt.Errorf("poster_ids must not be empty"))
	}
	for _, b := range badgeTypes {
		if !models.ValidBadgeType(string(b)) {
			return nil, workflowerr.New(workflowerr.InvalidInput, "CreateJob", fmt.Errorf("unknown badge type %q", b))
		}
	}
	if priority < models.MinPriority || priority > models.MaxPriority {
		return nil, workflowerr.New(workflowerr.InvalidInput, "CreateJob", fmt.Errorf("priority must be in [%d,%d]", models.MinPriority, models.MaxPriority))
	}

	job := &models.Job{
		ID:                uuid.New(),
		Owner:             owner,
		Name:              name,
		Source:            source,
		Status:            models.JobQueued,
		Priority:          priority,
		SelectedPosterIDs: posterIDs,
		BadgeTypes:        badgeTypes,
		TotalPosters:      len(posterIDs),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		INSERT INTO jobs (id, owner, name, source, status, priority, selected_poster_ids, badge_types, total_posters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		job.ID, job.Owner, job.Name, job.Source, job.Status, job.Priority,
		pq.Array(job.SelectedPosterIDs), pq.Array(badgeTypesToStrings(job.BadgeTypes)), job.TotalPosters,
	).Scan(&job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	rows := make([]interface{}, 0, len(posterIDs)*2)
	placeholders := ""
	for i, pid := range posterIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("($%d,$%d,'pending')", i*2+1, i*2+2)
		rows = append(rows, job.ID, pid)
	}
	if _, err := tx.Exec(`INSERT INTO poster_statuses (job_id, poster_id, status) VALUES `+placeholders, rows...); err != nil {
		return nil, fmt.Errorf("insert poster statuses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}

	return job, nil
}

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*models.Job, error) {
	j := &models.Job{}
	var posterIDs, badgeTypes pq.StringArray
	err := row.Scan(&j.ID, &j.Owner, &j.Name, &j.Source, &j.Status, &j.Priority,
		&posterIDs, &badgeTypes, &j.TotalPosters, &j.CompletedPosters, &j.FailedPosters,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.EstimatedCompletion, &j.ErrorSummary)
	if err != nil {
		return nil, err
	}
	j.SelectedPosterIDs = posterIDs
	j.BadgeTypes = stringsToBadgeTypes(badgeTypes)
	return j, nil
}

const jobColumns = `id, owner, name, source, status, priority, selected_poster_ids, badge_types,
	total_posters, completed_posters, failed_posters, created_at, started_at, completed_at,
	estimated_completion, error_summary`

func (s *JobStore) GetJob(id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *JobStore) ListUserJobs(owner string, status *models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner = $1`
	args := []interface{}{owner}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// NextQueuedJob selects the highest-priority oldest queued job
// (priority ASC, created_at ASC).
func (s *JobStore) NextQueuedJob() (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued'
		ORDER BY priority ASC, created_at ASC LIMIT 1`)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// ListRunning returns every job currently in the running state,
// across all owners, for the scheduler's stuck-job sweep.
func (s *JobStore) ListRunning() ([]*models.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// TransitionJob moves a job between statuses, guarded by the set of
// statuses it's allowed to transition from. Terminal transitions are
// first-writer-wins: they also require completed_at to be unset. A
// transition back to queued (restart of a failed job) clears
// completed_at. If no row matches the guard, the call returns a
// StoreConflict error.
func (s *JobStore) TransitionJob(id uuid.UUID, from []models.JobStatus, to models.JobStatus) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	setClauses := `status = $1`
	guard := ``
	switch to {
	case models.JobRunning:
		setClauses += `, started_at = COALESCE(started_at, NOW())`
	case models.JobQueued:
		setClauses += `, completed_at = NULL`
	case models.JobCompleted, models.JobFailed, models.JobCancelled:
		setClauses += `, completed_at = NOW()`
		guard = ` AND completed_at IS NULL`
	}

	res, err := s.db.Exec(`UPDATE jobs SET `+setClauses+` WHERE id = $2 AND status = ANY($3)`+guard,
		append([]interface{}{to, id, pq.Array(fromStrs)})...)
	if err != nil {
		return workflowerr.New(workflowerr.StoreConflict, "TransitionJob", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return workflowerr.New(workflowerr.StoreConflict, "TransitionJob", fmt.Errorf("job %s not in expected state", id))
	}
	return nil
}

func (s *JobStore) SetErrorSummary(id uuid.UUID, summary string) error {
	_, err := s.db.Exec(`UPDATE jobs SET error_summary = $1 WHERE id = $2`, summary, id)
	return err
}

func (s *JobStore) ClearErrorSummary(id uuid.UUID) error {
	_, err := s.db.Exec(`UPDATE jobs SET error_summary = NULL WHERE id = $1`, id)
	return err
}

// IncrementCounters atomically bumps completed/failed counters for a
// job by one, per the poster terminal transition it's paired with.
func (s *JobStore) IncrementCounters(id uuid.UUID, completedDelta, failedDelta int) error {
	_, err := s.db.Exec(`UPDATE jobs SET completed_posters = completed_posters + $1,
		failed_posters = failed_posters + $2 WHERE id = $3`, completedDelta, failedDelta, id)
	return err
}

func (s *JobStore) SetEstimatedCompletion(id uuid.UUID, eta time.Time) error {
	_, err := s.db.Exec(`UPDATE jobs SET estimated_completion = $1 WHERE id = $2`, eta, id)
	return err
}

// ──────────────────── PosterStatus ────────────────────

func (s *JobStore) ListPosterStatuses(jobID uuid.UUID) ([]*models.PosterStatus, error) {
	rows, err := s.db.Query(`SELECT job_id, poster_id, status, started_at, completed_at, output_path, error_message, retry_count
		FROM poster_statuses WHERE job_id = $1 ORDER BY poster_id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PosterStatus
	for rows.Next() {
		p := &models.PosterStatus{}
		if err := rows.Scan(&p.JobID, &p.PosterID, &p.Status, &p.StartedAt, &p.CompletedAt, &p.OutputPath, &p.ErrorMessage, &p.RetryCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPosterStatus writes a transition for one (job, poster) row.
// On transition into processing, started_at is stamped; on a
// transition into a terminal state, completed_at and the optional
// output/error are stamped. Retries increment retry_count and clear
// any previous terminal stamp so the row can be reused for the next
// attempt.
func (s *JobStore) UpsertPosterStatus(jobID uuid.UUID, posterID string, status models.PosterState, outputPath, errMsg *string, isRetry bool) error {
	switch status {
	case models.PosterProcessing:
		if isRetry {
			_, err := s.db.Exec(`UPDATE poster_statuses SET status = $1, started_at = NOW(),
				completed_at = NULL, retry_count = retry_count + 1
				WHERE job_id = $2 AND poster_id = $3`, status, jobID, posterID)
			return err
		}
		_, err := s.db.Exec(`UPDATE poster_statuses SET status = $1, started_at = NOW()
			WHERE job_id = $2 AND poster_id = $3`, status, jobID, posterID)
		return err
	case models.PosterCompleted, models.PosterFailed:
		_, err := s.db.Exec(`UPDATE poster_statuses SET status = $1, completed_at = NOW(),
			output_path = COALESCE($2, output_path), error_message = $3
			WHERE job_id = $4 AND poster_id = $5`, status, outputPath, errMsg, jobID, posterID)
		return err
	default:
		_, err := s.db.Exec(`UPDATE poster_statuses SET status = $1 WHERE job_id = $2 AND poster_id = $3`, status, jobID, posterID)
		return err
	}
}

func (s *JobStore) GetPosterStatus(jobID uuid.UUID, posterID string) (*models.PosterStatus, error) {
	p := &models.PosterStatus{}
	err := s.db.QueryRow(`SELECT job_id, poster_id, status, started_at, completed_at, output_path, error_message, retry_count
		FROM poster_statuses WHERE job_id = $1 AND poster_id = $2`, jobID, posterID).
		Scan(&p.JobID, &p.PosterID, &p.Status, &p.StartedAt, &p.CompletedAt, &p.OutputPath, &p.ErrorMessage, &p.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *JobStore) DB() *sql.DB { return s.db }
