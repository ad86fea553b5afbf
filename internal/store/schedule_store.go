package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aphrodite-project/aphrodite/internal/models"
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func (s *ScheduleStore) Create(sch *models.Schedule) error {
	sch.ID = uuid.New()
	_, err := s.db.Exec(`INSERT INTO schedules (id, name, cron, timezone, target_libraries, badge_types, reprocess_all, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sch.ID, sch.Name, sch.Cron, sch.Timezone, pq.Array(sch.TargetLibraries),
		pq.Array(badgeTypesToStrings(sch.BadgeTypes)), sch.ReprocessAll, sch.Enabled)
	return err
}

const scheduleColumns = `id, name, cron, timezone, target_libraries, badge_types, reprocess_all, enabled, last_run_at, next_run_at`

func scanSchedule(row interface{ Scan(dest ...interface{}) error }) (*models.Schedule, error) {
	sch := &models.Schedule{}
	var libs, badges pq.StringArray
	err := row.Scan(&sch.ID, &sch.Name, &sch.Cron, &sch.Timezone, &libs, &badges,
		&sch.ReprocessAll, &sch.Enabled, &sch.LastRunAt, &sch.NextRunAt)
	if err != nil {
		return nil, err
	}
	sch.TargetLibraries = libs
	sch.BadgeTypes = stringsToBadgeTypes(badges)
	return sch, nil
}

func (s *ScheduleStore) Get(id uuid.UUID) (*models.Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sch, err
}

func (s *ScheduleStore) ListEnabled() ([]*models.Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) ListAll() ([]*models.Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) SetEnabled(id uuid.UUID, enabled bool) error {
	_, err := s.db.Exec(`UPDATE schedules SET enabled = $1 WHERE id = $2`, enabled, id)
	return err
}

func (s *ScheduleStore) Delete(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = $1`, id)
	return err
}

func (s *ScheduleStore) RecordRun(id uuid.UUID, lastRun, nextRun interface{}) error {
	_, err := s.db.Exec(`UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`, lastRun, nextRun, id)
	return err
}

// ──────────────────── ScheduleExecution ────────────────────

func (s *ScheduleStore) CreateExecution(exec *models.ScheduleExecution) error {
	exec.ID = uuid.New()
	payload, err := json.Marshal(exec.ItemsProcessed)
	if err != nil {
		return err
	}
	return s.db.QueryRow(`INSERT INTO schedule_executions (id, schedule_id, status, started_at, completed_at, items_processed, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`,
		exec.ID, exec.ScheduleID, exec.Status, exec.StartedAt, exec.CompletedAt, payload, exec.Error,
	).Scan(&exec.CreatedAt)
}

func (s *ScheduleStore) CompleteExecution(id uuid.UUID, status models.ScheduleExecutionStatus, items models.ItemsProcessed, execErr *string) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE schedule_executions SET status = $1, completed_at = NOW(), items_processed = $2, error = $3 WHERE id = $4`,
		status, payload, execErr, id)
	return err
}

// RecentExecutions fetches executions created since the supplied
// RFC3339 cutoff, used by the scheduler's catch-up dedup window (the
// 10-minute grace period).
func (s *ScheduleStore) RecentExecutions(scheduleID uuid.UUID, sinceRFC3339 string) ([]*models.ScheduleExecution, error) {
	rows, err := s.db.Query(`SELECT id, schedule_id, status, started_at, completed_at, items_processed, error, created_at
		FROM schedule_executions WHERE schedule_id = $1 AND created_at >= $2::timestamptz ORDER BY created_at DESC`,
		scheduleID, sinceRFC3339)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduleExecution
	for rows.Next() {
		e := &models.ScheduleExecution{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.Status, &e.StartedAt, &e.CompletedAt, &payload, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.ItemsProcessed); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
