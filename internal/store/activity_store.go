package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aphrodite-project/aphrodite/internal/models"
)

type ActivityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// StartActivity inserts a new in-progress activity row.
func (s *ActivityStore) StartActivity(a *models.MediaActivity) error {
	a.ID = uuid.New()
	a.Status = models.ActivityProcessing

	input, err := marshalMap(a.InputParameters)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO media_activities
		(id, media_id, jellyfin_id, activity_type, subtype, status, initiated_by, user_id,
		 batch_job_id, parent_activity_id, started_at, input_parameters, system_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.MediaID, a.JellyfinID, a.ActivityType, a.Subtype, a.Status, a.InitiatedBy, a.UserID,
		a.BatchJobID, a.ParentActivityID, a.StartedAt, input, a.SystemVersion)
	return err
}

// CompleteActivity stamps a terminal outcome on a previously-started
// activity. success/durationMS/result/errMsg together must satisfy
// MediaActivity.Invariant() once read back.
func (s *ActivityStore) CompleteActivity(id uuid.UUID, success bool, durationMS int64, result map[string]interface{}, errMsg *string) error {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE media_activities SET status = $1, success = $2, completed_at = NOW(),
		processing_duration_ms = $3, result_data = $4, error_message = $5
		WHERE id = $6 AND status = 'processing'`,
		models.ActivityCompleted, success, durationMS, resultJSON, errMsg, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("activity %s not found or already completed", id)
	}
	return nil
}

const activityColumns = `id, media_id, jellyfin_id, activity_type, subtype, status, success,
	initiated_by, user_id, batch_job_id, parent_activity_id, started_at, completed_at,
	processing_duration_ms, input_parameters, result_data, additional_metadata, error_message, system_version`

func scanActivity(row interface{ Scan(dest ...interface{}) error }) (*models.MediaActivity, error) {
	a := &models.MediaActivity{}
	var input, result, meta []byte
	err := row.Scan(&a.ID, &a.MediaID, &a.JellyfinID, &a.ActivityType, &a.Subtype, &a.Status, &a.Success,
		&a.InitiatedBy, &a.UserID, &a.BatchJobID, &a.ParentActivityID, &a.StartedAt, &a.CompletedAt,
		&a.ProcessingDurationMS, &input, &result, &meta, &a.ErrorMessage, &a.SystemVersion)
	if err != nil {
		return nil, err
	}
	if a.InputParameters, err = unmarshalMap(input); err != nil {
		return nil, err
	}
	if a.ResultData, err = unmarshalMap(result); err != nil {
		return nil, err
	}
	if a.AdditionalMetadata, err = unmarshalMap(meta); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ActivityStore) Get(id uuid.UUID) (*models.MediaActivity, error) {
	row := s.db.QueryRow(`SELECT `+activityColumns+` FROM media_activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetPerformanceMetric fetches the performance detail row for an
// activity, used by the batch summary's per-stage averages.
func (s *ActivityStore) GetPerformanceMetric(activityID uuid.UUID) (*models.PerformanceMetric, error) {
	m := &models.PerformanceMetric{ActivityID: activityID}
	var timings []byte
	err := s.db.QueryRow(`SELECT peak_cpu_percent, peak_memory_mb, disk_read_bytes, disk_write_bytes,
		network_read_bytes, network_write_bytes, stage_timings_ms, bottleneck_stage, concurrent_operations
		FROM performance_metrics WHERE activity_id = $1`, activityID).
		Scan(&m.PeakCPUPercent, &m.PeakMemoryMB, &m.DiskReadBytes, &m.DiskWriteBytes,
			&m.NetworkReadBytes, &m.NetworkWriteBytes, &timings, &m.BottleneckStage, &m.ConcurrentOperations)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(timings) > 0 {
		if err := json.Unmarshal(timings, &m.StageTimingsMS); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *ActivityStore) exists(id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM media_activities WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// LogBadgeApplication records the per-badge detail row for an
// activity, failing with a descriptive error if the parent activity
// row doesn't exist yet.
func (s *ActivityStore) LogBadgeApplication(d *models.BadgeApplication) error {
	ok, err := s.exists(d.ActivityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("log badge application: activity %s does not exist", d.ActivityID)
	}
	perBadge, err := json.Marshal(d.PerBadgeResults)
	if err != nil {
		return err
	}
	timings, err := json.Marshal(d.StageTimingsMS)
	if err != nil {
		return err
	}
	settings, err := marshalMap(d.SettingsSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO badge_applications
		(activity_id, badge_types_applied, settings_snapshot, input_path, output_path,
		 intermediate_paths, per_badge_results, final_width, final_height, final_bytes, stage_timings_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ActivityID, pq.Array(badgeTypesToStrings(d.BadgeTypesApplied)), settings, d.InputPath, d.OutputPath,
		pq.Array(d.IntermediatePaths), perBadge, d.FinalWidth, d.FinalHeight, d.FinalBytes, timings)
	return err
}

func (s *ActivityStore) LogPosterReplacement(d *models.PosterReplacement) error {
	ok, err := s.exists(d.ActivityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("log poster replacement: activity %s does not exist", d.ActivityID)
	}
	_, err = s.db.Exec(`INSERT INTO poster_replacements
		(activity_id, source, source_id, search_query, search_result_count, original_hash, original_width,
		 original_height, original_bytes, new_hash, new_width, new_height, new_bytes, download_ms, upload_ms,
		 tag_operations, quality_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		d.ActivityID, d.Source, d.SourceID, d.SearchQuery, d.SearchResultCount, d.OriginalHash, d.OriginalWidth,
		d.OriginalHeight, d.OriginalBytes, d.NewHash, d.NewWidth, d.NewHeight, d.NewBytes, d.DownloadMS, d.UploadMS,
		pq.Array(d.TagOperations), d.QualityScore)
	return err
}

func (s *ActivityStore) LogPerformanceMetric(d *models.PerformanceMetric) error {
	ok, err := s.exists(d.ActivityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("log performance metric: activity %s does not exist", d.ActivityID)
	}
	timings, err := json.Marshal(d.StageTimingsMS)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO performance_metrics
		(activity_id, peak_cpu_percent, peak_memory_mb, disk_read_bytes, disk_write_bytes,
		 network_read_bytes, network_write_bytes, stage_timings_ms, bottleneck_stage, concurrent_operations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ActivityID, d.PeakCPUPercent, d.PeakMemoryMB, d.DiskReadBytes, d.DiskWriteBytes,
		d.NetworkReadBytes, d.NetworkWriteBytes, timings, d.BottleneckStage, d.ConcurrentOperations)
	return err
}

// ActivityFilter composes the predicates Search builds a WHERE clause
// from, covering the fields the analytics package's search/summary
// endpoints need to slice activity history by.
type ActivityFilter struct {
	ActivityType *models.ActivityType
	Status       *models.ActivityStatus
	Success      *bool
	InitiatedBy  *models.InitiatedBy
	UserID       *string
	BatchJobID   *uuid.UUID
	MediaID      *string
	StartedAfter *string
	StartedBefore *string
	ErrorLike    *string
	MinDurationMS *int64
	MaxDurationMS *int64
	SortDesc     bool
	Limit        int
	Offset       int
}

func (s *ActivityStore) Search(f ActivityFilter) ([]*models.MediaActivity, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if f.ActivityType != nil {
		add("activity_type =", *f.ActivityType)
	}
	if f.Status != nil {
		add("status =", *f.Status)
	}
	if f.Success != nil {
		add("success =", *f.Success)
	}
	if f.InitiatedBy != nil {
		add("initiated_by =", *f.InitiatedBy)
	}
	if f.UserID != nil {
		add("user_id =", *f.UserID)
	}
	if f.BatchJobID != nil {
		add("batch_job_id =", *f.BatchJobID)
	}
	if f.MediaID != nil {
		add("media_id =", *f.MediaID)
	}
	if f.StartedAfter != nil {
		add("started_at >=", *f.StartedAfter)
	}
	if f.StartedBefore != nil {
		add("started_at <=", *f.StartedBefore)
	}
	if f.ErrorLike != nil {
		args = append(args, "%"+*f.ErrorLike+"%")
		where += fmt.Sprintf(" AND error_message ILIKE $%d", len(args))
	}
	if f.MinDurationMS != nil {
		add("processing_duration_ms >=", *f.MinDurationMS)
	}
	if f.MaxDurationMS != nil {
		add("processing_duration_ms <=", *f.MaxDurationMS)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM media_activities `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	order := "ASC"
	if f.SortDesc {
		order = "DESC"
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM media_activities %s ORDER BY started_at %s LIMIT $%d OFFSET $%d`,
		activityColumns, where, order, len(args)-1, len(args))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.MediaActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// DistinctValues supports analytics autocomplete suggestions, capped
// at 50 values per column.
func (s *ActivityStore) DistinctValues(column string) ([]string, error) {
	allowed := map[string]bool{"media_id": true, "user_id": true, "activity_type": true, "initiated_by": true}
	if !allowed[column] {
		return nil, fmt.Errorf("distinct values: column %q not allowed", column)
	}
	rows, err := s.db.Query(fmt.Sprintf(`SELECT DISTINCT %s FROM media_activities WHERE %s IS NOT NULL ORDER BY %s LIMIT 50`, column, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
