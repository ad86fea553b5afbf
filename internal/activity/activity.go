// Package activity is a thin audit-trail façade around the store's
// activity writers: start/complete/fail a MediaActivity row and
// attach detail rows (badge applications, performance metrics)
// without callers touching SQL directly.
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

type Tracker struct {
	store         *store.ActivityStore
	systemVersion string
}

func NewTracker(s *store.ActivityStore, systemVersion string) *Tracker {
	return &Tracker{store: s, systemVersion: systemVersion}
}

// Start opens a new activity row in the processing state and returns
// its ID for the caller to pass into Complete and the detail loggers.
func (t *Tracker) Start(mediaID string, activityType models.ActivityType, initiatedBy models.InitiatedBy, opts ...func(*models.MediaActivity)) (uuid.UUID, error) {
	a := &models.MediaActivity{
		MediaID:       mediaID,
		ActivityType:  activityType,
		InitiatedBy:   initiatedBy,
		StartedAt:     time.Now().UTC(),
		SystemVersion: t.systemVersion,
	}
	for _, o := range opts {
		o(a)
	}
	if err := t.store.StartActivity(a); err != nil {
		return uuid.Nil, err
	}
	return a.ID, nil
}

func WithJellyfinID(id string) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.JellyfinID = &id }
}

func WithSubtype(s string) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.Subtype = &s }
}

func WithUserID(id string) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.UserID = &id }
}

func WithBatchJobID(id uuid.UUID) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.BatchJobID = &id }
}

func WithParentActivityID(id uuid.UUID) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.ParentActivityID = &id }
}

func WithInputParameters(m map[string]interface{}) func(*models.MediaActivity) {
	return func(a *models.MediaActivity) { a.InputParameters = m }
}

// Complete stamps the terminal outcome. started must be the value
// returned from Start's models.MediaActivity.StartedAt so the caller
// doesn't need to re-fetch the row just to compute duration.
func (t *Tracker) Complete(id uuid.UUID, started time.Time, success bool, result map[string]interface{}, errMsg *string) error {
	duration := time.Since(started).Milliseconds()
	return t.store.CompleteActivity(id, success, duration, result, errMsg)
}

func (t *Tracker) Get(id uuid.UUID) (*models.MediaActivity, error) {
	return t.store.Get(id)
}

func (t *Tracker) LogBadgeApplication(d *models.BadgeApplication) error {
	return t.store.LogBadgeApplication(d)
}

func (t *Tracker) LogPosterReplacement(d *models.PosterReplacement) error {
	return t.store.LogPosterReplacement(d)
}

func (t *Tracker) LogPerformanceMetric(d *models.PerformanceMetric) error {
	return t.store.LogPerformanceMetric(d)
}
