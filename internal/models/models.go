// Package models defines the persistent entities of the workflow core:
// jobs, per-poster rows, schedules and their executions, and the audit
// trail (activities and their detail records).
package models

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Job ────────────────────

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

type JobSource string

const (
	JobSourceManual    JobSource = "manual"
	JobSourceScheduled JobSource = "scheduled"
)

// BadgeType is one of the four badge kinds a job can apply.
type BadgeType string

const (
	BadgeAudio      BadgeType = "audio"
	BadgeResolution BadgeType = "resolution"
	BadgeReview     BadgeType = "review"
	BadgeAwards     BadgeType = "awards"
)

// AllBadgeTypes enumerates every known badge kind, used to validate
// job/schedule input.
var AllBadgeTypes = []BadgeType{BadgeAudio, BadgeResolution, BadgeReview, BadgeAwards}

func ValidBadgeType(b string) bool {
	for _, t := range AllBadgeTypes {
		if string(t) == b {
			return true
		}
	}
	return false
}

const (
	MinPriority = 1
	MaxPriority = 10
	DefaultPriority = 5

	// MaxPostersPerJob is the threshold beyond which CreateJob splits
	// a request into multiple jobs.
	MaxPostersPerJob = 1000
)

// Job is one batch of posters to badge together.
type Job struct {
	ID                  uuid.UUID
	Owner               string // user id, or "scheduler"
	Name                string
	Source              JobSource
	Status              JobStatus
	Priority            int
	SelectedPosterIDs   []string
	BadgeTypes          []BadgeType
	TotalPosters        int
	CompletedPosters    int
	FailedPosters       int
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	EstimatedCompletion *time.Time
	ErrorSummary        *string
}

// Invariant checks, exercised by the package tests.
func (j *Job) CountersValid() bool {
	return j.CompletedPosters+j.FailedPosters <= j.TotalPosters
}

func (j *Job) TerminalConsistent() bool {
	return j.Status.Terminal() == (j.CompletedAt != nil)
}

// ──────────────────── PosterStatus ────────────────────

type PosterState string

const (
	PosterPending    PosterState = "pending"
	PosterProcessing PosterState = "processing"
	PosterCompleted  PosterState = "completed"
	PosterFailed     PosterState = "failed"
)

func (s PosterState) Terminal() bool {
	return s == PosterCompleted || s == PosterFailed
}

type PosterStatus struct {
	JobID        uuid.UUID
	PosterID     string
	Status       PosterState
	StartedAt    *time.Time
	CompletedAt  *time.Time
	OutputPath   *string
	ErrorMessage *string
	RetryCount   int
}

// ──────────────────── Schedule ────────────────────

type Schedule struct {
	ID             uuid.UUID
	Name           string
	Cron           string
	Timezone       string
	TargetLibraries []string
	BadgeTypes     []BadgeType
	ReprocessAll   bool
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
}

type ScheduleExecutionStatus string

const (
	ScheduleExecPending              ScheduleExecutionStatus = "pending"
	ScheduleExecProcessing           ScheduleExecutionStatus = "processing"
	ScheduleExecCompleted            ScheduleExecutionStatus = "completed"
	ScheduleExecCompletedWithErrors  ScheduleExecutionStatus = "completed_with_errors"
	ScheduleExecFailed               ScheduleExecutionStatus = "failed"
)

// ItemsProcessed is the structured payload of a ScheduleExecution,
// recording what the execution did without needing a join table.
type ItemsProcessed struct {
	TotalSeen    int      `json:"total_seen"`
	Enqueued     int      `json:"enqueued"`
	Skipped      int      `json:"skipped"`
	CreatedJobs  []string `json:"created_jobs"`
}

type ScheduleExecution struct {
	ID             uuid.UUID
	ScheduleID     uuid.UUID
	Status         ScheduleExecutionStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ItemsProcessed ItemsProcessed
	Error          *string
	CreatedAt      time.Time
}

// ──────────────────── MediaActivity ────────────────────

type ActivityType string

const (
	ActivityBadgeApplication  ActivityType = "badge_application"
	ActivityPosterReplacement ActivityType = "poster_replacement"
	ActivityCustomUpload      ActivityType = "custom_upload"
	ActivityRevert            ActivityType = "revert"
	ActivityTagManagement     ActivityType = "tag_management"
)

type ActivityStatus string

const (
	ActivityProcessing ActivityStatus = "processing"
	ActivityCompleted  ActivityStatus = "completed"
)

type InitiatedBy string

const (
	InitiatedByUser           InitiatedBy = "user"
	InitiatedByScheduledJob   InitiatedBy = "scheduled_job"
	InitiatedByBatchOperation InitiatedBy = "batch_operation"
	InitiatedByAPICall        InitiatedBy = "api_call"
	InitiatedBySystem         InitiatedBy = "system"
)

type MediaActivity struct {
	ID                  uuid.UUID
	MediaID             string
	JellyfinID          *string
	ActivityType        ActivityType
	Subtype             *string
	Status              ActivityStatus
	Success             *bool
	InitiatedBy         InitiatedBy
	UserID              *string
	BatchJobID          *uuid.UUID
	ParentActivityID    *uuid.UUID
	StartedAt           time.Time
	CompletedAt         *time.Time
	ProcessingDurationMS *int64
	InputParameters     map[string]interface{}
	ResultData          map[string]interface{}
	AdditionalMetadata  map[string]interface{}
	ErrorMessage        *string
	SystemVersion       string
}

func (a *MediaActivity) Invariant() bool {
	if a.Status != ActivityCompleted {
		return true
	}
	if a.CompletedAt == nil || a.Success == nil {
		return false
	}
	if a.ProcessingDurationMS == nil || *a.ProcessingDurationMS < 0 {
		return false
	}
	return true
}

// ──────────────────── Detail records ────────────────────

type BadgeResult struct {
	BadgeType BadgeType `json:"badge_type"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

type BadgeApplication struct {
	ActivityID        uuid.UUID
	BadgeTypesApplied []BadgeType
	SettingsSnapshot  map[string]interface{}
	InputPath         string
	OutputPath        string
	IntermediatePaths []string
	PerBadgeResults   []BadgeResult
	FinalWidth        int
	FinalHeight       int
	FinalBytes        int64
	StageTimingsMS    map[string]int64
}

type PosterSource string

const (
	SourceTMDB        PosterSource = "tmdb"
	SourceFanartTV    PosterSource = "fanart_tv"
	SourceManualUpload PosterSource = "manual_upload"
	SourceLocalFile   PosterSource = "local_file"
)

type PosterReplacement struct {
	ActivityID        uuid.UUID
	Source            PosterSource
	SourceID          string
	SearchQuery        string
	SearchResultCount  int
	OriginalHash       string
	OriginalWidth      int
	OriginalHeight     int
	OriginalBytes      int64
	NewHash            string
	NewWidth           int
	NewHeight          int
	NewBytes           int64
	DownloadMS         int64
	UploadMS           int64
	TagOperations      []string
	QualityScore       float64
}

type PerformanceMetric struct {
	ActivityID            uuid.UUID
	PeakCPUPercent        float64
	PeakMemoryMB          float64
	DiskReadBytes         int64
	DiskWriteBytes        int64
	NetworkReadBytes      int64
	NetworkWriteBytes     int64
	StageTimingsMS        map[string]int64
	BottleneckStage       string
	ConcurrentOperations  int
}
