// Package analytics computes read-only aggregates over MediaActivity:
// filtered search, batch error histograms, per-stage averages, 7-day
// daily patterns, and autocomplete suggestions. Aggregation runs in Go
// rather than being pushed into SQL, trading some push-down for
// simpler correctness at the row counts this system expects.
package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aphrodite-project/aphrodite/internal/models"
	"github.com/aphrodite-project/aphrodite/internal/store"
)

type Service struct {
	activities *store.ActivityStore
}

func New(activities *store.ActivityStore) *Service {
	return &Service{activities: activities}
}

// Search runs a filtered, paginated (≤500) listing over MediaActivity.
func (s *Service) Search(f store.ActivityFilter) ([]*models.MediaActivity, int, error) {
	return s.activities.Search(f)
}

type SummaryStatistics struct {
	TotalCount      int
	CountByStatus   map[string]int
	CountByType     map[string]int
	AverageDuration float64
	UniqueUsers     int
	UniqueMedia     int
	EarliestAt      *time.Time
	LatestAt        *time.Time
}

// summaryPageSize is the page size Summary pages through when scanning
// every matching row — the same bound Search applies per call, just
// walked repeatedly via Offset instead of truncating at one page.
const summaryPageSize = 500

// Summary computes aggregate counts/averages over every activity
// matching the filter, not just the first page, so CountByStatus et al.
// stay consistent with the reported TotalCount. It pages through Search
// with the same filter predicate rather than pushing the aggregation
// into SQL, trading a few extra round trips for reusing Search's exact
// predicate and row shape.
func (s *Service) Summary(f store.ActivityFilter) (*SummaryStatistics, error) {
	out := &SummaryStatistics{
		CountByStatus: map[string]int{},
		CountByType:   map[string]int{},
	}
	users := map[string]bool{}
	media := map[string]bool{}
	var durationSum int64
	var durationCount int

	f.Limit = summaryPageSize
	f.Offset = 0
	for {
		activities, total, err := s.activities.Search(f)
		if err != nil {
			return nil, err
		}
		out.TotalCount = total

		for _, a := range activities {
			out.CountByStatus[string(a.Status)]++
			out.CountByType[string(a.ActivityType)]++
			if a.UserID != nil {
				users[*a.UserID] = true
			}
			media[a.MediaID] = true
			if a.ProcessingDurationMS != nil {
				durationSum += *a.ProcessingDurationMS
				durationCount++
			}
			if out.EarliestAt == nil || a.StartedAt.Before(*out.EarliestAt) {
				t := a.StartedAt
				out.EarliestAt = &t
			}
			if a.CompletedAt != nil && (out.LatestAt == nil || a.CompletedAt.After(*out.LatestAt)) {
				t := *a.CompletedAt
				out.LatestAt = &t
			}
		}

		f.Offset += len(activities)
		if len(activities) < summaryPageSize || f.Offset >= total {
			break
		}
	}

	out.UniqueUsers = len(users)
	out.UniqueMedia = len(media)
	if durationCount > 0 {
		out.AverageDuration = float64(durationSum) / float64(durationCount)
	}
	return out, nil
}

type BatchSummary struct {
	BatchJobID        uuid.UUID
	Found             bool
	TotalActivities   int
	Successful        int
	Failed            int
	Pending           int
	TotalDurationMS   *int64
	AverageDurationMS *float64
	ErrorHistogram    map[string]int
	StageAverages     map[string]float64
}

// BatchSummaryFor rolls up every activity recorded against one batch
// job: success/failure counts, total/average duration, a per-error
// histogram, and per-stage timing averages when PerformanceMetric rows
// exist for the batch's activities.
func (s *Service) BatchSummaryFor(batchJobID uuid.UUID) (*BatchSummary, error) {
	var activities []*models.MediaActivity
	for f := (store.ActivityFilter{BatchJobID: &batchJobID, Limit: summaryPageSize}); ; {
		page, total, err := s.activities.Search(f)
		if err != nil {
			return nil, err
		}
		activities = append(activities, page...)
		if f.Offset += len(page); len(page) < summaryPageSize || f.Offset >= total {
			break
		}
	}
	if len(activities) == 0 {
		return &BatchSummary{BatchJobID: batchJobID, Found: false}, nil
	}

	out := &BatchSummary{BatchJobID: batchJobID, Found: true, ErrorHistogram: map[string]int{}, StageAverages: map[string]float64{}}
	var earliest, latest time.Time
	var durationSum int64
	var durationCount int

	for _, a := range activities {
		out.TotalActivities++
		switch {
		case a.Success == nil:
			out.Pending++
		case *a.Success:
			out.Successful++
		default:
			out.Failed++
			if a.ErrorMessage != nil {
				out.ErrorHistogram[*a.ErrorMessage]++
			}
		}
		if earliest.IsZero() || a.StartedAt.Before(earliest) {
			earliest = a.StartedAt
		}
		if a.CompletedAt != nil && a.CompletedAt.After(latest) {
			latest = *a.CompletedAt
		}
		if a.ProcessingDurationMS != nil {
			durationSum += *a.ProcessingDurationMS
			durationCount++
		}
	}

	if !earliest.IsZero() && !latest.IsZero() {
		total := latest.Sub(earliest).Milliseconds()
		out.TotalDurationMS = &total
	}
	if durationCount > 0 {
		avg := float64(durationSum) / float64(durationCount)
		out.AverageDurationMS = &avg
	}

	stageSum := map[string]int64{}
	stageCount := map[string]int{}
	for _, a := range activities {
		metric, err := s.activities.GetPerformanceMetric(a.ID)
		if err != nil {
			continue // no performance metric recorded for this activity
		}
		for stage, ms := range metric.StageTimingsMS {
			stageSum[stage] += ms
			stageCount[stage]++
		}
	}
	for stage, sum := range stageSum {
		out.StageAverages[stage] = float64(sum) / float64(stageCount[stage])
	}

	return out, nil
}

type DailyCount struct {
	Date  string
	Count int
}

type UserSummary struct {
	UserID        string
	CountByType   map[string]int
	SuccessRate   float64
	DailyPattern  []DailyCount
	TopErrors     []string
}

// UserSummaryFor computes a 7-day activity window for one user: counts
// by type, overall success rate, a daily pattern, and the most
// frequent error messages.
func (s *Service) UserSummaryFor(userID string) (*UserSummary, error) {
	since := time.Now().AddDate(0, 0, -7).UTC().Format(time.RFC3339)
	activities, _, err := s.activities.Search(store.ActivityFilter{
		UserID: &userID, StartedAfter: &since, Limit: 500, SortDesc: true,
	})
	if err != nil {
		return nil, err
	}

	out := &UserSummary{UserID: userID, CountByType: map[string]int{}}
	var succeeded, concluded int
	dayCount := map[string]int{}
	errCount := map[string]int{}

	for _, a := range activities {
		out.CountByType[string(a.ActivityType)]++
		day := a.StartedAt.Format("2006-01-02")
		dayCount[day]++
		if a.Success != nil {
			concluded++
			if *a.Success {
				succeeded++
			} else if a.ErrorMessage != nil {
				errCount[*a.ErrorMessage]++
			}
		}
	}
	if concluded > 0 {
		out.SuccessRate = float64(succeeded) / float64(concluded)
	}

	for i := 6; i >= 0; i-- {
		day := time.Now().AddDate(0, 0, -i).UTC().Format("2006-01-02")
		out.DailyPattern = append(out.DailyPattern, DailyCount{Date: day, Count: dayCount[day]})
	}

	out.TopErrors = topNErrors(errCount, 5)
	return out, nil
}

func topNErrors(counts map[string]int, n int) []string {
	type pair struct {
		msg string
		n   int
	}
	pairs := make([]pair, 0, len(counts))
	for msg, c := range counts {
		pairs = append(pairs, pair{msg, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].msg < pairs[j].msg
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.msg
	}
	return out
}

// Suggestions exposes distinct values for the search UI's autocomplete
// fields, capped at 50 each.
type Suggestions struct {
	MediaIDs      []string
	UserIDs       []string
	ActivityTypes []string
	InitiatedBy   []string
}

func (s *Service) Suggestions() (*Suggestions, error) {
	mediaIDs, err := s.activities.DistinctValues("media_id")
	if err != nil {
		return nil, err
	}
	userIDs, err := s.activities.DistinctValues("user_id")
	if err != nil {
		return nil, err
	}
	types, err := s.activities.DistinctValues("activity_type")
	if err != nil {
		return nil, err
	}
	initiators, err := s.activities.DistinctValues("initiated_by")
	if err != nil {
		return nil, err
	}
	return &Suggestions{MediaIDs: mediaIDs, UserIDs: userIDs, ActivityTypes: types, InitiatedBy: initiators}, nil
}
