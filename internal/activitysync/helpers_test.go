package activitysync_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"example.com/runhub/internal/domain"
)

const owner domain.AthleteID = 1001

var base = time.Date(2025, time.June, 1, 6, 30, 0, 0, time.UTC)

func day(n int) time.Time {
	return base.AddDate(0, 0, n)
}

func remoteRecord(id domain.ActivityID, kind string, started time.Time, meters float64) domain.RemoteActivity {
	record := domain.RemoteActivity{
		ID:                 id,
		Kind:               kind,
		Name:               "Activity " + id.String(),
		DistanceMeters:     meters,
		MovingTimeSeconds:  int(meters / 3),
		ElapsedTimeSeconds: int(meters/3) + 60,
		StartedAt:          started,
	}
	record.Raw, _ = json.Marshal(map[string]any{
		"id":           int64(id),
		"type":         kind,
		"name":         record.Name,
		"distance":     meters,
		"moving_time":  record.MovingTimeSeconds,
		"elapsed_time": record.ElapsedTimeSeconds,
		"start_date":   started.Format(domain.StartDateLayout),
	})
	return record
}

func remoteRun(id domain.ActivityID, started time.Time, meters float64) domain.RemoteActivity {
	return remoteRecord(id, domain.KindRun, started, meters)
}

func localRun(id domain.ActivityID, started time.Time, meters float64) domain.Activity {
	return domain.NewActivity(owner, remoteRun(id, started, meters), base)
}

var errUpstream = errors.New("502 bad gateway")

// pagedSource behaves like the Strava list endpoint over a fixed record set:
// newest first, strict "after" filter, 1-based pages.
type pagedSource struct {
	mu       sync.Mutex
	records  []domain.RemoteActivity
	failPage int
	failAll  bool
	calls    []domain.ActivityQuery
	tokens   []string
}

func (s *pagedSource) ListActivities(_ context.Context, token string, q domain.ActivityQuery) ([]domain.RemoteActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, q)
	s.tokens = append(s.tokens, token)

	if s.failAll || (s.failPage > 0 && q.Page == s.failPage) {
		return nil, errUpstream
	}

	matching := make([]domain.RemoteActivity, 0, len(s.records))
	for _, record := range s.records {
		if q.After != nil && !record.StartedAt.After(*q.After) {
			continue
		}
		matching = append(matching, record)
	}

	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(matching) {
		return nil, nil
	}
	end := min(start+perPage, len(matching))
	return append([]domain.RemoteActivity(nil), matching[start:end]...), nil
}

func (s *pagedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// funcSource delegates every call to fn.
type funcSource func(q domain.ActivityQuery) ([]domain.RemoteActivity, error)

func (f funcSource) ListActivities(_ context.Context, _ string, q domain.ActivityQuery) ([]domain.RemoteActivity, error) {
	return f(q)
}

type stubBadges struct {
	calls int
	err   error
}

func (b *stubBadges) Evaluate(context.Context, domain.AthleteID) ([]string, error) {
	b.calls++
	return nil, b.err
}

type stubRefresher struct {
	creds domain.Credentials
	err   error
	calls int
}

func (r *stubRefresher) Refresh(context.Context, string) (domain.Credentials, error) {
	r.calls++
	return r.creds, r.err
}

func ids(activities []domain.Activity) []domain.ActivityID {
	out := make([]domain.ActivityID, 0, len(activities))
	for _, activity := range activities {
		out = append(out, activity.ID)
	}
	return out
}
