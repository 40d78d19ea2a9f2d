// Package activitysync keeps the local run mirror consistent with Strava.
//
// The Importer backfills records that are not yet mirrored. The Reconciler
// diffs the most recent remote page against the matching local window and
// applies inserts, updates and deletes.
package activitysync

import (
	"context"
	"time"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
)

// Store is the activity persistence used by the sync engine. Reads only see
// committed data and only return Run records.
type Store interface {
	// LatestActivity returns the owner's run with the latest start, or nil.
	LatestActivity(ctx context.Context, owner domain.AthleteID) (*domain.Activity, error)
	// FindActivity returns the activity with the given id regardless of owner, or nil.
	FindActivity(ctx context.Context, id domain.ActivityID) (*domain.Activity, error)
	// ActivitiesInWindow returns the owner's runs with start in [from, to].
	ActivitiesInWindow(ctx context.Context, owner domain.AthleteID, from, to time.Time) ([]domain.Activity, error)
	// RunActivities returns all of the owner's runs, newest first.
	RunActivities(ctx context.Context, owner domain.AthleteID) ([]domain.Activity, error)
	CountActivities(ctx context.Context, owner domain.AthleteID) (int, error)
	Begin(ctx context.Context) (Batch, error)
}

// Batch groups writes that commit or roll back together. A failed write
// leaves the batch usable; only that write is discarded.
type Batch interface {
	Insert(ctx context.Context, activity domain.Activity) error
	Update(ctx context.Context, activity domain.Activity) error
	Delete(ctx context.Context, id domain.ActivityID) error
	// DeleteRuns removes every run owned by owner and returns how many were removed.
	DeleteRuns(ctx context.Context, owner domain.AthleteID) (int, error)
	// RecordSync appends a sync.completed event to the outbox.
	RecordSync(ctx context.Context, event events.SyncCompleted) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ActivitySource is the remote paginated activity API.
type ActivitySource interface {
	ListActivities(ctx context.Context, accessToken string, q domain.ActivityQuery) ([]domain.RemoteActivity, error)
}

// BadgeEvaluator is notified after every successful sync.
type BadgeEvaluator interface {
	Evaluate(ctx context.Context, owner domain.AthleteID) ([]string, error)
}

// TokenRefresher exchanges a refresh token for new credentials.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error)
}
