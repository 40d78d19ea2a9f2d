package activitysync

import (
	"context"
	"fmt"
	"math"
	"time"

	"example.com/runhub/internal/domain"
)

// DistanceTolerance is the absolute distance difference, in meters, treated as equal.
const DistanceTolerance = 0.01

// ConflictPolicy decides what happens when a remote record already exists locally.
type ConflictPolicy int

const (
	// SkipIfExists never touches an existing record.
	SkipIfExists ConflictPolicy = iota
	// UpdateIfDiffers rebuilds the local record when SameActivity reports a difference.
	UpdateIfDiffers
)

// SameActivity compares the fields the mirror tracks for upstream edits.
func SameActivity(local domain.Activity, remote domain.RemoteActivity) bool {
	return local.Name == remote.Name &&
		math.Abs(local.DistanceMeters-remote.DistanceMeters) <= DistanceTolerance &&
		local.MovingTimeSeconds == remote.MovingTimeSeconds &&
		local.ElapsedTimeSeconds == remote.ElapsedTimeSeconds
}

type upsertOutcome int

const (
	outcomeUnchanged upsertOutcome = iota
	outcomeInserted
	outcomeUpdated
)

// applyUpsert writes remote into batch according to policy. existing is the
// local record with the same id, or nil. Scalars and raw payload always come
// from domain.NewActivity so they never drift apart.
func applyUpsert(ctx context.Context, batch Batch, owner domain.AthleteID, remote domain.RemoteActivity, existing *domain.Activity, policy ConflictPolicy, now time.Time) (upsertOutcome, error) {
	if existing == nil {
		if err := batch.Insert(ctx, domain.NewActivity(owner, remote, now)); err != nil {
			return outcomeUnchanged, fmt.Errorf("insert activity %s: %w", remote.ID, err)
		}
		return outcomeInserted, nil
	}

	if policy == SkipIfExists || SameActivity(*existing, remote) {
		return outcomeUnchanged, nil
	}

	rebuilt := domain.NewActivity(existing.OwnerID, remote, now)
	rebuilt.CreatedAt = existing.CreatedAt
	if err := batch.Update(ctx, rebuilt); err != nil {
		return outcomeUnchanged, fmt.Errorf("update activity %s: %w", remote.ID, err)
	}
	return outcomeUpdated, nil
}

func filterRuns(records []domain.RemoteActivity) []domain.RemoteActivity {
	runs := make([]domain.RemoteActivity, 0, len(records))
	for _, record := range records {
		if record.IsRun() {
			runs = append(runs, record)
		}
	}
	return runs
}

// startBounds returns the newest and oldest start instants; records must be non-empty.
func startBounds(records []domain.RemoteActivity) (newest, oldest time.Time) {
	newest, oldest = records[0].StartedAt, records[0].StartedAt
	for _, record := range records[1:] {
		if record.StartedAt.After(newest) {
			newest = record.StartedAt
		}
		if record.StartedAt.Before(oldest) {
			oldest = record.StartedAt
		}
	}
	return newest, oldest
}
