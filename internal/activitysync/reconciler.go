package activitysync

import (
	"context"
	"fmt"
	"time"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/observability"
)

const (
	// ReconcilePageSize is the number of most recent remote records compared per call.
	ReconcilePageSize = 50
	probePageSize     = 1
)

// Changes summarises the writes applied by one reconcile call.
type Changes struct {
	Added        int `json:"added"`
	Updated      int `json:"updated"`
	Deleted      int `json:"deleted"`
	TotalChanges int `json:"total_changes"`
}

// Result is returned by Reconcile.
type Result struct {
	// Activities is the owner's full run list after the sync, newest first.
	Activities      []domain.Activity
	Changes         Changes
	ProcessingTime  time.Duration
	TotalActivities int
}

// Reconciler converges the local mirror with the most recent remote page.
//
// Deletions are only detected inside the window spanned by that page: a
// local run older than the oldest remote record on the page is never
// deleted, even if it no longer exists upstream.
type Reconciler struct {
	store    Store
	source   ActivitySource
	importer *Importer
	badges   BadgeEvaluator
	clock    func() time.Time
}

// NewReconciler constructs a Reconciler. The importer is used for the tail fetch.
func NewReconciler(store Store, source ActivitySource, importer *Importer, badges BadgeEvaluator, opts ...Option) *Reconciler {
	o := buildOptions(opts)
	return &Reconciler{store: store, source: source, importer: importer, badges: badges, clock: o.clock}
}

// Reconcile runs one reconciliation pass for owner.
func (r *Reconciler) Reconcile(ctx context.Context, owner domain.AthleteID, accessToken string) (*Result, error) {
	started := time.Now()
	logger := logging.Ctx(ctx).With().Int64("athlete_id", int64(owner)).Logger()

	page, err := r.source.ListActivities(ctx, accessToken, domain.ActivityQuery{Page: 1, PerPage: ReconcilePageSize})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch recent activities: %w", ErrUpstream, err)
	}

	var changes Changes
	remote := filterRuns(page)
	if len(remote) > 0 {
		if changes, err = r.reconcileWindow(ctx, owner, remote); err != nil {
			return nil, err
		}

		newest, _ := startBounds(remote)
		tail, err := r.importer.importPages(ctx, owner, accessToken, &ImportParams{After: &newest})
		changes.Added += tail
		if err != nil {
			return nil, fmt.Errorf("tail import: %w", err)
		}
	} else {
		if changes.Deleted, err = r.reconcileEmpty(ctx, owner, accessToken); err != nil {
			return nil, err
		}
	}
	changes.TotalChanges = changes.Added + changes.Updated + changes.Deleted

	if err := recordSync(ctx, r.store, owner, events.ModeReconcile, changeCounts{
		Added:   changes.Added,
		Updated: changes.Updated,
		Deleted: changes.Deleted,
	}, r.clock()); err != nil {
		return nil, err
	}

	activities, err := r.store.RunActivities(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	evaluateBadges(ctx, r.badges, owner)

	elapsed := time.Since(started)
	observability.ObserveReconcile(elapsed)
	observability.RecordChanges(observability.ChangeAdded, changes.Added)
	observability.RecordChanges(observability.ChangeUpdated, changes.Updated)
	observability.RecordChanges(observability.ChangeDeleted, changes.Deleted)
	logger.Info().
		Int("added", changes.Added).
		Int("updated", changes.Updated).
		Int("deleted", changes.Deleted).
		Dur("elapsed", elapsed).
		Msg("reconcile finished")

	return &Result{
		Activities:      activities,
		Changes:         changes,
		ProcessingTime:  elapsed,
		TotalActivities: len(activities),
	}, nil
}

func (r *Reconciler) reconcileWindow(ctx context.Context, owner domain.AthleteID, remote []domain.RemoteActivity) (changes Changes, err error) {
	newest, oldest := startBounds(remote)

	upper := newest
	frontier, err := r.store.LatestActivity(ctx, owner)
	if err != nil {
		return Changes{}, fmt.Errorf("load local frontier: %w", err)
	}
	if frontier != nil && frontier.StartedAt.After(upper) {
		upper = frontier.StartedAt
	}

	locals, err := r.store.ActivitiesInWindow(ctx, owner, oldest, upper)
	if err != nil {
		return Changes{}, fmt.Errorf("load comparison window: %w", err)
	}
	localByID := make(map[domain.ActivityID]domain.Activity, len(locals))
	for _, local := range locals {
		localByID[local.ID] = local
	}

	batch, err := r.store.Begin(ctx)
	if err != nil {
		return Changes{}, err
	}
	defer func() {
		if err != nil {
			_ = batch.Rollback(ctx)
		}
	}()

	now := r.clock()
	remoteIDs := make(map[domain.ActivityID]struct{}, len(remote))
	for _, record := range remote {
		if _, dup := remoteIDs[record.ID]; dup {
			continue
		}
		remoteIDs[record.ID] = struct{}{}

		var existing *domain.Activity
		if local, ok := localByID[record.ID]; ok {
			existing = &local
		}
		outcome, upsertErr := applyUpsert(ctx, batch, owner, record, existing, UpdateIfDiffers, now)
		if upsertErr != nil {
			recordError(ctx, owner, record.ID, upsertErr)
			continue
		}
		switch outcome {
		case outcomeInserted:
			changes.Added++
		case outcomeUpdated:
			changes.Updated++
		}
	}

	for _, local := range locals {
		if _, ok := remoteIDs[local.ID]; ok {
			continue
		}
		if local.StartedAt.Before(oldest) {
			continue
		}
		if deleteErr := batch.Delete(ctx, local.ID); deleteErr != nil {
			recordError(ctx, owner, local.ID, fmt.Errorf("delete activity %s: %w", local.ID, deleteErr))
			continue
		}
		changes.Deleted++
	}

	if err = batch.Commit(ctx); err != nil {
		return Changes{}, fmt.Errorf("commit reconcile batch: %w", err)
	}
	return changes, nil
}

// reconcileEmpty handles a recent page without runs. Local runs are wiped only
// when an unfiltered probe confirms the owner has no remote activities at all.
func (r *Reconciler) reconcileEmpty(ctx context.Context, owner domain.AthleteID, accessToken string) (deleted int, err error) {
	probe, err := r.source.ListActivities(ctx, accessToken, domain.ActivityQuery{Page: 1, PerPage: probePageSize})
	if err != nil {
		return 0, fmt.Errorf("%w: probe activities: %w", ErrUpstream, err)
	}
	if len(probe) > 0 {
		return 0, nil
	}

	batch, err := r.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = batch.Rollback(ctx)
		}
	}()

	if deleted, err = batch.DeleteRuns(ctx, owner); err != nil {
		return 0, fmt.Errorf("delete all runs: %w", err)
	}
	if err = batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit wipe: %w", err)
	}
	logging.Ctx(ctx).Warn().Int64("athlete_id", int64(owner)).Int("deleted", deleted).Msg("no remote activities, local runs removed")
	return deleted, nil
}

func recordError(ctx context.Context, owner domain.AthleteID, id domain.ActivityID, err error) {
	observability.RecordRecordError()
	logging.Ctx(ctx).Warn().Err(err).
		Int64("athlete_id", int64(owner)).
		Str("activity_id", id.String()).
		Msg("skipping activity after write failure")
}
