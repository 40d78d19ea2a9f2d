package activitysync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/observability"
)

// ImportPageSize is the page size used by the bulk importer.
const ImportPageSize = 200

// Option configures optional behaviour for the Importer and Reconciler.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ImportParams overrides the importer's cursor selection.
type ImportParams struct {
	PerPage int
	Page    int
	After   *time.Time
}

// Importer pulls every remote run that is not yet mirrored.
type Importer struct {
	store  Store
	source ActivitySource
	badges BadgeEvaluator
	clock  func() time.Time
}

// NewImporter constructs an Importer. badges may be nil.
func NewImporter(store Store, source ActivitySource, badges BadgeEvaluator, opts ...Option) *Importer {
	o := buildOptions(opts)
	return &Importer{store: store, source: source, badges: badges, clock: o.clock}
}

// Import fetches pages until one fails or comes back empty and inserts runs
// that do not exist locally. Page failures end pagination and are not
// returned; storage failures are. Returns the number of inserted records.
func (i *Importer) Import(ctx context.Context, owner domain.AthleteID, accessToken string, params *ImportParams) (int, error) {
	inserted, err := i.importPages(ctx, owner, accessToken, params)
	if err != nil {
		return inserted, err
	}

	observability.RecordImported(inserted)
	observability.RecordChanges(observability.ChangeAdded, inserted)
	if err := recordSync(ctx, i.store, owner, events.ModeImport, changeCounts{Added: inserted}, i.clock()); err != nil {
		return inserted, err
	}
	evaluateBadges(ctx, i.badges, owner)

	logging.Ctx(ctx).Info().Int64("athlete_id", int64(owner)).Int("inserted", inserted).Msg("bulk import finished")
	return inserted, nil
}

func (i *Importer) importPages(ctx context.Context, owner domain.AthleteID, accessToken string, params *ImportParams) (int, error) {
	query, err := i.initialQuery(ctx, owner, params)
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		page, err := i.source.ListActivities(ctx, accessToken, query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			logging.Ctx(ctx).Warn().Err(err).
				Int64("athlete_id", int64(owner)).
				Int("page", query.Page).
				Msg("import page failed, stopping pagination")
			return total, nil
		}
		if len(page) == 0 {
			return total, nil
		}

		inserted, err := i.importPage(ctx, owner, page)
		total += inserted
		if err != nil {
			return total, err
		}
		query.Page++
	}
}

func (i *Importer) initialQuery(ctx context.Context, owner domain.AthleteID, params *ImportParams) (domain.ActivityQuery, error) {
	query := domain.ActivityQuery{Page: 1, PerPage: ImportPageSize}
	if params != nil {
		if params.PerPage > 0 {
			query.PerPage = params.PerPage
		}
		if params.Page > 0 {
			query.Page = params.Page
		}
		query.After = params.After
		return query, nil
	}

	latest, err := i.store.LatestActivity(ctx, owner)
	if err != nil {
		return query, fmt.Errorf("load latest activity: %w", err)
	}
	if latest != nil {
		after := latest.StartedAt.Add(time.Second)
		query.After = &after
	}
	return query, nil
}

func (i *Importer) importPage(ctx context.Context, owner domain.AthleteID, page []domain.RemoteActivity) (inserted int, err error) {
	batch, err := i.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = batch.Rollback(ctx)
		}
	}()

	now := i.clock()
	seen := make(map[domain.ActivityID]struct{}, len(page))
	for _, remote := range filterRuns(page) {
		if _, dup := seen[remote.ID]; dup {
			continue
		}
		seen[remote.ID] = struct{}{}

		existing, findErr := i.store.FindActivity(ctx, remote.ID)
		if findErr != nil {
			return 0, fmt.Errorf("lookup activity %s: %w", remote.ID, findErr)
		}
		outcome, upsertErr := applyUpsert(ctx, batch, owner, remote, existing, SkipIfExists, now)
		if upsertErr != nil {
			return 0, upsertErr
		}
		if outcome == outcomeInserted {
			inserted++
		}
	}

	if err = batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import page: %w", err)
	}
	return inserted, nil
}

type changeCounts struct {
	Added   int
	Updated int
	Deleted int
}

func recordSync(ctx context.Context, store Store, owner domain.AthleteID, mode string, changes changeCounts, now time.Time) (err error) {
	total, err := store.CountActivities(ctx, owner)
	if err != nil {
		return fmt.Errorf("count activities: %w", err)
	}

	batch, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = batch.Rollback(ctx)
		}
	}()

	if err = batch.RecordSync(ctx, events.SyncCompleted{
		SyncID:          uuid.NewString(),
		AthleteID:       int64(owner),
		Mode:            mode,
		Added:           changes.Added,
		Updated:         changes.Updated,
		Deleted:         changes.Deleted,
		TotalActivities: total,
		CompletedAt:     now,
	}); err != nil {
		return fmt.Errorf("record sync event: %w", err)
	}
	if err = batch.Commit(ctx); err != nil {
		return err
	}
	observability.RecordSyncCompleted(now)
	return nil
}

func evaluateBadges(ctx context.Context, badges BadgeEvaluator, owner domain.AthleteID) {
	if badges == nil {
		return
	}
	awarded, err := badges.Evaluate(ctx, owner)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("athlete_id", int64(owner)).Msg("badge evaluation failed")
		return
	}
	if len(awarded) > 0 {
		logging.Ctx(ctx).Info().Int64("athlete_id", int64(owner)).Strs("badges", awarded).Msg("badges awarded")
	}
}
