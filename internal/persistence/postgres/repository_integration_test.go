//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/badges"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("runhub"),
		postgrescontainer.WithUsername("runhub"),
		postgrescontainer.WithPassword("runhub"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Up(), "re-running migrations is a no-op")
	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func remoteRun(id domain.ActivityID, started time.Time, meters float64) domain.RemoteActivity {
	return domain.RemoteActivity{
		ID:                 id,
		Kind:               domain.KindRun,
		Name:               "Run " + id.String(),
		DistanceMeters:     meters,
		MovingTimeSeconds:  int(meters / 3),
		ElapsedTimeSeconds: int(meters/3) + 30,
		StartedAt:          started,
		Raw:                []byte(`{"id":` + id.String() + `,"type":"Run"}`),
	}
}

func TestRepositoryAthleteLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))

	missing, err := repo.GetAthlete(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, missing)
	require.ErrorIs(t, repo.UpdateCredentials(ctx, 1, domain.Credentials{AccessToken: "x"}), domain.ErrAthleteNotFound)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, repo.UpsertAthlete(ctx, domain.Athlete{ID: 1, Username: "runner", AccessToken: "a1", RefreshToken: "r1", TokenExpiresAt: expires}))
	require.NoError(t, repo.UpdateCredentials(ctx, 1, domain.Credentials{AccessToken: "a2", ExpiresAt: expires.Add(time.Hour)}))

	athlete, err := repo.GetAthlete(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "a2", athlete.AccessToken)
	require.Equal(t, "r1", athlete.RefreshToken)
	require.True(t, athlete.TokenExpiresAt.Equal(expires.Add(time.Hour)))
}

func TestRepositoryBatchSurvivesFailedWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))
	require.NoError(t, repo.UpsertAthlete(ctx, domain.Athlete{ID: 7, AccessToken: "a", RefreshToken: "r"}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	start := time.Date(2025, time.June, 1, 6, 0, 0, 0, time.UTC)

	batch, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Insert(ctx, domain.NewActivity(7, remoteRun(1, start, 5000), now)))
	require.ErrorIs(t, batch.Insert(ctx, domain.NewActivity(7, remoteRun(1, start, 5000), now)), domain.ErrDuplicateActivity)
	require.ErrorIs(t, batch.Update(ctx, domain.NewActivity(7, remoteRun(99, start, 5000), now)), domain.ErrActivityNotFound)
	require.NoError(t, batch.Insert(ctx, domain.NewActivity(7, remoteRun(2, start.Add(time.Hour), 8000), now)))
	require.NoError(t, batch.RecordSync(ctx, events.SyncCompleted{SyncID: "s-1", AthleteID: 7, Mode: events.ModeImport, Added: 2, CompletedAt: now}))
	require.NoError(t, batch.Commit(ctx))
	require.NoError(t, batch.Rollback(ctx), "rollback after commit is a no-op")

	runs, err := repo.RunActivities(ctx, 7)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, domain.ActivityID(2), runs[0].ID)
	require.JSONEq(t, `{"id":2,"type":"Run"}`, string(runs[0].RawPayload))

	var outboxRows int
	require.NoError(t, repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type=$1 AND topic=$2`, events.TypeSyncCompleted, events.TopicSyncEvents).Scan(&outboxRows))
	require.Equal(t, 1, outboxRows)

	page, next, err := repo.ListActivities(ctx, 7, nil, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.NotNil(t, next)
	page, _, err = repo.ListActivities(ctx, 7, next, 1)
	require.NoError(t, err)
	require.Equal(t, domain.ActivityID(1), page[0].ID)

	window, err := repo.ActivitiesInWindow(ctx, 7, start, start)
	require.NoError(t, err)
	require.Len(t, window, 1)
}

func TestRepositoryDrivesReconciler(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))
	require.NoError(t, repo.UpsertAthlete(ctx, domain.Athlete{ID: 9, AccessToken: "a", RefreshToken: "r"}))

	day := func(n int) time.Time { return time.Date(2025, time.June, n, 7, 0, 0, 0, time.UTC) }
	now := time.Now().UTC()
	seed, err := repo.Begin(ctx)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, seed.Insert(ctx, domain.NewActivity(9, remoteRun(domain.ActivityID(i), day(i), 5000), now)))
	}
	require.NoError(t, seed.Commit(ctx))

	source := staticSource{remoteRun(4, day(4), 6000), remoteRun(3, day(3), 5000), remoteRun(2, day(2), 5400)}
	evaluator := badges.NewEvaluator(repo)
	importer := activitysync.NewImporter(repo, source, evaluator)
	reconciler := activitysync.NewReconciler(repo, source, importer, evaluator)

	result, err := reconciler.Reconcile(ctx, 9, "token")
	require.NoError(t, err)
	require.Equal(t, activitysync.Changes{Added: 1, Updated: 1, TotalChanges: 2}, result.Changes)
	require.Equal(t, 4, result.TotalActivities)

	earned, err := repo.EarnedBadges(ctx, 9)
	require.NoError(t, err)
	require.NotEmpty(t, earned)

	created, err := repo.AwardBadge(ctx, 9, earned[0].Badge, now)
	require.NoError(t, err)
	require.False(t, created)
}

type staticSource []domain.RemoteActivity

func (s staticSource) ListActivities(_ context.Context, _ string, q domain.ActivityQuery) ([]domain.RemoteActivity, error) {
	if q.Page > 1 {
		return nil, nil
	}
	var out []domain.RemoteActivity
	for _, record := range s {
		if q.After != nil && !record.StartedAt.After(*q.After) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}
