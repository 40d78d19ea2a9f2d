package activitysync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/persistence/memory"
)

var serviceNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

func newService(store *memory.Store, source activitysync.ActivitySource, refresher activitysync.TokenRefresher) *activitysync.Service {
	clock := activitysync.WithClock(func() time.Time { return serviceNow })
	importer := activitysync.NewImporter(store, source, nil, clock)
	reconciler := activitysync.NewReconciler(store, source, importer, nil, clock)
	return activitysync.NewService(store, refresher, importer, reconciler, clock)
}

func seedAthlete(t *testing.T, store *memory.Store, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertAthlete(context.Background(), domain.Athlete{
		ID:             owner,
		Username:       "runner",
		AccessToken:    "stale-access",
		RefreshToken:   "refresh-1",
		TokenExpiresAt: expiresAt,
	}))
}

func TestServiceUnknownAthleteMakesNoRemoteCalls(t *testing.T) {
	source := &pagedSource{}
	refresher := &stubRefresher{}
	svc := newService(memory.NewStore(), source, refresher)

	_, err := svc.Reconcile(context.Background(), owner)
	require.ErrorIs(t, err, activitysync.ErrAthleteNotFound)

	_, err = svc.Import(context.Background(), owner, nil)
	require.ErrorIs(t, err, activitysync.ErrAthleteNotFound)

	require.Zero(t, source.callCount())
	require.Zero(t, refresher.calls)
}

func TestServiceUsesValidTokenWithoutRefresh(t *testing.T) {
	store := memory.NewStore()
	seedAthlete(t, store, serviceNow.Add(time.Hour))
	source := &pagedSource{records: []domain.RemoteActivity{remoteRun(1, day(1), 5000)}}
	refresher := &stubRefresher{}

	result, err := newService(store, source, refresher).Reconcile(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, 1, result.Changes.Added)
	require.Zero(t, refresher.calls)
	require.Equal(t, "stale-access", source.tokens[0])
}

func TestServiceRefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedAthlete(t, store, serviceNow.Add(-time.Hour))
	source := &pagedSource{}
	expires := serviceNow.Add(6 * time.Hour)
	refresher := &stubRefresher{creds: domain.Credentials{AccessToken: "fresh-access", ExpiresAt: expires}}

	_, err := newService(store, source, refresher).Reconcile(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, refresher.calls)
	for _, token := range source.tokens {
		require.Equal(t, "fresh-access", token)
	}

	athlete, err := store.GetAthlete(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "fresh-access", athlete.AccessToken)
	require.Equal(t, "refresh-1", athlete.RefreshToken, "an empty refresh token keeps the stored one")
	require.True(t, athlete.TokenExpiresAt.Equal(expires))
}

func TestServiceRefreshFailureIsUnauthorized(t *testing.T) {
	store := memory.NewStore()
	seedAthlete(t, store, time.Time{})
	source := &pagedSource{}
	refresher := &stubRefresher{err: errors.New("invalid_grant")}

	_, err := newService(store, source, refresher).Reconcile(context.Background(), owner)
	require.ErrorIs(t, err, activitysync.ErrUnauthorized)
	require.ErrorContains(t, err, "invalid_grant")
	require.Zero(t, source.callCount())
}

func TestServiceAuthorizeStoresAthleteAndBackfills(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	source := &pagedSource{records: []domain.RemoteActivity{remoteRun(2, day(2), 5000), remoteRun(1, day(1), 5000)}}
	svc := newService(store, source, &stubRefresher{})

	inserted, err := svc.Authorize(ctx, domain.Athlete{
		ID:             owner,
		Username:       "runner",
		AccessToken:    "new-access",
		RefreshToken:   "new-refresh",
		TokenExpiresAt: serviceNow.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Equal(t, "new-access", source.tokens[0])

	stored, err := store.GetAthlete(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "runner", stored.Username)
	created := stored.CreatedAt

	_, err = svc.Authorize(ctx, domain.Athlete{ID: owner, Username: "renamed", AccessToken: "again", TokenExpiresAt: serviceNow.Add(time.Hour)})
	require.NoError(t, err)
	stored, err = store.GetAthlete(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "renamed", stored.Username)
	require.Equal(t, created, stored.CreatedAt)
}
