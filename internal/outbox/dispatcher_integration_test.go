//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/runhub/internal/events"
	"example.com/runhub/internal/persistence/postgres"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
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

	migrator, err := postgres.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedOutbox(t *testing.T, pool *pgxpool.Pool, eventType string) {
	t.Helper()
	route := events.Routes[eventType]
	_, err := pool.Exec(context.Background(),
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ('athlete', '1001', $1, $2, $3, '1001', '{"athlete_id":1001}')`,
		eventType, route.Topic, route.SchemaSubject)
	require.NoError(t, err)
}

func TestDispatcherPublishesAndMarksRows(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	seedOutbox(t, pool, events.TypeSyncCompleted)
	seedOutbox(t, pool, events.TypeBadgeAwarded)

	writer := &recordingWriter{}
	dispatcher := NewDispatcher(pool, writer, &countingRegistry{ids: map[string]int{}}, 10*time.Millisecond, 10)

	before := testutil.ToFloat64(deliveredCounter)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.InDelta(t, before+2, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Len(t, writer.msgs[events.TopicSyncEvents], 1)
	require.Len(t, writer.msgs[events.TopicBadgeEvents], 1)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)

	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, writer.topics, 2, "published rows are not sent again")
}

func TestDispatcherRoutesFailuresThroughDLQ(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	seedOutbox(t, pool, events.TypeSyncCompleted)

	writer := &recordingWriter{err: errors.New("broker unavailable")}
	dispatcher := NewDispatcher(pool, writer, &countingRegistry{ids: map[string]int{}}, 10*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	var queued int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&queued))
	require.Equal(t, 1, queued)

	manager := NewDLQManager(pool, 1, time.Millisecond)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	var replay int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&replay))
	require.Equal(t, 1, replay)

	writer.err = nil
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, writer.msgs[events.TopicSyncEvents], 1)
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES (1, $1, $2, '{}', 'boom', 'athlete', '1001', '', '1001', 0, NOW())`,
		events.TypeSyncCompleted, events.TopicSyncEvents)
	require.NoError(t, err)

	manager := NewDLQManager(pool, 1, time.Millisecond)

	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued, "entries without a schema subject cannot be requeued")

	var retries int
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count FROM outbox_dlq`).Scan(&retries))
	require.Equal(t, 1, retries)

	time.Sleep(10 * time.Millisecond)
	_, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)

	var quarantined bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantined_at IS NOT NULL FROM outbox_dlq`).Scan(&quarantined))
	require.True(t, quarantined)
}
