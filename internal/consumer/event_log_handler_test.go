package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"example.com/runhub/internal/events"
)

type recordingExec struct {
	sql  string
	args []any
	err  error
}

func (e *recordingExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestEventLogHandlerStoresEvent(t *testing.T) {
	db := &recordingExec{}
	msg := Message{
		Topic:         events.TopicBadgeEvents,
		Partition:     2,
		Offset:        55,
		EventType:     events.TypeBadgeAwarded,
		SchemaSubject: "badge_events-value",
		Payload:       []byte(`{"athlete_id":77,"badge_id":"5k","badge_name":"5K Finisher","awarded_at":"2025-06-01T00:00:00Z"}`),
	}

	require.NoError(t, NewEventLogHandler(db).Handle(context.Background(), msg))
	require.Contains(t, db.sql, "sync_event_log")
	require.Equal(t, events.TopicBadgeEvents, db.args[0])
	require.Equal(t, int64(55), db.args[2])
	require.Equal(t, int64(77), db.args[4], "athlete falls back to the payload")
}

func TestEventLogHandlerPrefersHeaderAthlete(t *testing.T) {
	db := &recordingExec{}
	msg := Message{EventType: events.TypeSyncCompleted, AthleteID: 5, Payload: []byte(`{"athlete_id":6}`)}

	require.NoError(t, NewEventLogHandler(db).Handle(context.Background(), msg))
	require.Equal(t, int64(5), db.args[4])
}

func TestEventLogHandlerRejectsBadPayloads(t *testing.T) {
	db := &recordingExec{}
	handler := NewEventLogHandler(db)

	err := handler.Handle(context.Background(), Message{EventType: events.TypeSyncCompleted, Payload: []byte(`{"athlete_id":"x"`)})
	require.ErrorContains(t, err, "decode sync.completed")

	err = handler.Handle(context.Background(), Message{EventType: "other", Payload: []byte(`nope`)})
	require.ErrorContains(t, err, "not valid JSON")
	require.Empty(t, db.sql)

	db.err = errors.New("connection reset")
	err = handler.Handle(context.Background(), Message{EventType: "other", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, db.err)
}
