package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/runhub/internal/events"
)

type recordingWriter struct {
	topics []string
	msgs   map[string][]kafka.Message
	err    error
}

func (w *recordingWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.msgs == nil {
		w.msgs = make(map[string][]kafka.Message)
	}
	w.topics = append(w.topics, topic)
	w.msgs[topic] = append(w.msgs[topic], msgs...)
	return nil
}

type countingRegistry struct {
	ids   map[string]int
	calls int
	err   error
}

func (r *countingRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	return r.ids[subject], nil
}

func newTestDispatcher(writer messageWriter, registry schemaRegistrar) *Dispatcher {
	fixed := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	return &Dispatcher{producer: writer, registry: registry, now: func() time.Time { return fixed }}
}

func message(id int64, eventType string) Message {
	route := events.Routes[eventType]
	return Message{
		EventID:       id,
		AggregateType: "athlete",
		AggregateID:   "1001",
		EventType:     eventType,
		Topic:         route.Topic,
		SchemaSubject: route.SchemaSubject,
		PartitionKey:  "1001",
		Payload:       []byte(`{"athlete_id":1001}`),
	}
}

func TestDeliverFramesPayloadsAndGroupsByTopic(t *testing.T) {
	writer := &recordingWriter{}
	registry := &countingRegistry{ids: map[string]int{
		events.Routes[events.TypeSyncCompleted].SchemaSubject: 7,
		events.Routes[events.TypeBadgeAwarded].SchemaSubject:  9,
	}}
	d := newTestDispatcher(writer, registry)

	err := d.deliver(context.Background(), []Message{
		message(1, events.TypeSyncCompleted),
		message(2, events.TypeBadgeAwarded),
		message(3, events.TypeSyncCompleted),
	})
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicSyncEvents, events.TopicBadgeEvents}, writer.topics)
	require.Len(t, writer.msgs[events.TopicSyncEvents], 2)
	require.Equal(t, 2, registry.calls, "schema ids are cached per subject")

	record := writer.msgs[events.TopicBadgeEvents][0]
	require.Equal(t, []byte("1001"), record.Key)
	schemaID, payload, err := DecodeWireFormat(record.Value)
	require.NoError(t, err)
	require.Equal(t, 9, schemaID)
	require.JSONEq(t, `{"athlete_id":1001}`, string(payload))

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, events.TypeBadgeAwarded, headers[HeaderEventType])
	require.Equal(t, events.Routes[events.TypeBadgeAwarded].SchemaSubject, headers[HeaderSchemaSubject])
	require.Equal(t, "1001", headers[HeaderAthleteID])
}

func TestDeliverFailures(t *testing.T) {
	t.Run("unknown event type", func(t *testing.T) {
		d := newTestDispatcher(&recordingWriter{}, &countingRegistry{})
		err := d.deliver(context.Background(), []Message{{EventType: "mystery"}})
		require.ErrorContains(t, err, "no schema metadata")
	})

	t.Run("registry down", func(t *testing.T) {
		down := errors.New("connection refused")
		d := newTestDispatcher(&recordingWriter{}, &countingRegistry{err: down})
		err := d.deliver(context.Background(), []Message{message(1, events.TypeSyncCompleted)})
		require.ErrorIs(t, err, down)
	})

	t.Run("broker down", func(t *testing.T) {
		down := errors.New("leader not available")
		d := newTestDispatcher(&recordingWriter{err: down}, &countingRegistry{ids: map[string]int{}})
		err := d.deliver(context.Background(), []Message{message(1, events.TypeSyncCompleted)})
		require.ErrorIs(t, err, down)
	})
}

func TestWireFormat(t *testing.T) {
	frame := encodeWireFormat(258, []byte("{}"))
	require.Equal(t, []byte{0, 0, 0, 1, 2, '{', '}'}, frame)

	_, _, err := DecodeWireFormat([]byte{1, 0, 0, 0, 1})
	require.Error(t, err)
	_, _, err = DecodeWireFormat([]byte{0, 0})
	require.Error(t, err)
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, time.Minute, backoffDelay(time.Minute, 1))
	require.Equal(t, 4*time.Minute, backoffDelay(time.Minute, 3))
	require.Equal(t, time.Hour, backoffDelay(time.Minute, 8))
	require.Equal(t, time.Hour, backoffDelay(time.Minute, 64))
	require.Equal(t, time.Minute, backoffDelay(time.Minute, 0))
}
