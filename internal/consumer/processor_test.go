package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/runhub/internal/events"
)

func framed(schemaID int, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

func syncMessage(offset int64, payload []byte) kafka.Message {
	return kafka.Message{
		Topic:  events.TopicSyncEvents,
		Offset: offset,
		Time:   time.Now().UTC(),
		Value:  framed(42, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeSyncCompleted)},
			{Key: "athlete_id", Value: []byte("1001")},
			{Key: "schema_subject", Value: []byte("activity_sync_events-value")},
		},
	}
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := []byte(`{"sync_id":"s1","athlete_id":1001}`)
	reader := &stubReader{messages: []kafka.Message{syncMessage(10, payload)}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeSyncCompleted, handler.last.EventType)
	require.Equal(t, int64(1001), handler.last.AthleteID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{syncMessage(20, []byte(`{}`))}}
	handler := &stubHandler{err: errors.New("boom")}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, handler.calls)
	require.Zero(t, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	noHeader := syncMessage(1, []byte(`{}`))
	noHeader.Headers = nil
	badMagic := syncMessage(2, []byte(`{}`))
	badMagic.Value[0] = 1
	short := syncMessage(3, nil)
	short.Value = []byte{0, 1}
	badAthlete := syncMessage(4, []byte(`{}`))
	badAthlete.Headers[1].Value = []byte("abc")

	reader := &stubReader{messages: []kafka.Message{noHeader, badMagic, short, badAthlete}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.calls)
	require.Equal(t, 4, reader.commitCalls)
}

func TestProcessorStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &stubReader{messages: []kafka.Message{syncMessage(1, []byte(`{}`))}}

	err := NewProcessor(reader, &stubHandler{}, WithLogger(testLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, reader.index)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
