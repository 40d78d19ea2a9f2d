package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/runhub/internal/events"
)

// Execer is the subset of pgxpool.Pool used by EventLogHandler.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EventLogHandler appends every consumed event to sync_event_log.
// Redelivered records are ignored through the (topic, partition, offset) key.
type EventLogHandler struct {
	db  Execer
	now func() time.Time
}

// NewEventLogHandler constructs a handler backed by db.
func NewEventLogHandler(db Execer) *EventLogHandler {
	return &EventLogHandler{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Handle validates the payload for known event types and stores it.
func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	athleteID, err := payloadAthlete(msg)
	if err != nil {
		return err
	}

	_, err = h.db.Exec(ctx,
		`INSERT INTO sync_event_log (topic, partition, "offset", event_type, athlete_id, schema_subject, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         ON CONFLICT (topic, partition, "offset") DO NOTHING`,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.EventType,
		nullableAthlete(athleteID),
		msg.SchemaSubject,
		msg.Payload,
		h.now(),
	)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// payloadAthlete decodes known payloads and returns the athlete they concern.
// The header value wins when present.
func payloadAthlete(msg Message) (int64, error) {
	var fromPayload int64
	switch msg.EventType {
	case events.TypeSyncCompleted:
		var evt events.SyncCompleted
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return 0, fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		fromPayload = evt.AthleteID
	case events.TypeBadgeAwarded:
		var evt events.BadgeAwarded
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return 0, fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		fromPayload = evt.AthleteID
	default:
		if !json.Valid(msg.Payload) {
			return 0, fmt.Errorf("payload for %s is not valid JSON", msg.EventType)
		}
	}
	if msg.AthleteID != 0 {
		return msg.AthleteID, nil
	}
	return fromPayload, nil
}

func nullableAthlete(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
