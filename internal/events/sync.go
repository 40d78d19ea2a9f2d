// Package events defines the payloads runhub publishes through the outbox.
package events

import "time"

// Event type identifiers stored in the outbox.
const (
	TypeSyncCompleted = "sync.completed"
	TypeBadgeAwarded  = "badge.awarded"
)

// Kafka topics the outbox routes events to.
const (
	TopicSyncEvents  = "activity_sync_events"
	TopicBadgeEvents = "badge_events"
)

// Route describes where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Routes maps every event type to its topic and schema registry subject.
var Routes = map[string]Route{
	TypeSyncCompleted: {Topic: TopicSyncEvents, SchemaSubject: TopicSyncEvents + "-value"},
	TypeBadgeAwarded:  {Topic: TopicBadgeEvents, SchemaSubject: TopicBadgeEvents + "-value"},
}

// Sync modes reported on SyncCompleted.
const (
	ModeImport    = "import"
	ModeReconcile = "reconcile"
)

// SyncCompleted is emitted once per import or reconcile invocation.
type SyncCompleted struct {
	SyncID          string    `json:"sync_id"`
	AthleteID       int64     `json:"athlete_id"`
	Mode            string    `json:"mode"`
	Added           int       `json:"added"`
	Updated         int       `json:"updated"`
	Deleted         int       `json:"deleted"`
	TotalActivities int       `json:"total_activities"`
	CompletedAt     time.Time `json:"completed_at"`
}

// BadgeAwarded records the first time an athlete earns a badge.
type BadgeAwarded struct {
	AthleteID int64     `json:"athlete_id"`
	BadgeID   string    `json:"badge_id"`
	BadgeName string    `json:"badge_name"`
	AwardedAt time.Time `json:"awarded_at"`
}
