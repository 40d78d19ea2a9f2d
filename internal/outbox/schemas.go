package outbox

import "example.com/runhub/internal/events"

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "sync_id": {"type": "string"},
    "athlete_id": {"type": "integer"},
    "mode": {"type": "string", "enum": ["import", "reconcile"]},
    "added": {"type": "integer", "minimum": 0},
    "updated": {"type": "integer", "minimum": 0},
    "deleted": {"type": "integer", "minimum": 0},
    "total_activities": {"type": "integer", "minimum": 0},
    "completed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["sync_id", "athlete_id", "mode", "added", "updated", "deleted", "total_activities", "completed_at"],
  "additionalProperties": false
}`

const badgeAwardedSchema = `{
  "type": "object",
  "title": "BadgeAwarded",
  "properties": {
    "athlete_id": {"type": "integer"},
    "badge_id": {"type": "string"},
    "badge_name": {"type": "string"},
    "awarded_at": {"type": "string", "format": "date-time"}
  },
  "required": ["athlete_id", "badge_id", "badge_name", "awarded_at"],
  "additionalProperties": false
}`

// schemaCatalog maps event type to its JSON schema.
var schemaCatalog = map[string]string{
	events.TypeSyncCompleted: syncCompletedSchema,
	events.TypeBadgeAwarded:  badgeAwardedSchema,
}
