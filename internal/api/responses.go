package api

import (
	stdjson "encoding/json"
	"time"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/domain"
)

// AthleteView is the public profile of the signed-in athlete. Tokens never leave the server.
type AthleteView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Profile   string    `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results as the stored upstream payloads.
type ListActivitiesResponse struct {
	Items      []stdjson.RawMessage `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ImportResponse reports how many runs an import inserted.
type ImportResponse struct {
	Inserted int `json:"inserted"`
}

// RefreshResponse is returned by a reconcile.
type RefreshResponse struct {
	Activities            []stdjson.RawMessage `json:"activities"`
	Changes               activitysync.Changes `json:"changes"`
	ProcessingTimeSeconds float64              `json:"processing_time_seconds"`
	TotalActivities       int                  `json:"total_activities"`
}

// RateLimitedResponse is the problem body for a throttled refresh.
type RateLimitedResponse struct {
	Type       string `json:"type"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

// BadgeView describes one earned badge.
type BadgeView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// ListBadgesResponse packages earned badges.
type ListBadgesResponse struct {
	Items []BadgeView `json:"items"`
}

func toAthleteView(a domain.Athlete) AthleteView {
	return AthleteView{
		ID:        int64(a.ID),
		Username:  a.Username,
		Firstname: a.Firstname,
		Lastname:  a.Lastname,
		Profile:   a.Profile,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toBadgeView(b domain.EarnedBadge) BadgeView {
	return BadgeView{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Icon:        b.Icon,
		AwardedAt:   b.AwardedAt,
	}
}

func rawPayloads(activities []domain.Activity) []stdjson.RawMessage {
	out := make([]stdjson.RawMessage, 0, len(activities))
	for _, activity := range activities {
		if len(activity.RawPayload) == 0 {
			continue
		}
		out = append(out, activity.RawPayload)
	}
	return out
}
