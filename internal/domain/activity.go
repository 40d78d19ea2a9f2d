package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KindRun is the only activity kind that participates in mirroring.
const KindRun = "Run"

// StartDateLayout is the upstream start_date format.
const StartDateLayout = "2006-01-02T15:04:05Z"

// ActivityID is the canonical identifier assigned to an activity by Strava.
type ActivityID int64

// ParseActivityID converts the textual upstream representation into an ActivityID.
func ParseActivityID(raw string) (ActivityID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid activity id %q: %w", raw, err)
	}
	return ActivityID(value), nil
}

func (id ActivityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// AthleteID identifies the Strava athlete owning a mirror.
type AthleteID int64

// ParseAthleteID converts a textual athlete identifier.
func ParseAthleteID(raw string) (AthleteID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid athlete id %q: %w", raw, err)
	}
	return AthleteID(value), nil
}

func (id AthleteID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RemoteActivity is one upstream activity record after identifier and timestamp normalisation.
type RemoteActivity struct {
	ID                  ActivityID
	Kind                string
	Name                string
	DistanceMeters      float64
	MovingTimeSeconds   int
	ElapsedTimeSeconds  int
	ElevationGainMeters float64
	StartedAt           time.Time
	Polyline            string
	StartLatLng         string
	EndLatLng           string
	Raw                 json.RawMessage
}

// IsRun reports whether the record belongs to the mirrored category.
func (r RemoteActivity) IsRun() bool {
	return r.Kind == KindRun
}

// Activity is the mirrored record stored locally. The scalar fields are a
// denormalised view of Raw and are only ever produced by NewActivity.
type Activity struct {
	ID                  ActivityID
	OwnerID             AthleteID
	Kind                string
	Name                string
	DistanceMeters      float64
	MovingTimeSeconds   int
	ElapsedTimeSeconds  int
	ElevationGainMeters float64
	StartedAt           time.Time
	Polyline            string
	StartLatLng         string
	EndLatLng           string
	RawPayload          json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewActivity derives the stored record, scalars and raw payload together, from one upstream record.
func NewActivity(owner AthleteID, remote RemoteActivity, now time.Time) Activity {
	raw := make(json.RawMessage, len(remote.Raw))
	copy(raw, remote.Raw)
	return Activity{
		ID:                  remote.ID,
		OwnerID:             owner,
		Kind:                remote.Kind,
		Name:                remote.Name,
		DistanceMeters:      remote.DistanceMeters,
		MovingTimeSeconds:   remote.MovingTimeSeconds,
		ElapsedTimeSeconds:  remote.ElapsedTimeSeconds,
		ElevationGainMeters: remote.ElevationGainMeters,
		StartedAt:           remote.StartedAt.UTC(),
		Polyline:            remote.Polyline,
		StartLatLng:         remote.StartLatLng,
		EndLatLng:           remote.EndLatLng,
		RawPayload:          raw,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartedAt time.Time
	ID        ActivityID
}

// RunStats aggregates an athlete's mirrored runs.
type RunStats struct {
	Count               int
	TotalDistanceMeters float64
	LongestRunMeters    float64
	TotalElevationGain  float64
}
