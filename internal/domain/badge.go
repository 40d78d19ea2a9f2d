package domain

import "time"

// Badge describes an achievement that can be earned from mirrored runs.
type Badge struct {
	ID          string
	Name        string
	Description string
	Icon        string
}

// EarnedBadge is a badge together with the time it was awarded to an athlete.
type EarnedBadge struct {
	Badge
	AthleteID AthleteID
	AwardedAt time.Time
}
