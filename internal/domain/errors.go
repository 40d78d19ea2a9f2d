package domain

import "errors"

var (
	// ErrAthleteNotFound is returned when no athlete exists for an identifier.
	ErrAthleteNotFound = errors.New("athlete not found")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrDuplicateActivity signals a unique-key violation on insert.
	ErrDuplicateActivity = errors.New("activity already exists")
)
