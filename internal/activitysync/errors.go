package activitysync

import (
	"errors"

	"example.com/runhub/internal/domain"
)

var (
	// ErrAthleteNotFound is returned before any remote call when the owner is unknown.
	ErrAthleteNotFound = domain.ErrAthleteNotFound
	// ErrUnauthorized is returned when expired credentials cannot be refreshed.
	ErrUnauthorized = errors.New("strava authorization failed")
	// ErrUpstream wraps remote fetch failures that abort a reconcile.
	ErrUpstream = errors.New("strava request failed")
)
