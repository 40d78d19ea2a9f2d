// Package domain defines the business types shared by the runhub services.
package domain

import (
	"context"
	"time"
)

// ActivityQuery describes one page request against the remote activity source.
type ActivityQuery struct {
	Page    int
	PerPage int
	After   *time.Time
}

// AthleteRepository captures identity persistence operations.
type AthleteRepository interface {
	GetAthlete(ctx context.Context, id AthleteID) (*Athlete, error)
	UpsertAthlete(ctx context.Context, athlete Athlete) error
	UpdateCredentials(ctx context.Context, id AthleteID, creds Credentials) error
}

// ActivityRepository captures read-side activity queries.
type ActivityRepository interface {
	ListActivities(ctx context.Context, owner AthleteID, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
}

// Service answers read requests for athletes and their mirrored runs.
type Service struct {
	athletes   AthleteRepository
	activities ActivityRepository
}

// NewService constructs a Service.
func NewService(athletes AthleteRepository, activities ActivityRepository) *Service {
	return &Service{athletes: athletes, activities: activities}
}

// GetAthlete fetches by ID.
func (s *Service) GetAthlete(ctx context.Context, id AthleteID) (*Athlete, error) {
	athlete, err := s.athletes.GetAthlete(ctx, id)
	if err != nil {
		return nil, err
	}
	if athlete == nil {
		return nil, ErrAthleteNotFound
	}
	return athlete, nil
}

// ListActivities fetches runs newest first with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, owner AthleteID, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.activities.ListActivities(ctx, owner, cursor, limit)
}
