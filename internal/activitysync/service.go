package activitysync

import (
	"context"
	"fmt"
	"time"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/logging"
)

// Service resolves an athlete's credentials and runs the sync engine on their behalf.
type Service struct {
	athletes   domain.AthleteRepository
	refresher  TokenRefresher
	importer   *Importer
	reconciler *Reconciler
	clock      func() time.Time
}

// NewService constructs a Service.
func NewService(athletes domain.AthleteRepository, refresher TokenRefresher, importer *Importer, reconciler *Reconciler, opts ...Option) *Service {
	o := buildOptions(opts)
	return &Service{
		athletes:   athletes,
		refresher:  refresher,
		importer:   importer,
		reconciler: reconciler,
		clock:      o.clock,
	}
}

// Reconcile refreshes credentials when needed and reconciles the owner's mirror.
func (s *Service) Reconcile(ctx context.Context, owner domain.AthleteID) (*Result, error) {
	token, err := s.accessToken(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, owner, token)
}

// Import refreshes credentials when needed and runs the bulk importer.
func (s *Service) Import(ctx context.Context, owner domain.AthleteID, params *ImportParams) (int, error) {
	token, err := s.accessToken(ctx, owner)
	if err != nil {
		return 0, err
	}
	return s.importer.Import(ctx, owner, token, params)
}

// Authorize stores a freshly authorized athlete and backfills everything not yet mirrored.
func (s *Service) Authorize(ctx context.Context, athlete domain.Athlete) (int, error) {
	existing, err := s.athletes.GetAthlete(ctx, athlete.ID)
	if err != nil {
		return 0, fmt.Errorf("load athlete: %w", err)
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		athlete.CreatedAt = existing.CreatedAt
	}
	if err := s.athletes.UpsertAthlete(ctx, athlete); err != nil {
		return 0, fmt.Errorf("store athlete: %w", err)
	}
	return s.importer.Import(ctx, athlete.ID, athlete.AccessToken, nil)
}

func (s *Service) accessToken(ctx context.Context, owner domain.AthleteID) (string, error) {
	athlete, err := s.athletes.GetAthlete(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("load athlete: %w", err)
	}
	if athlete == nil {
		return "", ErrAthleteNotFound
	}
	if !athlete.TokenExpired(s.clock()) {
		return athlete.AccessToken, nil
	}

	creds, err := s.refresher.Refresh(ctx, athlete.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = athlete.RefreshToken
	}
	if err := s.athletes.UpdateCredentials(ctx, owner, creds); err != nil {
		return "", fmt.Errorf("store refreshed credentials: %w", err)
	}
	logging.Ctx(ctx).Info().Int64("athlete_id", int64(owner)).Time("expires_at", creds.ExpiresAt).Msg("strava token refreshed")
	return creds.AccessToken, nil
}
