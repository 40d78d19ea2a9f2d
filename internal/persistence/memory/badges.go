package memory

import (
	"context"
	"sort"
	"time"

	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
)

// RunStats implements badges.Store.
func (s *Store) RunStats(_ context.Context, owner domain.AthleteID) (domain.RunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.RunStats
	for _, run := range s.runsLocked(owner) {
		stats.Count++
		stats.TotalDistanceMeters += run.DistanceMeters
		stats.TotalElevationGain += run.ElevationGainMeters
		if run.DistanceMeters > stats.LongestRunMeters {
			stats.LongestRunMeters = run.DistanceMeters
		}
	}
	return stats, nil
}

// EarnedBadges implements badges.Store.
func (s *Store) EarnedBadges(_ context.Context, owner domain.AthleteID) ([]domain.EarnedBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EarnedBadge, 0, len(s.awards[owner]))
	for _, badge := range s.awards[owner] {
		out = append(out, badge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AwardedAt.Equal(out[j].AwardedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AwardedAt.Before(out[j].AwardedAt)
	})
	return out, nil
}

// AwardBadge implements badges.Store. The award and its event are recorded together.
func (s *Store) AwardBadge(_ context.Context, owner domain.AthleteID, badge domain.Badge, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.awards[owner]
	if !ok {
		held = make(map[string]domain.EarnedBadge)
		s.awards[owner] = held
	}
	if _, exists := held[badge.ID]; exists {
		return false, nil
	}
	held[badge.ID] = domain.EarnedBadge{Badge: badge, AthleteID: owner, AwardedAt: at}
	s.badgeEvts = append(s.badgeEvts, events.BadgeAwarded{
		AthleteID: int64(owner),
		BadgeID:   badge.ID,
		BadgeName: badge.Name,
		AwardedAt: at,
	})
	return true, nil
}
