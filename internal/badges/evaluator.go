package badges

import (
	"context"
	"fmt"
	"time"

	"example.com/runhub/internal/domain"
)

// Store persists badge awards. AwardBadge reports false when the athlete
// already holds the badge.
type Store interface {
	RunStats(ctx context.Context, owner domain.AthleteID) (domain.RunStats, error)
	EarnedBadges(ctx context.Context, owner domain.AthleteID) ([]domain.EarnedBadge, error)
	AwardBadge(ctx context.Context, owner domain.AthleteID, badge domain.Badge, at time.Time) (bool, error)
}

// Evaluator awards badges whose thresholds an athlete has crossed.
type Evaluator struct {
	store Store
	rules []Rule
	clock func() time.Time
}

// NewEvaluator constructs an Evaluator over the default catalogue.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store: store,
		rules: Catalogue,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate awards every earned badge the athlete does not hold yet and returns their names.
func (e *Evaluator) Evaluate(ctx context.Context, owner domain.AthleteID) ([]string, error) {
	stats, err := e.store.RunStats(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load run stats: %w", err)
	}

	held, err := e.store.EarnedBadges(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load earned badges: %w", err)
	}
	have := make(map[string]struct{}, len(held))
	for _, badge := range held {
		have[badge.ID] = struct{}{}
	}

	now := e.clock()
	var awarded []string
	for _, rule := range e.rules {
		if _, ok := have[rule.Badge.ID]; ok || !rule.Earned(stats) {
			continue
		}
		created, err := e.store.AwardBadge(ctx, owner, rule.Badge, now)
		if err != nil {
			return awarded, fmt.Errorf("award %s: %w", rule.Badge.ID, err)
		}
		if created {
			awarded = append(awarded, rule.Badge.Name)
		}
	}
	return awarded, nil
}

// Earned lists the athlete's badges.
func (e *Evaluator) Earned(ctx context.Context, owner domain.AthleteID) ([]domain.EarnedBadge, error) {
	return e.store.EarnedBadges(ctx, owner)
}

// Lookup returns the catalogue entry for id.
func Lookup(id string) (domain.Badge, bool) {
	for _, rule := range Catalogue {
		if rule.Badge.ID == id {
			return rule.Badge, true
		}
	}
	return domain.Badge{}, false
}
