// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
)

// ErrBatchClosed is returned when a committed or rolled back batch is reused.
var ErrBatchClosed = errors.New("batch already closed")

// FaultFunc lets tests fail individual batch writes. op is insert, update or delete.
type FaultFunc func(op string, id domain.ActivityID) error

// Store keeps athletes, activities, badge awards and emitted events in memory.
type Store struct {
	mu         sync.RWMutex
	athletes   map[domain.AthleteID]domain.Athlete
	activities map[domain.ActivityID]domain.Activity
	awards     map[domain.AthleteID]map[string]domain.EarnedBadge
	syncEvents []events.SyncCompleted
	badgeEvts  []events.BadgeAwarded

	fault     FaultFunc
	commitErr error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		athletes:   make(map[domain.AthleteID]domain.Athlete),
		activities: make(map[domain.ActivityID]domain.Activity),
		awards:     make(map[domain.AthleteID]map[string]domain.EarnedBadge),
	}
}

// InjectFault installs fn as a per-write failure hook.
func (s *Store) InjectFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// FailCommits makes every subsequent commit return err; nil restores normal behaviour.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Seed stores activities directly, bypassing batches.
func (s *Store) Seed(activities ...domain.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, activity := range activities {
		s.activities[activity.ID] = activity
	}
}

// SyncEvents returns the sync.completed events recorded so far.
func (s *Store) SyncEvents() []events.SyncCompleted {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.SyncCompleted(nil), s.syncEvents...)
}

// BadgeEvents returns the badge.awarded events recorded so far.
func (s *Store) BadgeEvents() []events.BadgeAwarded {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.BadgeAwarded(nil), s.badgeEvts...)
}

// GetAthlete implements domain.AthleteRepository.
func (s *Store) GetAthlete(_ context.Context, id domain.AthleteID) (*domain.Athlete, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	athlete, ok := s.athletes[id]
	if !ok {
		return nil, nil
	}
	return &athlete, nil
}

// UpsertAthlete implements domain.AthleteRepository.
func (s *Store) UpsertAthlete(_ context.Context, athlete domain.Athlete) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.athletes[athlete.ID]; ok {
		athlete.CreatedAt = existing.CreatedAt
	} else if athlete.CreatedAt.IsZero() {
		athlete.CreatedAt = now
	}
	athlete.UpdatedAt = now
	s.athletes[athlete.ID] = athlete
	return nil
}

// UpdateCredentials implements domain.AthleteRepository.
func (s *Store) UpdateCredentials(_ context.Context, id domain.AthleteID, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	athlete, ok := s.athletes[id]
	if !ok {
		return domain.ErrAthleteNotFound
	}
	athlete.ApplyCredentials(creds, time.Now().UTC())
	s.athletes[id] = athlete
	return nil
}

// ListActivities implements domain.ActivityRepository.
func (s *Store) ListActivities(_ context.Context, owner domain.AthleteID, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.RLock()
	runs := s.runsLocked(owner)
	s.mu.RUnlock()

	out := make([]domain.Activity, 0, limit)
	for _, run := range runs {
		if cursor != nil && !before(run, *cursor) {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return out, next, nil
}

func before(a domain.Activity, c domain.Cursor) bool {
	if a.StartedAt.Equal(c.StartedAt) {
		return a.ID < c.ID
	}
	return a.StartedAt.Before(c.StartedAt)
}

// LatestActivity implements activitysync.Store.
func (s *Store) LatestActivity(_ context.Context, owner domain.AthleteID) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runsLocked(owner)
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// FindActivity implements activitysync.Store.
func (s *Store) FindActivity(_ context.Context, id domain.ActivityID) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity, ok := s.activities[id]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// ActivitiesInWindow implements activitysync.Store.
func (s *Store) ActivitiesInWindow(_ context.Context, owner domain.AthleteID, from, to time.Time) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Activity
	for _, run := range s.runsLocked(owner) {
		if run.StartedAt.Before(from) || run.StartedAt.After(to) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

// RunActivities implements activitysync.Store.
func (s *Store) RunActivities(_ context.Context, owner domain.AthleteID) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runsLocked(owner), nil
}

// CountActivities implements activitysync.Store.
func (s *Store) CountActivities(_ context.Context, owner domain.AthleteID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runsLocked(owner)), nil
}

// runsLocked returns the owner's runs newest first; callers hold mu.
func (s *Store) runsLocked(owner domain.AthleteID) []domain.Activity {
	runs := make([]domain.Activity, 0)
	for _, activity := range s.activities {
		if activity.OwnerID == owner && activity.Kind == domain.KindRun {
			runs = append(runs, activity)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Begin implements activitysync.Store.
func (s *Store) Begin(_ context.Context) (activitysync.Batch, error) {
	return &batch{store: s}, nil
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
	opDeleteRuns
)

type op struct {
	kind     opKind
	activity domain.Activity
	id       domain.ActivityID
	owner    domain.AthleteID
}

type batch struct {
	store  *Store
	ops    []op
	events []events.SyncCompleted
	closed bool
}

func (b *batch) fault(name string, id domain.ActivityID) error {
	b.store.mu.RLock()
	fn := b.store.fault
	b.store.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(name, id)
}

// staged reports whether id exists once the batch's pending ops are applied.
func (b *batch) staged(id domain.ActivityID) bool {
	b.store.mu.RLock()
	_, exists := b.store.activities[id]
	owner := domain.AthleteID(0)
	if exists {
		owner = b.store.activities[id].OwnerID
	}
	b.store.mu.RUnlock()

	for _, o := range b.ops {
		switch o.kind {
		case opInsert:
			if o.activity.ID == id {
				exists = true
				owner = o.activity.OwnerID
			}
		case opDelete:
			if o.id == id {
				exists = false
			}
		case opDeleteRuns:
			if exists && owner == o.owner {
				exists = false
			}
		}
	}
	return exists
}

func (b *batch) Insert(_ context.Context, activity domain.Activity) error {
	if b.closed {
		return ErrBatchClosed
	}
	if err := b.fault("insert", activity.ID); err != nil {
		return err
	}
	if b.staged(activity.ID) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateActivity, activity.ID)
	}
	b.ops = append(b.ops, op{kind: opInsert, activity: activity})
	return nil
}

func (b *batch) Update(_ context.Context, activity domain.Activity) error {
	if b.closed {
		return ErrBatchClosed
	}
	if err := b.fault("update", activity.ID); err != nil {
		return err
	}
	if !b.staged(activity.ID) {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, activity.ID)
	}
	b.ops = append(b.ops, op{kind: opUpdate, activity: activity})
	return nil
}

func (b *batch) Delete(_ context.Context, id domain.ActivityID) error {
	if b.closed {
		return ErrBatchClosed
	}
	if err := b.fault("delete", id); err != nil {
		return err
	}
	if !b.staged(id) {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, id)
	}
	b.ops = append(b.ops, op{kind: opDelete, id: id})
	return nil
}

func (b *batch) DeleteRuns(_ context.Context, owner domain.AthleteID) (int, error) {
	if b.closed {
		return 0, ErrBatchClosed
	}
	b.store.mu.RLock()
	count := len(b.store.runsLocked(owner))
	b.store.mu.RUnlock()
	b.ops = append(b.ops, op{kind: opDeleteRuns, owner: owner})
	return count, nil
}

func (b *batch) RecordSync(_ context.Context, event events.SyncCompleted) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.events = append(b.events, event)
	return nil
}

func (b *batch) Commit(_ context.Context) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}

	next := make(map[domain.ActivityID]domain.Activity, len(s.activities))
	for id, activity := range s.activities {
		next[id] = activity
	}
	for _, o := range b.ops {
		switch o.kind {
		case opInsert:
			if _, exists := next[o.activity.ID]; exists {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateActivity, o.activity.ID)
			}
			next[o.activity.ID] = o.activity
		case opUpdate:
			if _, exists := next[o.activity.ID]; !exists {
				return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, o.activity.ID)
			}
			next[o.activity.ID] = o.activity
		case opDelete:
			delete(next, o.id)
		case opDeleteRuns:
			for id, activity := range next {
				if activity.OwnerID == o.owner && activity.Kind == domain.KindRun {
					delete(next, id)
				}
			}
		}
	}

	s.activities = next
	s.syncEvents = append(s.syncEvents, b.events...)
	return nil
}

func (b *batch) Rollback(_ context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.ops = nil
	b.events = nil
	return nil
}
