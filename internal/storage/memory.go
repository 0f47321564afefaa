package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements the Store interface using in-memory data structures.
// Useful for testing and development.
type MemoryStore struct {
	schedules map[string]*models.Schedule
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: make(map[string]*models.Schedule),
	}
}

// Create stores a new schedule.
func (s *MemoryStore) Create(_ context.Context, sched *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; exists {
		return models.ErrScheduleExists
	}

	s.schedules[sched.ID] = sched.Clone()
	return nil
}

// Update applies an edit under a version check.
func (s *MemoryStore) Update(_ context.Context, sched *models.Schedule) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.schedules[sched.ID]
	if !exists {
		return nil, models.ErrScheduleNotFound
	}
	if stored.Version != sched.Version {
		return nil, models.ErrVersionConflict
	}

	stored.ApplyEdit(sched)
	return stored.Clone(), nil
}

// Load retrieves a schedule by ID.
func (s *MemoryStore) Load(_ context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, exists := s.schedules[id]
	if !exists {
		return nil, models.ErrScheduleNotFound
	}
	return sched.Clone(), nil
}

// Delete deletes a schedule by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[id]; !exists {
		return models.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

// List returns all schedules ordered by name.
func (s *MemoryStore) List(_ context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		result = append(result, sched.Clone())
	}
	sortByName(result)
	return result, nil
}

// ListDue returns active schedules due at now, ordered by next run.
func (s *MemoryStore) ListDue(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			result = append(result, sched.Clone())
		}
	}
	sortByNextRun(result)
	return result, nil
}

// Claim marks a due schedule as held by token.
func (s *MemoryStore) Claim(_ context.Context, id, token string, now time.Time, lease time.Duration) (*models.Schedule, models.ClaimOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, exists := s.schedules[id]
	if !exists {
		return nil, models.ClaimNotDue, models.ErrScheduleNotFound
	}

	outcome := sched.CheckClaim(now, lease)
	if !outcome.Held() {
		return nil, outcome, nil
	}

	sched.Claim(token, now)
	return sched.Clone(), outcome, nil
}

// CommitResult writes an attempt's outcome and releases the claim.
func (s *MemoryStore) CommitResult(_ context.Context, id, token string, c models.Commit) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, exists := s.schedules[id]
	if !exists {
		return nil, models.ErrScheduleNotFound
	}
	if token == "" || sched.ProcessingToken != token {
		return nil, models.ErrClaimLost
	}

	sched.Apply(c)
	return sched.Clone(), nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func sortByName(scheds []*models.Schedule) {
	sort.Slice(scheds, func(i, j int) bool {
		if scheds[i].Name != scheds[j].Name {
			return scheds[i].Name < scheds[j].Name
		}
		return scheds[i].ID < scheds[j].ID
	})
}

func sortByNextRun(scheds []*models.Schedule) {
	sort.Slice(scheds, func(i, j int) bool {
		if !scheds[i].NextRun.Equal(scheds[j].NextRun) {
			return scheds[i].NextRun.Before(scheds[j].NextRun)
		}
		return scheds[i].ID < scheds[j].ID
	})
}
