// Package storage provides schedule persistence for exportd.
package storage

import (
	"context"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

// ScheduleStore provides schedule definition persistence operations.
type ScheduleStore interface {
	// Create stores a new schedule. Returns ErrScheduleExists if the ID exists.
	Create(ctx context.Context, s *models.Schedule) error
	// Update applies an edit. s.Version must match the stored version, otherwise
	// ErrVersionConflict is returned. The claim marker and last outcome are kept.
	Update(ctx context.Context, s *models.Schedule) (*models.Schedule, error)
	// Load retrieves a schedule by ID. Returns ErrScheduleNotFound if not found.
	Load(ctx context.Context, id string) (*models.Schedule, error)
	// Delete deletes a schedule by ID. Returns ErrScheduleNotFound if not found.
	Delete(ctx context.Context, id string) error
	// List returns all schedules ordered by name.
	List(ctx context.Context) ([]*models.Schedule, error)
	// ListDue returns active schedules whose next run is at or before now,
	// ordered by next run.
	ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error)
}

// ClaimStore provides the dispatch claim operations.
type ClaimStore interface {
	// Claim atomically marks a due schedule as held by token. The schedule is
	// returned only when the outcome is held (acquired or reclaimed).
	Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (*models.Schedule, models.ClaimOutcome, error)
	// CommitResult writes an attempt's outcome and releases the claim. Returns
	// ErrClaimLost when token no longer holds the schedule.
	CommitResult(ctx context.Context, id, token string, c models.Commit) (*models.Schedule, error)
}

// Store combines all storage interfaces.
// This is the primary interface for components that need full storage access.
type Store interface {
	ScheduleStore
	ClaimStore

	// Close closes the store and releases resources.
	Close() error
}
