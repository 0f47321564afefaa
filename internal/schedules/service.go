// Package schedules implements the administrator lifecycle of export schedules.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

// MaxPreview caps the number of instants Preview returns.
const MaxPreview = 50

// editAttempts bounds retries when the dispatcher commits between our read
// and our write of a status change.
const editAttempts = 3

// Input is the administrator-supplied part of a schedule.
type Input struct {
	Name           string   `json:"name" yaml:"name"`
	ReportType     string   `json:"report_type" yaml:"report_type"`
	Format         string   `json:"format" yaml:"format"`
	Frequency      string   `json:"frequency" yaml:"frequency"`
	TimeOfDay      string   `json:"time_of_day" yaml:"time_of_day"`
	DayOfWeek      *int     `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	DayOfMonth     *int     `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	Recipients     []string `json:"recipients" yaml:"recipients"`
	IncludeHeaders bool     `json:"include_headers" yaml:"include_headers"`
	CreatedBy      string   `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	// Version, when set on an edit, must match the stored version.
	Version *int `json:"version,omitempty" yaml:"version,omitempty"`
}

func (in Input) applyTo(s *models.Schedule) {
	s.Name = in.Name
	s.ReportType = models.ReportType(in.ReportType)
	s.Format = models.Format(in.Format)
	s.Frequency = recurrence.Frequency(in.Frequency)
	s.TimeOfDay = in.TimeOfDay
	s.DayOfWeek = in.DayOfWeek
	s.DayOfMonth = in.DayOfMonth
	s.Recipients = append([]string(nil), in.Recipients...)
	s.IncludeHeaders = in.IncludeHeaders
}

// Service creates, edits and freezes schedules. Every rule change reseeds
// NextRun through the calculator.
type Service struct {
	store  storage.Store
	calc   *recurrence.Calculator
	clock  clock.Clock
	logger zerolog.Logger
}

// NewService creates a schedule service.
func NewService(store storage.Store, calc *recurrence.Calculator, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		calc:   calc,
		clock:  clk,
		logger: logger.With().Str("component", "schedules").Logger(),
	}
}

// Create validates in, seeds the next run and stores a new active schedule.
func (s *Service) Create(ctx context.Context, in Input) (*models.Schedule, error) {
	now := s.clock.Now()

	sched := &models.Schedule{
		ID:        uuid.New().String(),
		Status:    models.StatusActive,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.applyTo(sched)

	if err := s.seed(sched, now); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.Info().
		Str("schedule_id", sched.ID).
		Str("frequency", string(sched.Frequency)).
		Time("next_run", sched.NextRun).
		Msg("Schedule created")

	return sched, nil
}

// Update replaces the definition of a schedule. Active schedules get a fresh
// next run and a cleared failure count.
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.Schedule, error) {
	stored, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Version != nil && *in.Version != stored.Version {
		return nil, models.ErrVersionConflict
	}

	edit := stored.Clone()
	in.applyTo(edit)
	now := s.clock.Now()
	edit.UpdatedAt = now

	if edit.Status == models.StatusActive {
		if err := s.seed(edit, clock.Latest(now, stored.EvaluatedAt)); err != nil {
			return nil, err
		}
	} else {
		edit.Normalize()
		if err := edit.Validate(); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Update(ctx, edit)
	if err != nil {
		return nil, fmt.Errorf("update schedule %s: %w", id, err)
	}

	s.logger.Info().
		Str("schedule_id", id).
		Time("next_run", updated.NextRun).
		Int("version", updated.Version).
		Msg("Schedule updated")

	return updated, nil
}

// Pause freezes an active schedule. Pausing a paused schedule is a no-op.
func (s *Service) Pause(ctx context.Context, id string) (*models.Schedule, error) {
	return s.transition(ctx, id, "paused", func(sched *models.Schedule, _ time.Time) (bool, error) {
		switch sched.Status {
		case models.StatusPaused:
			return false, nil
		case models.StatusCompleted:
			return false, fmt.Errorf("%w: cannot pause a completed schedule", models.ErrInvalidStatus)
		}
		sched.Status = models.StatusPaused
		return true, nil
	})
}

// Resume reactivates a paused schedule and recomputes its next run from now,
// so missed instants are not replayed.
func (s *Service) Resume(ctx context.Context, id string) (*models.Schedule, error) {
	return s.transition(ctx, id, "resumed", func(sched *models.Schedule, now time.Time) (bool, error) {
		switch sched.Status {
		case models.StatusActive:
			return false, nil
		case models.StatusCompleted:
			return false, fmt.Errorf("%w: cannot resume a completed schedule", models.ErrInvalidStatus)
		}
		sched.Status = models.StatusActive
		return true, s.seed(sched, clock.Latest(now, sched.EvaluatedAt))
	})
}

// Complete retires a schedule permanently.
func (s *Service) Complete(ctx context.Context, id string) (*models.Schedule, error) {
	return s.transition(ctx, id, "completed", func(sched *models.Schedule, _ time.Time) (bool, error) {
		if sched.Status == models.StatusCompleted {
			return false, nil
		}
		sched.Status = models.StatusCompleted
		return true, nil
	})
}

// Delete removes a schedule.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", id).Msg("Schedule deleted")
	return nil
}

// Get returns a schedule by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.store.Load(ctx, id)
}

// List returns all schedules.
func (s *Service) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.store.List(ctx)
}

// Preview returns the next n due instants of a schedule without touching it.
func (s *Service) Preview(ctx context.Context, id string, n int) ([]time.Time, error) {
	sched, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rule, err := sched.Rule()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if n < 1 {
		n = 1
	}
	if n > MaxPreview {
		n = MaxPreview
	}
	return s.calc.Upcoming(rule, clock.Latest(s.clock.Now(), sched.EvaluatedAt), n)
}

// seed normalizes and validates sched, then computes its next run from now.
func (s *Service) seed(sched *models.Schedule, now time.Time) error {
	sched.Normalize()
	if err := sched.Validate(); err != nil {
		return err
	}

	rule, err := sched.Rule()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	next, err := s.calc.Next(rule, now)
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}

	sched.NextRun = next
	sched.EvaluatedAt = now
	sched.FailureCount = 0
	return nil
}

// transition applies a status change with optimistic retries. change reports
// whether anything changed; unchanged schedules are returned as loaded.
func (s *Service) transition(ctx context.Context, id, verb string, change func(*models.Schedule, time.Time) (bool, error)) (*models.Schedule, error) {
	var lastErr error
	for attempt := 0; attempt < editAttempts; attempt++ {
		sched, err := s.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		changed, err := change(sched, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			return sched, nil
		}
		sched.UpdatedAt = now

		updated, err := s.store.Update(ctx, sched)
		if errors.Is(err, models.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", id, err)
		}

		s.logger.Info().Str("schedule_id", id).Str("status", string(updated.Status)).Msg("Schedule " + verb)
		return updated, nil
	}
	return nil, fmt.Errorf("schedule %s: %w", id, lastErr)
}
