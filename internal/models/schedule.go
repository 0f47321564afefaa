package models

import (
	"strings"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

// ReportType selects the data an export contains.
type ReportType string

const (
	ReportSales     ReportType = "sales"
	ReportProducts  ReportType = "products"
	ReportCustomers ReportType = "customers"
	ReportAll       ReportType = "all"
)

// Format is the file format of a rendered export.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// Status is the lifecycle state of a schedule. Only active schedules are dispatched.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Schedule is a recurring export definition together with its runtime state.
type Schedule struct {
	ID             string               `json:"id" bson:"_id"`
	Name           string               `json:"name" bson:"name" validate:"required,max=200"`
	ReportType     ReportType           `json:"report_type" bson:"report_type" validate:"required,oneof=sales products customers all"`
	Format         Format               `json:"format" bson:"format" validate:"required,oneof=csv excel"`
	Frequency      recurrence.Frequency `json:"frequency" bson:"frequency" validate:"required,oneof=daily weekly monthly"`
	TimeOfDay      string               `json:"time_of_day" bson:"time_of_day" validate:"required,time_of_day"`
	DayOfWeek      *int                 `json:"day_of_week,omitempty" bson:"day_of_week,omitempty" validate:"omitempty,min=0,max=6"`
	DayOfMonth     *int                 `json:"day_of_month,omitempty" bson:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	Recipients     []string             `json:"recipients" bson:"recipients" validate:"required,min=1,dive,required,email,lowercase"`
	IncludeHeaders bool                 `json:"include_headers" bson:"include_headers"`
	Status         Status               `json:"status" bson:"status" validate:"required,oneof=active paused completed"`
	CreatedBy      string               `json:"created_by,omitempty" bson:"created_by,omitempty"`

	// Runtime state, owned by the dispatcher.
	NextRun      time.Time  `json:"next_run" bson:"next_run"`
	LastRun      *time.Time `json:"last_run,omitempty" bson:"last_run,omitempty"`
	LastError    string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
	EvaluatedAt  time.Time  `json:"evaluated_at" bson:"evaluated_at"`
	FailureCount int        `json:"failure_count" bson:"failure_count"`

	// Claim marker. Empty token means idle.
	ProcessingToken string     `json:"processing_token,omitempty" bson:"processing_token"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty" bson:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	Version   int       `json:"version" bson:"version"`
}

// Rule returns the recurrence rule of the schedule.
func (s *Schedule) Rule() (recurrence.Rule, error) {
	tod, err := recurrence.ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return recurrence.Rule{}, err
	}
	r := recurrence.Rule{
		Frequency:  s.Frequency,
		TimeOfDay:  tod,
		DayOfWeek:  s.DayOfWeek,
		DayOfMonth: s.DayOfMonth,
	}
	return r, r.Validate()
}

// Normalize trims and lowercases recipients, trims the name and clears the day
// field that does not apply to the frequency.
func (s *Schedule) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.TimeOfDay = strings.TrimSpace(s.TimeOfDay)
	s.Frequency = recurrence.Frequency(strings.ToLower(strings.TrimSpace(string(s.Frequency))))
	s.ReportType = ReportType(strings.ToLower(strings.TrimSpace(string(s.ReportType))))
	s.Format = Format(strings.ToLower(strings.TrimSpace(string(s.Format))))

	recipients := make([]string, 0, len(s.Recipients))
	for _, r := range s.Recipients {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			recipients = append(recipients, r)
		}
	}
	s.Recipients = recipients

	r := recurrence.Rule{Frequency: s.Frequency, DayOfWeek: s.DayOfWeek, DayOfMonth: s.DayOfMonth}.Normalized()
	s.DayOfWeek, s.DayOfMonth = r.DayOfWeek, r.DayOfMonth
}

// IsClaimed reports whether a dispatcher holds the schedule.
func (s *Schedule) IsClaimed() bool {
	return s.ProcessingToken != ""
}

// ClaimStale reports whether the current claim is older than lease at now.
func (s *Schedule) ClaimStale(now time.Time, lease time.Duration) bool {
	if !s.IsClaimed() {
		return false
	}
	if s.ClaimedAt == nil {
		return true
	}
	return !s.ClaimedAt.Add(lease).After(now)
}

// IsDue reports whether the schedule is active and its next run is at or before now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Status == StatusActive && !s.NextRun.IsZero() && !s.NextRun.After(now)
}

// Clone returns a deep copy.
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.DayOfWeek != nil {
		v := *s.DayOfWeek
		c.DayOfWeek = &v
	}
	if s.DayOfMonth != nil {
		v := *s.DayOfMonth
		c.DayOfMonth = &v
	}
	if s.LastRun != nil {
		v := *s.LastRun
		c.LastRun = &v
	}
	if s.ClaimedAt != nil {
		v := *s.ClaimedAt
		c.ClaimedAt = &v
	}
	c.Recipients = append([]string(nil), s.Recipients...)
	return &c
}

// ApplyEdit copies the definition and the recomputed schedule state of in onto
// s and bumps the version. The claim marker and the last outcome are kept.
func (s *Schedule) ApplyEdit(in *Schedule) {
	e := in.Clone()
	s.Name = e.Name
	s.ReportType = e.ReportType
	s.Format = e.Format
	s.Frequency = e.Frequency
	s.TimeOfDay = e.TimeOfDay
	s.DayOfWeek = e.DayOfWeek
	s.DayOfMonth = e.DayOfMonth
	s.Recipients = e.Recipients
	s.IncludeHeaders = e.IncludeHeaders
	s.Status = e.Status
	s.NextRun = e.NextRun
	s.EvaluatedAt = e.EvaluatedAt
	s.FailureCount = e.FailureCount
	s.UpdatedAt = e.UpdatedAt
	s.Version++
}
