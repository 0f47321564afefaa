// Package recurrence computes due instants for daily, weekly and monthly export rules.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frequency is the cadence of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Rule validation errors.
var (
	ErrInvalidFrequency   = errors.New("frequency must be one of daily, weekly, monthly")
	ErrInvalidTimeOfDay   = errors.New("time of day must be HH:MM in 24-hour range")
	ErrDayOfWeekRequired  = errors.New("day of week is required for weekly schedules")
	ErrDayOfWeekRange     = errors.New("day of week must be between 0 (Sunday) and 6")
	ErrDayOfMonthRequired = errors.New("day of month is required for monthly schedules")
	ErrDayOfMonthRange    = errors.New("day of month must be between 1 and 31")
)

// TimeOfDay is a civil hour:minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour). A single-digit hour is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 || len(hh) < 1 || len(hh) > 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t, nil
}

// MustTimeOfDay is like ParseTimeOfDay but panics on error.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether the hour and minute are in range.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Rule is a recurrence rule anchored at a civil time of day.
// DayOfWeek is set only for weekly rules, DayOfMonth only for monthly ones.
type Rule struct {
	Frequency  Frequency
	TimeOfDay  TimeOfDay
	DayOfWeek  *int
	DayOfMonth *int
}

// Validate checks the rule is complete and consistent with its frequency.
func (r Rule) Validate() error {
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if !r.TimeOfDay.Valid() {
		return ErrInvalidTimeOfDay
	}

	switch r.Frequency {
	case Weekly:
		if r.DayOfWeek == nil {
			return ErrDayOfWeekRequired
		}
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return ErrDayOfWeekRange
		}
	case Monthly:
		if r.DayOfMonth == nil {
			return ErrDayOfMonthRequired
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return ErrDayOfMonthRange
		}
	}
	return nil
}

// Normalized returns a copy with the day field that does not apply to the frequency cleared.
func (r Rule) Normalized() Rule {
	switch r.Frequency {
	case Daily:
		r.DayOfWeek, r.DayOfMonth = nil, nil
	case Weekly:
		r.DayOfMonth = nil
	case Monthly:
		r.DayOfWeek = nil
	}
	return r
}

// DailyAt returns a daily rule at the given time.
func DailyAt(t TimeOfDay) Rule {
	return Rule{Frequency: Daily, TimeOfDay: t}
}

// WeeklyAt returns a weekly rule; dow follows time.Weekday numbering (Sunday=0).
func WeeklyAt(dow int, t TimeOfDay) Rule {
	return Rule{Frequency: Weekly, TimeOfDay: t, DayOfWeek: &dow}
}

// MonthlyAt returns a monthly rule on day dom.
func MonthlyAt(dom int, t TimeOfDay) Rule {
	return Rule{Frequency: Monthly, TimeOfDay: t, DayOfMonth: &dom}
}
