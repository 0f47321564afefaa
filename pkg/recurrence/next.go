package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
)

// MonthOverflow decides what a monthly rule does in a month shorter than its day of month.
type MonthOverflow string

const (
	// OverflowClamp runs on the last day of the short month (day 31 runs on 30 April).
	OverflowClamp MonthOverflow = "clamp"
	// OverflowSkip skips short months and runs in the next month that has the day.
	OverflowSkip MonthOverflow = "skip"
)

// ParseMonthOverflow parses a policy name; empty means OverflowClamp.
func ParseMonthOverflow(s string) (MonthOverflow, error) {
	switch MonthOverflow(s) {
	case "", OverflowClamp:
		return OverflowClamp, nil
	case OverflowSkip:
		return OverflowSkip, nil
	}
	return "", fmt.Errorf("unknown month overflow policy %q", s)
}

// ErrNoDueInstant is returned when no due instant exists within the look-ahead window.
var ErrNoDueInstant = errors.New("no due instant within look-ahead window")

// monthLookAhead bounds the monthly search. Skipping short months never needs
// more than two extra months (day 31 after July/August is at most October).
const monthLookAhead = 4

// Calculator computes the next due instant of a rule. It holds no mutable
// state; the same (rule, now) always yields the same instant.
type Calculator struct {
	civil    *clock.CivilClock
	overflow MonthOverflow
}

// NewCalculator returns a Calculator working in civil's zone.
func NewCalculator(civil *clock.CivilClock, overflow MonthOverflow) *Calculator {
	if overflow == "" {
		overflow = OverflowClamp
	}
	return &Calculator{civil: civil, overflow: overflow}
}

// Civil returns the civil clock the calculator works in.
func (c *Calculator) Civil() *clock.CivilClock {
	return c.civil
}

// Next returns the first due instant of r strictly after now.
func (c *Calculator) Next(r Rule, now time.Time) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}

	// Today's date in the civil zone at the rule's time, seconds zeroed.
	today := c.civil.ToCivil(now)
	candidate := clock.Civil{
		Year:   today.Year,
		Month:  today.Month,
		Day:    today.Day,
		Hour:   r.TimeOfDay.Hour,
		Minute: r.TimeOfDay.Minute,
	}

	// Already passed today: start from tomorrow, for every frequency.
	if !c.civil.FromCivil(candidate).After(now) {
		candidate = candidate.AddDays(1)
	}

	switch r.Frequency {
	case Weekly:
		delta := (*r.DayOfWeek - int(candidate.Weekday()) + 7) % 7
		candidate = candidate.AddDays(delta)
	case Monthly:
		return c.nextMonthly(candidate, *r.DayOfMonth, now)
	}

	return c.civil.FromCivil(candidate), nil
}

// nextMonthly places dom in the candidate's month, moving to later months
// while the result is not after now or the month cannot hold dom.
func (c *Calculator) nextMonthly(candidate clock.Civil, dom int, now time.Time) (time.Time, error) {
	for i := 0; i < monthLookAhead; i++ {
		month := candidate.AddMonths(i)
		day, ok := c.dayInMonth(month.Year, month.Month, dom)
		if !ok {
			continue
		}
		month.Day = day
		if t := c.civil.FromCivil(month); t.After(now) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: day of month %d after %s", ErrNoDueInstant, dom, now.Format(time.RFC3339))
}

// dayInMonth applies the overflow policy to dom for the given month.
func (c *Calculator) dayInMonth(year int, month time.Month, dom int) (int, bool) {
	days := clock.DaysIn(year, month)
	if dom <= days {
		return dom, true
	}
	switch c.overflow {
	case OverflowSkip:
		return 0, false
	default:
		return days, true
	}
}

// Upcoming returns the next n due instants after now, in order.
func (c *Calculator) Upcoming(r Rule, now time.Time, n int) ([]time.Time, error) {
	runs := make([]time.Time, 0, n)
	from := now
	for i := 0; i < n; i++ {
		next, err := c.Next(r, from)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
		from = next
	}
	return runs, nil
}
