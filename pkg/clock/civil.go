package clock

import (
	"fmt"
	"time"
)

// DefaultZone is the civil timezone export schedules are expressed in.
const DefaultZone = "Europe/Paris"

// Civil is a wall-clock reading, minute precision, in some CivilClock's zone.
type Civil struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// date returns the calendar date of c as a UTC midnight, which has no DST.
func (c Civil) date() time.Time {
	return time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, time.UTC)
}

// Weekday returns the day of the week of the civil date.
func (c Civil) Weekday() time.Weekday {
	return c.date().Weekday()
}

// AddDays moves the civil date by n calendar days keeping the wall-clock time.
func (c Civil) AddDays(n int) Civil {
	d := time.Date(c.Year, c.Month, c.Day+n, 0, 0, 0, 0, time.UTC)
	c.Year, c.Month, c.Day = d.Year(), d.Month(), d.Day()
	return c
}

// AddMonths moves to the first day of the month n months away, keeping the wall-clock time.
func (c Civil) AddMonths(n int) Civil {
	d := time.Date(c.Year, c.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	c.Year, c.Month, c.Day = d.Year(), d.Month(), 1
	return c
}

func (c Civil) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", c.Year, int(c.Month), c.Day, c.Hour, c.Minute)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CivilClock converts between instants and wall-clock readings in one fixed zone.
//
// Local times that do not map to exactly one instant are resolved with the
// UTC offset in effect before the transition:
//   - ambiguous times (autumn fall back) resolve to their first occurrence;
//   - nonexistent times (spring forward) are shifted forward by the gap,
//     so 02:30 on the Paris spring-forward day becomes 03:30 summer time.
type CivilClock struct {
	loc *time.Location
}

// NewCivil loads the named IANA zone.
func NewCivil(zone string) (*CivilClock, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &CivilClock{loc: loc}, nil
}

// MustCivil is like NewCivil but panics on an unknown zone.
func MustCivil(zone string) *CivilClock {
	c, err := NewCivil(zone)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the clock's zone.
func (c *CivilClock) Location() *time.Location {
	return c.loc
}

// ToCivil returns the wall-clock reading of t, truncated to the minute.
func (c *CivilClock) ToCivil(t time.Time) Civil {
	l := t.In(c.loc)
	return Civil{
		Year:   l.Year(),
		Month:  l.Month(),
		Day:    l.Day(),
		Hour:   l.Hour(),
		Minute: l.Minute(),
	}
}

// FromCivil returns the single instant for cv, applying the transition rule above.
func (c *CivilClock) FromCivil(cv Civil) time.Time {
	naive := time.Date(cv.Year, cv.Month, cv.Day, cv.Hour, cv.Minute, 0, 0, time.UTC)

	_, before := naive.Add(-24 * time.Hour).In(c.loc).Zone()
	_, after := naive.Add(24 * time.Hour).In(c.loc).Zone()

	for _, offset := range []int{before, after} {
		t := naive.Add(-time.Duration(offset) * time.Second).In(c.loc)
		if c.ToCivil(t) == cv {
			return t
		}
	}

	// In a gap: keep the pre-transition offset.
	return naive.Add(-time.Duration(before) * time.Second).In(c.loc)
}
