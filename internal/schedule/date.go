package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Date is a calendar day with no time zone attached
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// NewDate builds a Date, normalizing overflowing components
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later
func (d Date) AddDays(n int) Date {
	return DateOf(d.utc().AddDate(0, 0, n))
}

// DaysSince returns the number of whole days from other to d
func (d Date) DaysSince(other Date) int {
	return int(d.utc().Sub(other.utc()).Hours() / 24)
}

// Weekday returns the day of the week, Sunday = 0
func (d Date) Weekday() time.Weekday {
	return d.utc().Weekday()
}

func (d Date) Before(other Date) bool { return d.utc().Before(other.utc()) }

func (d Date) After(other Date) bool { return d.utc().After(other.utc()) }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

var locations sync.Map

// LoadLocation resolves an IANA zone name, caching the result
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Store(name, loc)
	return loc, nil
}

// At converts a calendar day and wall-clock time to an instant in loc.
// A wall-clock time skipped by a forward DST transition resolves to the
// transition instant; a repeated one resolves to its first occurrence.
func At(d Date, clock model.TimeOfDay, loc *time.Location) time.Time {
	hour, minute := clock.Hour(), clock.Minute()
	t := time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc)

	if t.Hour() != hour || t.Minute() != minute {
		start, end := t.ZoneBounds()
		requested := d.utc().Add(time.Duration(clock) * time.Minute)
		if wallClock(t).After(requested) {
			return start
		}
		return end
	}

	// Repeated hour: prefer the earlier offset when one exists
	start, _ := t.ZoneBounds()
	if !start.IsZero() {
		_, offset := t.Zone()
		_, prevOffset := start.Add(-time.Second).Zone()
		if prevOffset > offset {
			earlier := t.Add(-time.Duration(prevOffset-offset) * time.Second)
			if earlier.Before(start) && earlier.Hour() == hour && earlier.Minute() == minute {
				return earlier
			}
		}
	}
	return t
}

// wallClock reinterprets t's local reading as a UTC instant
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
