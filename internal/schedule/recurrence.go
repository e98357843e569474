package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Occurrence is one materialized dose of a schedule
type Occurrence struct {
	ScheduleID string
	Date       Date
	Clock      model.TimeOfDay
	At         time.Time
}

// IsActiveOn reports whether d lies within the schedule's start and end dates
func IsActiveOn(s model.Schedule, d Date) bool {
	if d.Before(DateOf(s.StartDate)) {
		return false
	}
	if s.EndDate != nil && d.After(DateOf(*s.EndDate)) {
		return false
	}
	return true
}

// OccursOn is the recurrence predicate for a calendar day in the
// schedule's own time zone
func OccursOn(s model.Schedule, d Date) bool {
	if !IsActiveOn(s, d) {
		return false
	}
	switch s.RecurrenceType {
	case model.RecurrenceDaily:
		return true
	case model.RecurrenceWeekly:
		return containsInt(s.DaysOfWeek, int(d.Weekday()))
	case model.RecurrenceMonthly:
		return containsInt(s.DaysOfMonth, d.Day)
	case model.RecurrenceCustomInterval:
		if s.IntervalDays <= 0 {
			return false
		}
		return d.DaysSince(DateOf(s.StartDate))%s.IntervalDays == 0
	}
	return false
}

// ActiveBounds returns the first instant of the start date and, for a
// bounded schedule, the first instant after its end date, both in the
// schedule's time zone
func ActiveBounds(s model.Schedule) (time.Time, *time.Time, error) {
	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to load time zone %q: %w", s.Timezone, err)
	}
	start := At(DateOf(s.StartDate), 0, loc)
	if s.EndDate == nil {
		return start, nil, nil
	}
	end := At(DateOf(*s.EndDate).AddDays(1), 0, loc)
	return start, &end, nil
}

// Occurrences materializes every dose whose instant falls in [from, to]
func Occurrences(s model.Schedule, from, to time.Time) ([]Occurrence, error) {
	if !Supported(s.RecurrenceType) {
		return nil, &UnsupportedRecurrenceError{RecurrenceType: s.RecurrenceType}
	}
	if to.Before(from) {
		return nil, fmt.Errorf("window end %s is before start %s", to, from)
	}
	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", s.Timezone, err)
	}

	first := DateOf(from.In(loc))
	last := DateOf(to.In(loc))
	if start := DateOf(s.StartDate); first.Before(start) {
		first = start
	}
	if s.EndDate != nil {
		if end := DateOf(*s.EndDate); last.After(end) {
			last = end
		}
	}

	times := sortedTimes(s.Times)
	var out []Occurrence
	for d := first; !d.After(last); d = d.AddDays(1) {
		if !OccursOn(s, d) {
			continue
		}
		for _, clock := range times {
			at := At(d, clock, loc)
			if at.Before(from) || at.After(to) {
				continue
			}
			// times inside one DST gap collapse onto the same instant
			if n := len(out); n > 0 && out[n-1].At.Equal(at) {
				continue
			}
			out = append(out, Occurrence{ScheduleID: s.ID, Date: d, Clock: clock, At: at})
		}
	}
	return out, nil
}

// DueBetween returns the doses that become due in (after, until]
func DueBetween(s model.Schedule, after, until time.Time) ([]Occurrence, error) {
	if !until.After(after) {
		return nil, nil
	}
	occ, err := Occurrences(s, after, until)
	if err != nil {
		return nil, err
	}
	out := occ[:0]
	for _, o := range occ {
		if o.At.After(after) {
			out = append(out, o)
		}
	}
	return out, nil
}

func sortedTimes(times []model.TimeOfDay) []model.TimeOfDay {
	out := append([]model.TimeOfDay(nil), times...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
