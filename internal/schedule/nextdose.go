package schedule

import (
	"fmt"
	"time"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

// DefaultMaxLookaheadDays bounds the forward scan of the calculator
const DefaultMaxLookaheadDays = 366

// Calculator finds the next due dose of a schedule
type Calculator struct {
	maxLookaheadDays int
}

// NewCalculator creates a Calculator; a non-positive lookahead uses the default
func NewCalculator(maxLookaheadDays int) *Calculator {
	if maxLookaheadDays <= 0 {
		maxLookaheadDays = DefaultMaxLookaheadDays
	}
	return &Calculator{maxLookaheadDays: maxLookaheadDays}
}

// Next returns the first dose instant strictly after from. It returns
// ErrNoUpcomingDose when the schedule has ended or nothing occurs within
// the lookahead.
func (c *Calculator) Next(s model.Schedule, from time.Time) (time.Time, error) {
	if !Supported(s.RecurrenceType) {
		return time.Time{}, &UnsupportedRecurrenceError{RecurrenceType: s.RecurrenceType}
	}
	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load time zone %q: %w", s.Timezone, err)
	}

	day := DateOf(from.In(loc))
	if s.EndDate != nil && day.After(DateOf(*s.EndDate)) {
		return time.Time{}, ErrNoUpcomingDose
	}
	if start := DateOf(s.StartDate); day.Before(start) {
		// nothing can be due before the first active day
		day = start
	}

	for i := 0; i <= c.maxLookaheadDays; i++ {
		d := day.AddDays(i)
		if s.EndDate != nil && d.After(DateOf(*s.EndDate)) {
			break
		}
		if !OccursOn(s, d) {
			continue
		}
		var best time.Time
		for _, clock := range s.Times {
			at := At(d, clock, loc)
			if at.After(from) && (best.IsZero() || at.Before(best)) {
				best = at
			}
		}
		if !best.IsZero() {
			return best, nil
		}
	}
	return time.Time{}, ErrNoUpcomingDose
}
