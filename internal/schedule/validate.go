package schedule

import (
	"sort"

	"github.com/vcscsvcscs/regimen/pkg/model"
)

const (
	// DefaultTimezone is used when a schedule names none
	DefaultTimezone = "UTC"
	// DefaultPriority is used when a schedule leaves priority unset
	DefaultPriority = 3

	MinPriority = 1
	MaxPriority = 5

	// MaxIDLength bounds schedule, medication and subject identifiers
	MaxIDLength = 255
)

// Supported reports whether rt is a known recurrence type
func Supported(rt model.RecurrenceType) bool {
	switch rt {
	case model.RecurrenceDaily, model.RecurrenceWeekly, model.RecurrenceMonthly, model.RecurrenceCustomInterval:
		return true
	}
	return false
}

// Validate checks the schedule invariants and returns a normalized copy
// with times and day sets sorted and defaults filled in. Nothing is
// partially applied: on error the zero Schedule is returned.
func Validate(s model.Schedule) (model.Schedule, error) {
	if !Supported(s.RecurrenceType) {
		return model.Schedule{}, &UnsupportedRecurrenceError{RecurrenceType: s.RecurrenceType}
	}

	out := s.Clone()
	verr := &ValidationError{}

	for _, id := range []struct{ field, value string }{
		{"id", out.ID}, {"medication_id", out.MedicationID}, {"subject_id", out.SubjectID},
	} {
		if len(id.value) > MaxIDLength {
			verr.add(id.field, "must be at most %d characters", MaxIDLength)
		}
	}

	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}
	if _, err := LoadLocation(out.Timezone); err != nil {
		verr.add("timezone", "unknown time zone %q", out.Timezone)
	}

	if out.Priority == 0 {
		out.Priority = DefaultPriority
	}
	if out.Priority < MinPriority || out.Priority > MaxPriority {
		verr.add("priority", "must be between %d and %d", MinPriority, MaxPriority)
	}

	validateTimes(&out, verr)
	validateRecurrenceFields(&out, verr)

	if out.StartDate.IsZero() {
		verr.add("start_date", "is required")
	}
	if out.EndDate != nil && DateOf(*out.EndDate).Before(DateOf(out.StartDate)) {
		verr.add("end_date", "must not be before start_date")
	}
	if out.IntervalHours < 0 {
		verr.add("interval_hours", "must not be negative")
	}
	if out.Version < 0 {
		verr.add("version", "must not be negative")
	}
	if out.MealRelation != nil {
		validateMeal(out.MealRelation, verr)
	}

	if len(verr.Problems) > 0 {
		return model.Schedule{}, verr
	}
	return out, nil
}

func validateTimes(s *model.Schedule, verr *ValidationError) {
	if len(s.Times) == 0 {
		verr.add("times", "at least one time of day is required")
		return
	}
	seen := make(map[model.TimeOfDay]bool, len(s.Times))
	for _, t := range s.Times {
		if !t.Valid() {
			verr.add("times", "time of day %d out of range", int(t))
			continue
		}
		if seen[t] {
			verr.add("times", "duplicate time %s", t)
			continue
		}
		seen[t] = true
	}
	sort.Slice(s.Times, func(i, j int) bool { return s.Times[i] < s.Times[j] })
}

func validateRecurrenceFields(s *model.Schedule, verr *ValidationError) {
	switch s.RecurrenceType {
	case model.RecurrenceWeekly:
		validateDaySet("days_of_week", s.DaysOfWeek, 0, 6, verr)
	case model.RecurrenceMonthly:
		validateDaySet("days_of_month", s.DaysOfMonth, 1, 31, verr)
	case model.RecurrenceCustomInterval:
		if s.IntervalDays <= 0 {
			verr.add("interval_days", "must be a positive number of days for custom_interval")
		}
	}

	if s.RecurrenceType != model.RecurrenceWeekly && len(s.DaysOfWeek) > 0 {
		verr.add("days_of_week", "only allowed for weekly schedules")
	}
	if s.RecurrenceType != model.RecurrenceMonthly && len(s.DaysOfMonth) > 0 {
		verr.add("days_of_month", "only allowed for monthly schedules")
	}
	if s.RecurrenceType != model.RecurrenceCustomInterval && s.IntervalDays != 0 {
		verr.add("interval_days", "only allowed for custom_interval schedules")
	}

	sort.Ints(s.DaysOfWeek)
	sort.Ints(s.DaysOfMonth)
}

func validateDaySet(field string, days []int, min, max int, verr *ValidationError) {
	if len(days) == 0 {
		verr.add(field, "is required")
		return
	}
	seen := make(map[int]bool, len(days))
	for _, d := range days {
		if d < min || d > max {
			verr.add(field, "%d is outside %d-%d", d, min, max)
			continue
		}
		if seen[d] {
			verr.add(field, "duplicate day %d", d)
		}
		seen[d] = true
	}
}

func validateMeal(m *model.MealRelation, verr *ValidationError) {
	if m.Meal == "" {
		verr.add("meal_relation.meal", "is required")
	}
	if m.MealTime != nil && !m.MealTime.Valid() {
		verr.add("meal_relation.meal_time", "out of range")
	}
	switch m.Timing {
	case model.MealBefore, model.MealAfter:
		if m.OffsetMinutes <= 0 {
			verr.add("meal_relation.offset_minutes", "must be positive for %s", m.Timing)
		}
	case model.MealWith:
		if m.OffsetMinutes != 0 {
			verr.add("meal_relation.offset_minutes", "must be 0 for with")
		}
	default:
		verr.add("meal_relation.timing", "must be before, with or after")
	}
}
