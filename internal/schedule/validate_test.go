package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

var start = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)

func validDaily() model.Schedule {
	return model.Schedule{
		ID:             "s1",
		MedicationID:   "m1",
		SubjectID:      "p1",
		RecurrenceType: model.RecurrenceDaily,
		Times:          []model.TimeOfDay{model.NewTimeOfDay(20, 0), model.NewTimeOfDay(8, 0)},
		StartDate:      start,
	}
}

func problemFields(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	fields := make([]string, 0, len(verr.Problems))
	for _, p := range verr.Problems {
		fields = append(fields, p.Field)
	}
	return fields
}

func TestValidate_NormalizesDefaults(t *testing.T) {
	in := validDaily()
	out, err := Validate(in)
	require.NoError(t, err)

	assert.Equal(t, DefaultTimezone, out.Timezone)
	assert.Equal(t, DefaultPriority, out.Priority)
	assert.Equal(t, []model.TimeOfDay{model.NewTimeOfDay(8, 0), model.NewTimeOfDay(20, 0)}, out.Times)
	// the input is never mutated
	assert.Equal(t, model.NewTimeOfDay(20, 0), in.Times[0])
}

func TestValidate_Rejections(t *testing.T) {
	end := start.AddDate(0, 0, -1)
	tests := []struct {
		name   string
		mutate func(s *model.Schedule)
		field  string
	}{
		{"empty times", func(s *model.Schedule) { s.Times = nil }, "times"},
		{"duplicate times", func(s *model.Schedule) {
			s.Times = []model.TimeOfDay{model.NewTimeOfDay(8, 0), model.NewTimeOfDay(8, 0)}
		}, "times"},
		{"time out of range", func(s *model.Schedule) { s.Times = []model.TimeOfDay{24 * 60} }, "times"},
		{"weekly without days", func(s *model.Schedule) { s.RecurrenceType = model.RecurrenceWeekly }, "days_of_week"},
		{"weekday out of range", func(s *model.Schedule) {
			s.RecurrenceType = model.RecurrenceWeekly
			s.DaysOfWeek = []int{7}
		}, "days_of_week"},
		{"monthly without days", func(s *model.Schedule) { s.RecurrenceType = model.RecurrenceMonthly }, "days_of_month"},
		{"days of month on daily", func(s *model.Schedule) { s.DaysOfMonth = []int{1} }, "days_of_month"},
		{"custom interval without days", func(s *model.Schedule) { s.RecurrenceType = model.RecurrenceCustomInterval }, "interval_days"},
		{"interval days on daily", func(s *model.Schedule) { s.IntervalDays = 2 }, "interval_days"},
		{"end before start", func(s *model.Schedule) { s.EndDate = &end }, "end_date"},
		{"missing start", func(s *model.Schedule) { s.StartDate = time.Time{} }, "start_date"},
		{"unknown zone", func(s *model.Schedule) { s.Timezone = "Mars/Olympus_Mons" }, "timezone"},
		{"priority too high", func(s *model.Schedule) { s.Priority = 6 }, "priority"},
		{"id too long", func(s *model.Schedule) { s.ID = strings.Repeat("x", MaxIDLength+1) }, "id"},
		{"meal before without offset", func(s *model.Schedule) {
			s.MealRelation = &model.MealRelation{Timing: model.MealBefore, Meal: "breakfast"}
		}, "meal_relation.offset_minutes"},
		{"meal with offset", func(s *model.Schedule) {
			s.MealRelation = &model.MealRelation{Timing: model.MealWith, Meal: "lunch", OffsetMinutes: 10}
		}, "meal_relation.offset_minutes"},
		{"meal without name", func(s *model.Schedule) {
			s.MealRelation = &model.MealRelation{Timing: model.MealAfter, OffsetMinutes: 10}
		}, "meal_relation.meal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validDaily()
			tt.mutate(&s)
			out, err := Validate(s)
			require.Error(t, err)
			assert.Contains(t, problemFields(t, err), tt.field)
			assert.Equal(t, model.Schedule{}, out)
		})
	}
}

func TestValidate_UnsupportedRecurrence(t *testing.T) {
	s := validDaily()
	s.RecurrenceType = "fortnightly"

	_, err := Validate(s)
	var unsupported *UnsupportedRecurrenceError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, model.RecurrenceType("fortnightly"), unsupported.RecurrenceType)
}

func TestValidate_AcceptsEveryRecurrence(t *testing.T) {
	weekly := validDaily()
	weekly.RecurrenceType = model.RecurrenceWeekly
	weekly.DaysOfWeek = []int{5, 1}

	monthly := validDaily()
	monthly.RecurrenceType = model.RecurrenceMonthly
	monthly.DaysOfMonth = []int{31, 15}

	custom := validDaily()
	custom.RecurrenceType = model.RecurrenceCustomInterval
	custom.IntervalDays = 3

	for _, s := range []model.Schedule{validDaily(), weekly, monthly, custom} {
		_, err := Validate(s)
		assert.NoError(t, err, string(s.RecurrenceType))
	}

	out, err := Validate(weekly)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, out.DaysOfWeek)
}
