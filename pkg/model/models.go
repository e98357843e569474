package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecurrenceType is the cadence family of a schedule
type RecurrenceType string

const (
	RecurrenceDaily          RecurrenceType = "daily"
	RecurrenceWeekly         RecurrenceType = "weekly"
	RecurrenceMonthly        RecurrenceType = "monthly"
	RecurrenceCustomInterval RecurrenceType = "custom_interval"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from an hour and minute
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:mm"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time of day %q (expected HH:mm)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return NewTimeOfDay(h, m), nil
}

// Hour returns the hour component
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Valid reports whether t lies within a single day
func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

// Add shifts t by d, reporting false when the result leaves the day
func (t TimeOfDay) Add(d time.Duration) (TimeOfDay, bool) {
	shifted := t + TimeOfDay(d/time.Minute)
	return shifted, shifted.Valid()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MealTiming is the position of a dose relative to a meal
type MealTiming string

const (
	MealBefore MealTiming = "before"
	MealWith   MealTiming = "with"
	MealAfter  MealTiming = "after"
)

// MealRelation ties a schedule's doses to a named meal
type MealRelation struct {
	Timing        MealTiming `json:"timing" yaml:"timing"`
	Meal          string     `json:"meal" yaml:"meal"`
	OffsetMinutes int        `json:"offset_minutes" yaml:"offset_minutes"`
	// MealTime overrides the configured clock time of the meal
	MealTime *TimeOfDay `json:"meal_time,omitempty" yaml:"meal_time,omitempty"`
}

// AnchorOffset is the signed distance of the dose from the meal start
func (m MealRelation) AnchorOffset() time.Duration {
	offset := time.Duration(m.OffsetMinutes) * time.Minute
	switch m.Timing {
	case MealBefore:
		return -offset
	case MealAfter:
		return offset
	default:
		return 0
	}
}

// Schedule is the recurrence rule for one medication for one subject
type Schedule struct {
	ID             string         `json:"id" yaml:"id"`
	MedicationID   string         `json:"medication_id" yaml:"medication_id"`
	SubjectID      string         `json:"subject_id" yaml:"subject_id"`
	RecurrenceType RecurrenceType `json:"recurrence_type" yaml:"recurrence_type"`
	Times          []TimeOfDay    `json:"times" yaml:"times"`
	DaysOfWeek     []int          `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DaysOfMonth    []int          `json:"days_of_month,omitempty" yaml:"days_of_month,omitempty"`
	IntervalDays   int            `json:"interval_days,omitempty" yaml:"interval_days,omitempty"`
	// IntervalHours is the minimum spacing for frequency-based dosing
	IntervalHours int           `json:"interval_hours,omitempty" yaml:"interval_hours,omitempty"`
	StartDate     time.Time     `json:"start_date" yaml:"start_date"`
	EndDate       *time.Time    `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Timezone      string        `json:"timezone" yaml:"timezone"`
	Priority      int           `json:"priority" yaml:"priority"`
	MealRelation  *MealRelation `json:"meal_relation,omitempty" yaml:"meal_relation,omitempty"`
	Version       int           `json:"version" yaml:"version"`
	CreatedAt     time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy so that mutations never alias the original
func (s Schedule) Clone() Schedule {
	out := s
	out.Times = append([]TimeOfDay(nil), s.Times...)
	out.DaysOfWeek = append([]int(nil), s.DaysOfWeek...)
	out.DaysOfMonth = append([]int(nil), s.DaysOfMonth...)
	if s.EndDate != nil {
		end := *s.EndDate
		out.EndDate = &end
	}
	if s.MealRelation != nil {
		meal := *s.MealRelation
		if meal.MealTime != nil {
			mt := *meal.MealTime
			meal.MealTime = &mt
		}
		out.MealRelation = &meal
	}
	return out
}

// DoseStatus is the resolution state of a dose instance
type DoseStatus string

const (
	DoseStatusPending DoseStatus = "pending"
	DoseStatusTaken   DoseStatus = "taken"
	DoseStatusMissed  DoseStatus = "missed"
	DoseStatusLate    DoseStatus = "late"
	DoseStatusSkipped DoseStatus = "skipped"
)

// DoseEvent is an expected or recorded dose instance
type DoseEvent struct {
	ScheduleID    string     `json:"schedule_id"`
	MedicationID  string     `json:"medication_id,omitempty"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	Status        DoseStatus `json:"status"`
	TakenTime     *time.Time `json:"taken_time,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// DoseLog is a recorded action against a schedule
type DoseLog struct {
	ID         string     `json:"id"`
	ScheduleID string     `json:"schedule_id"`
	Status     DoseStatus `json:"status"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
	// ScheduledFor pins the log to a specific expected instant
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
	Notes        *string    `json:"notes,omitempty"`
}

// ActionTime is the instant used when reconciling the log against expected doses
func (l DoseLog) ActionTime() time.Time {
	if l.TakenAt != nil {
		return *l.TakenAt
	}
	return l.RecordedAt
}

// AdherenceStat aggregates dose outcomes over a window
type AdherenceStat struct {
	Total         int     `json:"total"`
	Taken         int     `json:"taken"`
	Missed        int     `json:"missed"`
	Late          int     `json:"late"`
	Skipped       int     `json:"skipped"`
	AdherenceRate float64 `json:"adherence_rate"`
}

// Add sums the counters of other into s without touching the rate
func (s *AdherenceStat) Add(other AdherenceStat) {
	s.Total += other.Total
	s.Taken += other.Taken
	s.Missed += other.Missed
	s.Late += other.Late
	s.Skipped += other.Skipped
}
