package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vcscsvcscs/regimen/pkg/model"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk layout read by every command. JSON files are
// accepted as well since they parse as YAML.
type Document struct {
	Schedules []ScheduleEntry `yaml:"schedules"`
	Doses     []DoseEntry     `yaml:"doses"`
}

// ScheduleEntry is a schedule as written by hand: dates are YYYY-MM-DD or
// RFC 3339 and times of day are HH:mm strings
type ScheduleEntry struct {
	ID             string     `yaml:"id"`
	MedicationID   string     `yaml:"medication_id"`
	SubjectID      string     `yaml:"subject_id"`
	RecurrenceType string     `yaml:"recurrence_type"`
	Times          []string   `yaml:"times"`
	DaysOfWeek     []int      `yaml:"days_of_week"`
	DaysOfMonth    []int      `yaml:"days_of_month"`
	IntervalDays   int        `yaml:"interval_days"`
	IntervalHours  int        `yaml:"interval_hours"`
	StartDate      string     `yaml:"start_date"`
	EndDate        string     `yaml:"end_date"`
	Timezone       string     `yaml:"timezone"`
	Priority       int        `yaml:"priority"`
	MealRelation   *MealEntry `yaml:"meal_relation"`
	Version        int        `yaml:"version"`
}

// MealEntry is the file form of a meal relation
type MealEntry struct {
	Timing        string `yaml:"timing"`
	Meal          string `yaml:"meal"`
	OffsetMinutes int    `yaml:"offset_minutes"`
	MealTime      string `yaml:"meal_time"`
}

// DoseEntry is the file form of a dose log
type DoseEntry struct {
	ScheduleID   string `yaml:"schedule_id"`
	Status       string `yaml:"status"`
	TakenAt      string `yaml:"taken_at"`
	ScheduledFor string `yaml:"scheduled_for"`
	RecordedAt   string `yaml:"recorded_at"`
	Notes        string `yaml:"notes"`
}

// LoadDocument reads and decodes a schedule file
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseDocument(data)
}

// ParseDocument decodes a schedule document
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schedule document: %w", err)
	}
	return &doc, nil
}

// ScheduleList converts the entries to model schedules. Entries without an
// ID are numbered by position. Values that cannot be parsed are reported
// with their path in the document.
func (d *Document) ScheduleList() ([]model.Schedule, error) {
	out := make([]model.Schedule, 0, len(d.Schedules))
	for i, entry := range d.Schedules {
		s, err := entry.toSchedule()
		if err != nil {
			return nil, fmt.Errorf("schedules[%d].%w", i, err)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("schedule-%d", i+1)
		}
		out = append(out, s)
	}
	return out, nil
}

// DoseLogs groups the dose entries by schedule ID
func (d *Document) DoseLogs() (map[string][]model.DoseLog, error) {
	out := make(map[string][]model.DoseLog)
	for i, entry := range d.Doses {
		log, err := entry.toDoseLog()
		if err != nil {
			return nil, fmt.Errorf("doses[%d].%w", i, err)
		}
		log.ID = fmt.Sprintf("dose-%d", i+1)
		out[log.ScheduleID] = append(out[log.ScheduleID], log)
	}
	return out, nil
}

func (e ScheduleEntry) toSchedule() (model.Schedule, error) {
	s := model.Schedule{
		ID:             e.ID,
		MedicationID:   e.MedicationID,
		SubjectID:      e.SubjectID,
		RecurrenceType: model.RecurrenceType(e.RecurrenceType),
		DaysOfWeek:     e.DaysOfWeek,
		DaysOfMonth:    e.DaysOfMonth,
		IntervalDays:   e.IntervalDays,
		IntervalHours:  e.IntervalHours,
		Timezone:       e.Timezone,
		Priority:       e.Priority,
		Version:        e.Version,
	}

	for i, raw := range e.Times {
		t, err := model.ParseTimeOfDay(raw)
		if err != nil {
			return model.Schedule{}, fmt.Errorf("times[%d]: %w", i, err)
		}
		s.Times = append(s.Times, t)
	}

	if e.StartDate != "" {
		start, err := parseDate(e.StartDate)
		if err != nil {
			return model.Schedule{}, fmt.Errorf("start_date: %w", err)
		}
		s.StartDate = start
	}
	if e.EndDate != "" {
		end, err := parseDate(e.EndDate)
		if err != nil {
			return model.Schedule{}, fmt.Errorf("end_date: %w", err)
		}
		s.EndDate = &end
	}

	if e.MealRelation != nil {
		meal := &model.MealRelation{
			Timing:        model.MealTiming(e.MealRelation.Timing),
			Meal:          e.MealRelation.Meal,
			OffsetMinutes: e.MealRelation.OffsetMinutes,
		}
		if e.MealRelation.MealTime != "" {
			t, err := model.ParseTimeOfDay(e.MealRelation.MealTime)
			if err != nil {
				return model.Schedule{}, fmt.Errorf("meal_relation.meal_time: %w", err)
			}
			meal.MealTime = &t
		}
		s.MealRelation = meal
	}
	return s, nil
}

func (e DoseEntry) toDoseLog() (model.DoseLog, error) {
	if e.ScheduleID == "" {
		return model.DoseLog{}, fmt.Errorf("schedule_id: is required")
	}
	log := model.DoseLog{
		ScheduleID: e.ScheduleID,
		Status:     model.DoseStatus(e.Status),
	}
	switch log.Status {
	case model.DoseStatusTaken, model.DoseStatusLate, model.DoseStatusSkipped, model.DoseStatusMissed:
	default:
		return model.DoseLog{}, fmt.Errorf("status: must be one of taken, late, skipped, missed")
	}

	var err error
	if log.TakenAt, err = optionalTimestamp(e.TakenAt); err != nil {
		return model.DoseLog{}, fmt.Errorf("taken_at: %w", err)
	}
	if log.ScheduledFor, err = optionalTimestamp(e.ScheduledFor); err != nil {
		return model.DoseLog{}, fmt.Errorf("scheduled_for: %w", err)
	}
	recorded, err := optionalTimestamp(e.RecordedAt)
	if err != nil {
		return model.DoseLog{}, fmt.Errorf("recorded_at: %w", err)
	}
	switch {
	case recorded != nil:
		log.RecordedAt = *recorded
	case log.TakenAt != nil:
		log.RecordedAt = *log.TakenAt
	case log.ScheduledFor != nil:
		log.RecordedAt = *log.ScheduledFor
	default:
		return model.DoseLog{}, fmt.Errorf("taken_at: one of taken_at, scheduled_for or recorded_at is required")
	}
	if e.Notes != "" {
		notes := e.Notes
		log.Notes = &notes
	}
	return log, nil
}

// parseDate accepts a calendar date or a full timestamp and returns UTC
// midnight of the date it names
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", raw)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q (expected RFC 3339)", raw)
	}
	return t, nil
}

func optionalTimestamp(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
