package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConflictKind classifies a collision between two schedules
type ConflictKind string

const (
	ConflictTimeProximity   ConflictKind = "time_proximity"
	ConflictIntervalOverlap ConflictKind = "interval_overlap"
	ConflictMeal            ConflictKind = "meal_conflict"
)

// Conflict is a detected collision between two schedules at one instant
type Conflict struct {
	ScheduleIDA   string       `json:"schedule_id_a"`
	ScheduleIDB   string       `json:"schedule_id_b"`
	MedicationIDA string       `json:"medication_id_a"`
	MedicationIDB string       `json:"medication_id_b"`
	OccursAt      time.Time    `json:"occurs_at"`
	Kind          ConflictKind `json:"kind"`
	// DoseTimeA and DoseTimeB are the colliding instants of each schedule
	DoseTimeA   time.Time    `json:"dose_time_a"`
	DoseTimeB   time.Time    `json:"dose_time_b"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Blocking reports whether nothing resolves the conflict
func (c Conflict) Blocking() bool {
	return len(c.Suggestions) == 0
}

// SuggestionType names the remediation variant
type SuggestionType string

const (
	SuggestionTimeShift            SuggestionType = "time_shift"
	SuggestionIntervalAdjustment   SuggestionType = "interval_adjustment"
	SuggestionMealOffsetAdjustment SuggestionType = "meal_offset_adjustment"
	SuggestionMealChange           SuggestionType = "meal_change"
)

// Mutation transforms a schedule into its hypothetical successor
type Mutation interface {
	Apply(s Schedule) (Schedule, error)
}

// Change is one variant of the suggestion union
type Change interface {
	Mutation
	Type() SuggestionType
	fields() map[string]interface{}
}

// Suggestion is a proposed remediation for a single conflict
type Suggestion struct {
	ScheduleID   string
	MedicationID string
	Description  string
	Reason       string
	Change       Change
}

// Type returns the variant tag
func (s Suggestion) Type() SuggestionType {
	if s.Change == nil {
		return ""
	}
	return s.Change.Type()
}

func (s Suggestion) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type":          s.Type(),
		"schedule_id":   s.ScheduleID,
		"medication_id": s.MedicationID,
		"description":   s.Description,
		"reason":        s.Reason,
	}
	if s.Change != nil {
		for k, v := range s.Change.fields() {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type                SuggestionType `json:"type"`
		ScheduleID          string         `json:"schedule_id"`
		MedicationID        string         `json:"medication_id"`
		Description         string         `json:"description"`
		Reason              string         `json:"reason"`
		OriginalTime        *TimeOfDay     `json:"original_time"`
		SuggestedTime       *TimeOfDay     `json:"suggested_time"`
		IntervalUnit        IntervalUnit   `json:"interval_unit"`
		OriginalInterval    int            `json:"original_interval"`
		SuggestedInterval   int            `json:"suggested_interval"`
		OriginalMealOffset  int            `json:"original_meal_offset"`
		SuggestedMealOffset int            `json:"suggested_meal_offset"`
		OriginalMeal        string         `json:"original_meal"`
		SuggestedMeal       string         `json:"suggested_meal"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.ScheduleID = raw.ScheduleID
	s.MedicationID = raw.MedicationID
	s.Description = raw.Description
	s.Reason = raw.Reason

	switch raw.Type {
	case SuggestionTimeShift:
		if raw.OriginalTime == nil || raw.SuggestedTime == nil {
			return fmt.Errorf("time_shift requires original_time and suggested_time")
		}
		s.Change = TimeShift{Original: *raw.OriginalTime, Suggested: *raw.SuggestedTime}
	case SuggestionIntervalAdjustment:
		s.Change = IntervalAdjustment{Unit: raw.IntervalUnit, Original: raw.OriginalInterval, Suggested: raw.SuggestedInterval}
	case SuggestionMealOffsetAdjustment:
		s.Change = MealOffsetAdjustment{Original: raw.OriginalMealOffset, Suggested: raw.SuggestedMealOffset}
	case SuggestionMealChange:
		s.Change = MealChange{Original: raw.OriginalMeal, Suggested: raw.SuggestedMeal}
	default:
		return fmt.Errorf("unknown suggestion type %q", raw.Type)
	}
	return nil
}

// TimeShift moves one entry of a schedule's times
type TimeShift struct {
	Original  TimeOfDay
	Suggested TimeOfDay
}

func (TimeShift) Type() SuggestionType { return SuggestionTimeShift }

func (c TimeShift) fields() map[string]interface{} {
	return map[string]interface{}{
		"original_time":  c.Original,
		"suggested_time": c.Suggested,
	}
}

// Apply replaces the original time entry with the suggested one
func (c TimeShift) Apply(s Schedule) (Schedule, error) {
	out := s.Clone()
	for i, t := range out.Times {
		if t == c.Original {
			out.Times[i] = c.Suggested
			return out, nil
		}
	}
	return Schedule{}, fmt.Errorf("schedule %s has no dose at %s", s.ID, c.Original)
}

// IntervalUnit distinguishes day-interval from hour-interval adjustments
type IntervalUnit string

const (
	IntervalUnitDays  IntervalUnit = "days"
	IntervalUnitHours IntervalUnit = "hours"
)

// IntervalAdjustment widens or narrows a schedule's interval
type IntervalAdjustment struct {
	Unit      IntervalUnit
	Original  int
	Suggested int
}

func (IntervalAdjustment) Type() SuggestionType { return SuggestionIntervalAdjustment }

func (c IntervalAdjustment) fields() map[string]interface{} {
	return map[string]interface{}{
		"interval_unit":      c.Unit,
		"original_interval":  c.Original,
		"suggested_interval": c.Suggested,
	}
}

func (c IntervalAdjustment) Apply(s Schedule) (Schedule, error) {
	out := s.Clone()
	switch c.Unit {
	case IntervalUnitDays:
		if out.RecurrenceType != RecurrenceCustomInterval {
			return Schedule{}, fmt.Errorf("schedule %s has no day interval", s.ID)
		}
		out.IntervalDays = c.Suggested
	case IntervalUnitHours:
		out.IntervalHours = c.Suggested
	default:
		return Schedule{}, fmt.Errorf("unknown interval unit %q", c.Unit)
	}
	return out, nil
}

// MealOffsetAdjustment changes the minutes between dose and meal
type MealOffsetAdjustment struct {
	Original  int
	Suggested int
}

func (MealOffsetAdjustment) Type() SuggestionType { return SuggestionMealOffsetAdjustment }

func (c MealOffsetAdjustment) fields() map[string]interface{} {
	return map[string]interface{}{
		"original_meal_offset":  c.Original,
		"suggested_meal_offset": c.Suggested,
	}
}

func (c MealOffsetAdjustment) Apply(s Schedule) (Schedule, error) {
	if s.MealRelation == nil {
		return Schedule{}, fmt.Errorf("schedule %s has no meal relation", s.ID)
	}
	out := s.Clone()
	out.MealRelation.OffsetMinutes = c.Suggested
	return out, nil
}

// MealChange ties the schedule to a different meal
type MealChange struct {
	Original  string
	Suggested string
}

func (MealChange) Type() SuggestionType { return SuggestionMealChange }

func (c MealChange) fields() map[string]interface{} {
	return map[string]interface{}{
		"original_meal":  c.Original,
		"suggested_meal": c.Suggested,
	}
}

func (c MealChange) Apply(s Schedule) (Schedule, error) {
	if s.MealRelation == nil {
		return Schedule{}, fmt.Errorf("schedule %s has no meal relation", s.ID)
	}
	out := s.Clone()
	out.MealRelation.Meal = c.Suggested
	// a per-schedule clock override belongs to the old meal
	out.MealRelation.MealTime = nil
	return out, nil
}

// SchedulePatch is a partial update; nil fields are left untouched
type SchedulePatch struct {
	Times             *[]TimeOfDay    `json:"times,omitempty"`
	DaysOfWeek        *[]int          `json:"days_of_week,omitempty"`
	DaysOfMonth       *[]int          `json:"days_of_month,omitempty"`
	RecurrenceType    *RecurrenceType `json:"recurrence_type,omitempty"`
	IntervalDays      *int            `json:"interval_days,omitempty"`
	IntervalHours     *int            `json:"interval_hours,omitempty"`
	StartDate         *time.Time      `json:"start_date,omitempty"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	Timezone          *string         `json:"timezone,omitempty"`
	Priority          *int            `json:"priority,omitempty"`
	MealRelation      *MealRelation   `json:"meal_relation,omitempty"`
	ClearMealRelation bool            `json:"clear_meal_relation,omitempty"`
}

func (p SchedulePatch) Apply(s Schedule) (Schedule, error) {
	out := s.Clone()
	if p.RecurrenceType != nil {
		out.RecurrenceType = *p.RecurrenceType
	}
	if p.Times != nil {
		out.Times = append([]TimeOfDay(nil), (*p.Times)...)
	}
	if p.DaysOfWeek != nil {
		out.DaysOfWeek = append([]int(nil), (*p.DaysOfWeek)...)
	}
	if p.DaysOfMonth != nil {
		out.DaysOfMonth = append([]int(nil), (*p.DaysOfMonth)...)
	}
	if p.IntervalDays != nil {
		out.IntervalDays = *p.IntervalDays
	}
	if p.IntervalHours != nil {
		out.IntervalHours = *p.IntervalHours
	}
	if p.StartDate != nil {
		out.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		end := *p.EndDate
		out.EndDate = &end
	}
	if p.Timezone != nil {
		out.Timezone = *p.Timezone
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.ClearMealRelation {
		out.MealRelation = nil
	} else if p.MealRelation != nil {
		meal := *p.MealRelation
		out.MealRelation = &meal
	}
	return out, nil
}

var (
	_ Change   = TimeShift{}
	_ Change   = IntervalAdjustment{}
	_ Change   = MealOffsetAdjustment{}
	_ Change   = MealChange{}
	_ Mutation = SchedulePatch{}
)
