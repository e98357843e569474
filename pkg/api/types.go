// Package api holds the JSON request and response bodies of the HTTP API.
package api

import (
	"time"

	"github.com/oapi-codegen/runtime/types"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnsupportedRecurrence = "UNSUPPORTED_RECURRENCE"
	CodeStaleVersion          = "STALE_VERSION"
	CodeScheduleConflict      = "SCHEDULE_CONFLICT"
	CodeNotFound              = "NOT_FOUND"
	CodeInternal              = "INTERNAL_ERROR"
)

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`

	// Fields lists rejected fields of a VALIDATION_ERROR
	Fields *[]FieldError `json:"fields,omitempty"`

	// Conflicts lists the blocking conflicts of a SCHEDULE_CONFLICT
	Conflicts *[]ConflictResponse `json:"conflicts,omitempty"`

	// CurrentVersion is the stored version on STALE_VERSION
	CurrentVersion *int `json:"current_version,omitempty"`
}

// FieldError defines model for FieldError.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ScheduleRequest defines model for ScheduleRequest.
type ScheduleRequest struct {
	Id             *string             `json:"id,omitempty"`
	MedicationId   string              `json:"medication_id"`
	SubjectId      *string             `json:"subject_id,omitempty"`
	RecurrenceType string              `json:"recurrence_type"`
	Times          []model.TimeOfDay   `json:"times"`
	DaysOfWeek     *[]int              `json:"days_of_week,omitempty"`
	DaysOfMonth    *[]int              `json:"days_of_month,omitempty"`
	IntervalDays   *int                `json:"interval_days,omitempty"`
	IntervalHours  *int                `json:"interval_hours,omitempty"`
	StartDate      types.Date          `json:"start_date"`
	EndDate        *types.Date         `json:"end_date,omitempty"`
	Timezone       *string             `json:"timezone,omitempty"`
	Priority       *int                `json:"priority,omitempty"`
	MealRelation   *model.MealRelation `json:"meal_relation,omitempty"`
}

// ScheduleResponse defines model for ScheduleResponse.
type ScheduleResponse struct {
	Id             string              `json:"id"`
	MedicationId   string              `json:"medication_id"`
	SubjectId      string              `json:"subject_id"`
	RecurrenceType string              `json:"recurrence_type"`
	Times          []model.TimeOfDay   `json:"times"`
	DaysOfWeek     *[]int              `json:"days_of_week,omitempty"`
	DaysOfMonth    *[]int              `json:"days_of_month,omitempty"`
	IntervalDays   *int                `json:"interval_days,omitempty"`
	IntervalHours  *int                `json:"interval_hours,omitempty"`
	StartDate      types.Date          `json:"start_date"`
	EndDate        *types.Date         `json:"end_date,omitempty"`
	Timezone       string              `json:"timezone"`
	Priority       int                 `json:"priority"`
	MealRelation   *model.MealRelation `json:"meal_relation,omitempty"`
	Version        int                 `json:"version"`
	CreatedAt      *time.Time          `json:"created_at,omitempty"`
	UpdatedAt      *time.Time          `json:"updated_at,omitempty"`
}

// MutationResponse defines model for MutationResponse.
type MutationResponse struct {
	Schedule ScheduleResponse   `json:"schedule"`
	Warnings []ConflictResponse `json:"warnings"`
}

// SchedulePatch defines model for SchedulePatch.
type SchedulePatch struct {
	Times             *[]model.TimeOfDay  `json:"times,omitempty"`
	DaysOfWeek        *[]int              `json:"days_of_week,omitempty"`
	DaysOfMonth       *[]int              `json:"days_of_month,omitempty"`
	RecurrenceType    *string             `json:"recurrence_type,omitempty"`
	IntervalDays      *int                `json:"interval_days,omitempty"`
	IntervalHours     *int                `json:"interval_hours,omitempty"`
	StartDate         *types.Date         `json:"start_date,omitempty"`
	EndDate           *types.Date         `json:"end_date,omitempty"`
	Timezone          *string             `json:"timezone,omitempty"`
	Priority          *int                `json:"priority,omitempty"`
	MealRelation      *model.MealRelation `json:"meal_relation,omitempty"`
	ClearMealRelation *bool               `json:"clear_meal_relation,omitempty"`
}

// UpdateScheduleRequest defines model for UpdateScheduleRequest.
type UpdateScheduleRequest struct {
	ExpectedVersion int           `json:"expected_version"`
	Patch           SchedulePatch `json:"patch"`
}

// RetireScheduleRequest defines model for RetireScheduleRequest.
type RetireScheduleRequest struct {
	ExpectedVersion int        `json:"expected_version"`
	EndDate         types.Date `json:"end_date"`
}

// CheckConflictsRequest defines model for CheckConflictsRequest.
type CheckConflictsRequest struct {
	MedicationId string `json:"medication_id"`

	// ProposedTime builds a daily candidate when ProposedSchedule is absent
	ProposedTime     *model.TimeOfDay `json:"proposed_time,omitempty"`
	ProposedSchedule *ScheduleRequest `json:"proposed_schedule,omitempty"`

	// SubjectId loads the subject's stored schedules when ExistingSchedules is absent
	SubjectId         *string            `json:"subject_id,omitempty"`
	ExistingSchedules *[]ScheduleRequest `json:"existing_schedules,omitempty"`
}

// ConflictResponse defines model for ConflictResponse.
type ConflictResponse struct {
	Medication1          string             `json:"medication1"`
	Medication2          string             `json:"medication2"`
	Schedule1            string             `json:"schedule1"`
	Schedule2            string             `json:"schedule2"`
	Time                 time.Time          `json:"time"`
	DoseTime1            time.Time          `json:"dose_time1"`
	DoseTime2            time.Time          `json:"dose_time2"`
	Type                 string             `json:"type"`
	RequiresManualReview bool               `json:"requires_manual_review"`
	Suggestions          []model.Suggestion `json:"suggestions"`
}

// CheckConflictsResponse defines model for CheckConflictsResponse.
type CheckConflictsResponse struct {
	Conflicts []ConflictResponse `json:"conflicts"`
}

// Adjustment defines model for Adjustment.
type Adjustment struct {
	Type          string           `json:"type"`
	OriginalTime  *model.TimeOfDay `json:"original_time,omitempty"`
	NewTime       *model.TimeOfDay `json:"new_time,omitempty"`
	IntervalUnit  *string          `json:"interval_unit,omitempty"`
	NewInterval   *int             `json:"new_interval,omitempty"`
	NewMealOffset *int             `json:"new_meal_offset,omitempty"`
	NewMeal       *string          `json:"new_meal,omitempty"`
}

// AdjustRequest defines model for AdjustRequest.
type AdjustRequest struct {
	MedicationId    string     `json:"medication_id"`
	ScheduleId      *string    `json:"schedule_id,omitempty"`
	ExpectedVersion *int       `json:"expected_version,omitempty"`
	Adjustment      Adjustment `json:"adjustment"`
}

// AdjustResponse defines model for AdjustResponse.
type AdjustResponse struct {
	Success          bool               `json:"success"`
	AdjustedSchedule ScheduleResponse   `json:"adjusted_schedule"`
	Warnings         []ConflictResponse `json:"warnings"`
}

// NextDoseResponse defines model for NextDoseResponse.
type NextDoseResponse struct {
	ScheduleId   string     `json:"schedule_id"`
	MedicationId string     `json:"medication_id"`
	From         time.Time  `json:"from"`
	NextDose     *time.Time `json:"next_dose"`
}

// DueResponse defines model for DueResponse.
type DueResponse struct {
	SubjectId string            `json:"subject_id"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Doses     []model.DoseEvent `json:"doses"`
}

// RecordDoseRequest defines model for RecordDoseRequest.
type RecordDoseRequest struct {
	Status       string     `json:"status"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// ScheduleAdherence defines model for ScheduleAdherence.
type ScheduleAdherence struct {
	ScheduleId   string              `json:"schedule_id"`
	MedicationId string              `json:"medication_id"`
	Stat         model.AdherenceStat `json:"stat"`
}

// AdherenceResponse defines model for AdherenceResponse.
type AdherenceResponse struct {
	SubjectId string              `json:"subject_id"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Overall   model.AdherenceStat `json:"overall"`
	Schedules []ScheduleAdherence `json:"schedules"`
}

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Cache   string `json:"cache,omitempty"`
}

// TimeRangeParams defines parameters for queries over [From, To].
type TimeRangeParams struct {
	From *time.Time `form:"from" json:"from,omitempty"`
	To   *time.Time `form:"to" json:"to,omitempty"`
}

// AdherenceParams defines parameters for GetSubjectsIdAdherence and PostSubjectsIdAdherenceReport.
type AdherenceParams struct {
	Start time.Time `form:"start" json:"start"`
	End   time.Time `form:"end" json:"end"`
}

// AuditParams defines parameters for GetSchedulesIdAudit.
type AuditParams struct {
	Limit *int `form:"limit" json:"limit,omitempty"`
}

// AuditEntry defines model for AuditEntry.
type AuditEntry struct {
	UserId       string    `json:"user_id"`
	Operation    string    `json:"operation"`
	ResourceType string    `json:"resource_type"`
	ResourceId   string    `json:"resource_id"`
	Timestamp    time.Time `json:"timestamp"`
	IpAddress    *string   `json:"ip_address,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
}

// AuditTrailResponse defines model for AuditTrailResponse.
type AuditTrailResponse struct {
	ScheduleId string       `json:"schedule_id"`
	Entries    []AuditEntry `json:"entries"`
}
