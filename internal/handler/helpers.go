package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime/types"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/azure"
	"github.com/vcscsvcscs/regimen/internal/repository"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// Helper functions for type conversions between API types and internal models

// stringPtr creates a pointer to a string
func stringPtr(s string) *string {
	return &s
}

// timePtr creates a pointer to a time.Time
func timePtr(t time.Time) *time.Time {
	return &t
}

// stringValue dereferences an optional string
func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// intValue dereferences an optional int
func intValue(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// optionalInts returns nil for an empty slice so it is omitted from responses
func optionalInts(values []int) *[]int {
	if len(values) == 0 {
		return nil
	}
	out := append([]int(nil), values...)
	return &out
}

// optionalInt returns nil for zero so it is omitted from responses
func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// dateToTime converts types.Date to time.Time
func dateToTime(d types.Date) time.Time {
	return d.Time
}

// timeToDate converts time.Time to types.Date
func timeToDate(t time.Time) types.Date {
	return types.Date{Time: t}
}

// timePtrToDate converts *time.Time to *types.Date
func timePtrToDate(t *time.Time) *types.Date {
	if t == nil {
		return nil
	}
	return &types.Date{Time: *t}
}

// datePtrToTime converts *types.Date to *time.Time
func datePtrToTime(d *types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// toSchedule converts a schedule request to the domain model
func toSchedule(req api.ScheduleRequest) model.Schedule {
	s := model.Schedule{
		ID:             stringValue(req.Id),
		MedicationID:   req.MedicationId,
		SubjectID:      stringValue(req.SubjectId),
		RecurrenceType: model.RecurrenceType(req.RecurrenceType),
		Times:          append([]model.TimeOfDay(nil), req.Times...),
		IntervalDays:   intValue(req.IntervalDays),
		IntervalHours:  intValue(req.IntervalHours),
		StartDate:      dateToTime(req.StartDate),
		EndDate:        datePtrToTime(req.EndDate),
		Timezone:       stringValue(req.Timezone),
		Priority:       intValue(req.Priority),
		MealRelation:   req.MealRelation,
	}
	if req.DaysOfWeek != nil {
		s.DaysOfWeek = append([]int(nil), (*req.DaysOfWeek)...)
	}
	if req.DaysOfMonth != nil {
		s.DaysOfMonth = append([]int(nil), (*req.DaysOfMonth)...)
	}
	return s
}

// toSchedulePatch converts a patch request to the domain model
func toSchedulePatch(req api.SchedulePatch) model.SchedulePatch {
	patch := model.SchedulePatch{
		Times:         req.Times,
		DaysOfWeek:    req.DaysOfWeek,
		DaysOfMonth:   req.DaysOfMonth,
		IntervalDays:  req.IntervalDays,
		IntervalHours: req.IntervalHours,
		StartDate:     datePtrToTime(req.StartDate),
		EndDate:       datePtrToTime(req.EndDate),
		Timezone:      req.Timezone,
		Priority:      req.Priority,
		MealRelation:  req.MealRelation,
	}
	if req.RecurrenceType != nil {
		rt := model.RecurrenceType(*req.RecurrenceType)
		patch.RecurrenceType = &rt
	}
	if req.ClearMealRelation != nil {
		patch.ClearMealRelation = *req.ClearMealRelation
	}
	return patch
}

// toScheduleResponse converts a schedule to its API representation
func toScheduleResponse(s model.Schedule) api.ScheduleResponse {
	resp := api.ScheduleResponse{
		Id:             s.ID,
		MedicationId:   s.MedicationID,
		SubjectId:      s.SubjectID,
		RecurrenceType: string(s.RecurrenceType),
		Times:          append([]model.TimeOfDay(nil), s.Times...),
		DaysOfWeek:     optionalInts(s.DaysOfWeek),
		DaysOfMonth:    optionalInts(s.DaysOfMonth),
		IntervalDays:   optionalInt(s.IntervalDays),
		IntervalHours:  optionalInt(s.IntervalHours),
		StartDate:      timeToDate(s.StartDate),
		EndDate:        timePtrToDate(s.EndDate),
		Timezone:       s.Timezone,
		Priority:       s.Priority,
		MealRelation:   s.MealRelation,
		Version:        s.Version,
	}
	if !s.CreatedAt.IsZero() {
		resp.CreatedAt = timePtr(s.CreatedAt)
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = timePtr(s.UpdatedAt)
	}
	return resp
}

// toConflictResponses converts detected conflicts; never returns nil
func toConflictResponses(conflicts []model.Conflict) []api.ConflictResponse {
	out := make([]api.ConflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		suggestions := c.Suggestions
		if suggestions == nil {
			suggestions = []model.Suggestion{}
		}
		out = append(out, api.ConflictResponse{
			Medication1:          c.MedicationIDA,
			Medication2:          c.MedicationIDB,
			Schedule1:            c.ScheduleIDA,
			Schedule2:            c.ScheduleIDB,
			Time:                 c.OccursAt,
			DoseTime1:            c.DoseTimeA,
			DoseTime2:            c.DoseTimeB,
			Type:                 string(c.Kind),
			RequiresManualReview: c.Blocking(),
			Suggestions:          suggestions,
		})
	}
	return out
}

// toMutationResponse converts a committed mutation
func toAuditEntries(entries []audit.AuditLog) []api.AuditEntry {
	out := make([]api.AuditEntry, 0, len(entries))
	for _, e := range entries {
		entry := api.AuditEntry{
			UserId:       e.UserID,
			Operation:    string(e.OperationType),
			ResourceType: string(e.ResourceType),
			ResourceId:   e.ResourceID,
			Timestamp:    e.Timestamp,
		}
		if e.IPAddress != "" {
			entry.IpAddress = stringPtr(e.IPAddress)
		}
		if e.UserAgent != "" {
			entry.UserAgent = stringPtr(e.UserAgent)
		}
		out = append(out, entry)
	}
	return out
}

func toMutationResponse(res *service.MutationResult) api.MutationResponse {
	return api.MutationResponse{
		Schedule: toScheduleResponse(res.Schedule),
		Warnings: toConflictResponses(res.Warnings),
	}
}

// badRequest answers a malformed request body or parameter
func badRequest(c *gin.Context, logger *zap.Logger, message string, err error) {
	logger.Warn("invalid request", zap.Error(err), zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Code:    api.CodeValidation,
		Message: message,
		Details: stringPtr(err.Error()),
	})
}

// respondError maps service and engine errors onto the API error contract.
// Only unexpected errors are logged at error level.
func respondError(c *gin.Context, logger *zap.Logger, err error, message string, fields ...zap.Field) {
	var (
		verr     *schedule.ValidationError
		unsup    *schedule.UnsupportedRecurrenceError
		stale    *service.StaleVersionError
		conflict *service.ConflictError
	)

	switch {
	case errors.As(err, &verr):
		problems := make([]api.FieldError, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			problems = append(problems, api.FieldError{Field: p.Field, Message: p.Message})
		}
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    api.CodeValidation,
			Message: "Invalid schedule",
			Details: stringPtr(err.Error()),
			Fields:  &problems,
		})
	case errors.As(err, &unsup):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Code:    api.CodeUnsupportedRecurrence,
			Message: "Unsupported recurrence type",
			Details: stringPtr(err.Error()),
		})
	case errors.As(err, &stale):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Code:           api.CodeStaleVersion,
			Message:        "Schedule was modified concurrently",
			Details:        stringPtr(err.Error()),
			CurrentVersion: &stale.Actual,
		})
	case errors.As(err, &conflict):
		conflicts := toConflictResponses(conflict.Conflicts)
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Code:      api.CodeScheduleConflict,
			Message:   "Change introduces a blocking conflict",
			Details:   stringPtr(err.Error()),
			Conflicts: &conflicts,
		})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Code:    api.CodeNotFound,
			Message: "Schedule not found",
		})
	case errors.Is(err, azure.ErrReportNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Code:    api.CodeNotFound,
			Message: "Report not found",
		})
	default:
		logger.Error(message, append(fields, zap.Error(err))...)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Code:    api.CodeInternal,
			Message: message,
			Details: stringPtr(err.Error()),
		})
	}
}
