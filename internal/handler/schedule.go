package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

const (
	// defaultDueWindow is used when a due query names no end
	defaultDueWindow = 24 * time.Hour

	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// ScheduleHandler implements schedule and conflict endpoints
type ScheduleHandler struct {
	service *service.ScheduleService
	logger  *zap.Logger
	now     func() time.Time
}

// NewScheduleHandler creates a new ScheduleHandler
func NewScheduleHandler(service *service.ScheduleService, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// PostScheduleCheckConflicts runs conflict detection for a proposed
// schedule without persisting anything
func (h *ScheduleHandler) PostScheduleCheckConflicts(c *gin.Context) {
	var req api.CheckConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	candidate, err := h.proposedSchedule(req)
	if err != nil {
		badRequest(c, h.logger, "Invalid proposal", err)
		return
	}

	var existing []model.Schedule
	if req.ExistingSchedules != nil {
		existing = make([]model.Schedule, 0, len(*req.ExistingSchedules))
		for i, e := range *req.ExistingSchedules {
			s := toSchedule(e)
			if s.ID == "" {
				s.ID = fmt.Sprintf("existing-%d", i)
			}
			existing = append(existing, s)
		}
	}

	conflicts, err := h.service.CheckConflicts(c.Request.Context(), candidate, existing)
	if err != nil {
		respondError(c, h.logger, err, "Failed to check conflicts", zap.String("medication_id", candidate.MedicationID))
		return
	}

	h.logger.Info("conflicts checked",
		zap.String("medication_id", candidate.MedicationID),
		zap.Int("existing", len(existing)),
		zap.Int("conflicts", len(conflicts)),
	)

	c.JSON(http.StatusOK, api.CheckConflictsResponse{Conflicts: toConflictResponses(conflicts)})
}

// proposedSchedule builds the candidate of a conflict check. A bare
// proposed_time becomes a daily schedule starting today.
func (h *ScheduleHandler) proposedSchedule(req api.CheckConflictsRequest) (model.Schedule, error) {
	var candidate model.Schedule
	switch {
	case req.ProposedSchedule != nil:
		candidate = toSchedule(*req.ProposedSchedule)
		if candidate.MedicationID == "" {
			candidate.MedicationID = req.MedicationId
		}
	case req.ProposedTime != nil:
		today := h.now().UTC().Truncate(24 * time.Hour)
		candidate = model.Schedule{
			MedicationID:   req.MedicationId,
			RecurrenceType: model.RecurrenceDaily,
			Times:          []model.TimeOfDay{*req.ProposedTime},
			StartDate:      today,
		}
	default:
		return model.Schedule{}, errors.New("proposed_time or proposed_schedule is required")
	}

	if candidate.MedicationID == "" {
		return model.Schedule{}, errors.New("medication_id is required")
	}
	if candidate.SubjectID == "" {
		candidate.SubjectID = stringValue(req.SubjectId)
	}
	if candidate.ID == "" {
		// a fresh ID never matches a client-named existing schedule
		candidate.ID = "proposed-" + uuid.NewString()
	}
	return candidate, nil
}

// PostScheduleAdjust applies a typed adjustment to a stored schedule
func (h *ScheduleHandler) PostScheduleAdjust(c *gin.Context) {
	var req api.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	result, err := h.service.Adjust(c.Request.Context(), service.AdjustRequest{
		ScheduleID:      stringValue(req.ScheduleId),
		MedicationID:    req.MedicationId,
		ExpectedVersion: req.ExpectedVersion,
		Change:          adjustment(req.Adjustment),
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to adjust schedule",
			zap.String("medication_id", req.MedicationId),
			zap.String("schedule_id", stringValue(req.ScheduleId)),
		)
		return
	}

	c.JSON(http.StatusOK, api.AdjustResponse{
		Success:          true,
		AdjustedSchedule: toScheduleResponse(result.Schedule),
		Warnings:         toConflictResponses(result.Warnings),
	})
}

// PostSchedules creates a schedule
func (h *ScheduleHandler) PostSchedules(c *gin.Context) {
	var req api.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	result, err := h.service.Create(c.Request.Context(), toSchedule(req))
	if err != nil {
		respondError(c, h.logger, err, "Failed to create schedule",
			zap.String("medication_id", req.MedicationId),
			zap.String("subject_id", stringValue(req.SubjectId)),
		)
		return
	}

	c.JSON(http.StatusCreated, toMutationResponse(result))
}

// GetSchedulesId retrieves a schedule
func (h *ScheduleHandler) GetSchedulesId(c *gin.Context, id string) {
	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get schedule", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusOK, toScheduleResponse(*found))
}

// PatchSchedulesId applies a partial update at the expected version
func (h *ScheduleHandler) PatchSchedulesId(c *gin.Context, id string) {
	var req api.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	if req.ExpectedVersion < 1 {
		badRequest(c, h.logger, "expected_version is required", errors.New("expected_version must be at least 1"))
		return
	}

	result, err := h.service.ApplyUpdate(c.Request.Context(), id, req.ExpectedVersion, toSchedulePatch(req.Patch))
	if err != nil {
		respondError(c, h.logger, err, "Failed to update schedule", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusOK, toMutationResponse(result))
}

// PostSchedulesIdRetire ends a schedule
func (h *ScheduleHandler) PostSchedulesIdRetire(c *gin.Context, id string) {
	var req api.RetireScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	if req.ExpectedVersion < 1 {
		badRequest(c, h.logger, "expected_version is required", errors.New("expected_version must be at least 1"))
		return
	}

	result, err := h.service.Retire(c.Request.Context(), id, req.ExpectedVersion, dateToTime(req.EndDate))
	if err != nil {
		respondError(c, h.logger, err, "Failed to retire schedule", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusOK, toMutationResponse(result))
}

// GetSchedulesIdNextDose returns the next dose after from, defaulting to now
func (h *ScheduleHandler) GetSchedulesIdNextDose(c *gin.Context, id string, params api.TimeRangeParams) {
	from := h.now()
	if params.From != nil {
		from = *params.From
	}

	sch, next, err := h.service.NextDose(c.Request.Context(), id, from)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute next dose", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusOK, api.NextDoseResponse{
		ScheduleId:   sch.ID,
		MedicationId: sch.MedicationID,
		From:         from,
		NextDose:     next,
	})
}

// GetSchedulesIdAudit lists the most recent audit entries of a schedule
func (h *ScheduleHandler) GetSchedulesIdAudit(c *gin.Context, id string, params api.AuditParams) {
	limit := defaultAuditLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit < 1 || limit > maxAuditLimit {
		badRequest(c, h.logger, "Invalid limit", fmt.Errorf("limit must be between 1 and %d", maxAuditLimit))
		return
	}

	entries, err := h.service.History(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, h.logger, err, "Failed to read audit trail", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusOK, api.AuditTrailResponse{ScheduleId: id, Entries: toAuditEntries(entries)})
}

// GetSubjectsIdDue lists pending doses in (from, to] across a subject's schedules
func (h *ScheduleHandler) GetSubjectsIdDue(c *gin.Context, id string, params api.TimeRangeParams) {
	from := h.now()
	if params.From != nil {
		from = *params.From
	}
	to := from.Add(defaultDueWindow)
	if params.To != nil {
		to = *params.To
	}
	if to.Before(from) {
		badRequest(c, h.logger, "Invalid time range", errors.New("to must not be before from"))
		return
	}

	doses, err := h.service.Due(c.Request.Context(), id, from, to)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list due doses", zap.String("subject_id", id))
		return
	}
	if doses == nil {
		doses = []model.DoseEvent{}
	}

	c.JSON(http.StatusOK, api.DueResponse{SubjectId: id, From: from, To: to, Doses: doses})
}

// adjustment resolves a client adjustment against the stored schedule it
// is applied to, filling the original_* values the client may omit
type adjustment api.Adjustment

func (a adjustment) Apply(s model.Schedule) (model.Schedule, error) {
	change, err := a.resolve(s)
	if err != nil {
		return model.Schedule{}, err
	}
	return change.Apply(s)
}

func (a adjustment) resolve(s model.Schedule) (model.Change, error) {
	switch model.SuggestionType(a.Type) {
	case model.SuggestionTimeShift:
		if a.NewTime == nil {
			return nil, errors.New("new_time is required for time_shift")
		}
		original := a.OriginalTime
		if original == nil {
			if len(s.Times) != 1 {
				return nil, errors.New("original_time is required when the schedule has several times")
			}
			original = &s.Times[0]
		}
		return model.TimeShift{Original: *original, Suggested: *a.NewTime}, nil

	case model.SuggestionIntervalAdjustment:
		if a.NewInterval == nil {
			return nil, errors.New("new_interval is required for interval_adjustment")
		}
		unit := model.IntervalUnitHours
		if s.RecurrenceType == model.RecurrenceCustomInterval && s.IntervalHours == 0 {
			unit = model.IntervalUnitDays
		}
		if a.IntervalUnit != nil {
			unit = model.IntervalUnit(*a.IntervalUnit)
		}
		original := s.IntervalHours
		if unit == model.IntervalUnitDays {
			original = s.IntervalDays
		}
		return model.IntervalAdjustment{Unit: unit, Original: original, Suggested: *a.NewInterval}, nil

	case model.SuggestionMealOffsetAdjustment:
		if a.NewMealOffset == nil {
			return nil, errors.New("new_meal_offset is required for meal_offset_adjustment")
		}
		if s.MealRelation == nil {
			return nil, errors.New("schedule has no meal relation")
		}
		return model.MealOffsetAdjustment{Original: s.MealRelation.OffsetMinutes, Suggested: *a.NewMealOffset}, nil

	case model.SuggestionMealChange:
		if a.NewMeal == nil || *a.NewMeal == "" {
			return nil, errors.New("new_meal is required for meal_change")
		}
		if s.MealRelation == nil {
			return nil, errors.New("schedule has no meal relation")
		}
		return model.MealChange{Original: s.MealRelation.Meal, Suggested: *a.NewMeal}, nil
	}
	return nil, fmt.Errorf("unknown adjustment type %q", a.Type)
}

var _ model.Mutation = adjustment{}
