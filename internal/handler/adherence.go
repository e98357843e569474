package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// AdherenceHandler implements dose logging and adherence endpoints
type AdherenceHandler struct {
	service *service.AdherenceService
	logger  *zap.Logger
}

// NewAdherenceHandler creates a new AdherenceHandler
func NewAdherenceHandler(service *service.AdherenceService, logger *zap.Logger) *AdherenceHandler {
	return &AdherenceHandler{
		service: service,
		logger:  logger,
	}
}

// PostSchedulesIdDoses records a dose action against a schedule
func (h *AdherenceHandler) PostSchedulesIdDoses(c *gin.Context, id string) {
	var req api.RecordDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		badRequest(c, h.logger, "status is required", errors.New("status must be one of taken, late, skipped, missed"))
		return
	}

	log := &model.DoseLog{
		Status:       model.DoseStatus(req.Status),
		TakenAt:      req.TakenAt,
		ScheduledFor: req.ScheduledFor,
		Notes:        req.Notes,
	}
	if err := h.service.RecordDose(c.Request.Context(), id, log); err != nil {
		respondError(c, h.logger, err, "Failed to record dose", zap.String("schedule_id", id))
		return
	}

	c.JSON(http.StatusCreated, log)
}

// GetSubjectsIdAdherence reports per-schedule and overall adherence
func (h *AdherenceHandler) GetSubjectsIdAdherence(c *gin.Context, id string, params api.AdherenceParams) {
	stats, err := h.service.SubjectStats(c.Request.Context(), id, params.Start, params.End)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute adherence", zap.String("subject_id", id))
		return
	}

	response := api.AdherenceResponse{
		SubjectId: stats.SubjectID,
		Start:     stats.Start,
		End:       stats.End,
		Overall:   stats.Overall,
		Schedules: make([]api.ScheduleAdherence, 0, len(stats.Schedules)),
	}
	for _, sa := range stats.Schedules {
		response.Schedules = append(response.Schedules, api.ScheduleAdherence{
			ScheduleId:   sa.Schedule.ID,
			MedicationId: sa.Schedule.MedicationID,
			Stat:         sa.Stat,
		})
	}

	h.logger.Info("adherence computed",
		zap.String("subject_id", id),
		zap.Int("schedules", len(response.Schedules)),
		zap.Float64("adherence_rate", stats.Overall.AdherenceRate),
	)

	c.JSON(http.StatusOK, response)
}
