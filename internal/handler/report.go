package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"go.uber.org/zap"
)

// ReportHandler implements report API endpoints
type ReportHandler struct {
	service *service.ReportService
	logger  *zap.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(service *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		service: service,
		logger:  logger,
	}
}

// PostSubjectsIdAdherenceReport renders an adherence report and returns the PDF
func (h *ReportHandler) PostSubjectsIdAdherenceReport(c *gin.Context, id string, params api.AdherenceParams) {
	report, err := h.service.Generate(c.Request.Context(), id, params.Start, params.End)
	if err != nil {
		respondError(c, h.logger, err, "Failed to generate report", zap.String("subject_id", id))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=adherence_report_%s.pdf", report.ID))
	c.Header("X-Report-ID", report.ID)
	if report.BlobPath != "" {
		c.Header("X-Report-Location", report.BlobPath)
	}
	c.Data(http.StatusOK, "application/pdf", report.PDF)

	h.logger.Info("report delivered",
		zap.String("report_id", report.ID),
		zap.String("subject_id", id),
		zap.Int("size_bytes", len(report.PDF)),
	)
}

// GetReportsSubjectFile streams an archived report back to the client
func (h *ReportHandler) GetReportsSubjectFile(c *gin.Context, subject string, file string) {
	data, err := h.service.Fetch(c.Request.Context(), subject, file)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch report",
			zap.String("subject_id", subject),
			zap.String("file", file),
		)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", file))
	c.Data(http.StatusOK, "application/pdf", data)
}
