package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/azure"
	"github.com/vcscsvcscs/regimen/internal/pdf"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// Report is a rendered adherence report
type Report struct {
	ID          string
	SubjectID   string
	GeneratedAt time.Time
	PDF         []byte
	// BlobPath is empty when no archive is configured
	BlobPath string
	Overall  model.AdherenceStat
}

// ReportService renders adherence reports and archives them
type ReportService struct {
	adherence *AdherenceService
	renderer  ReportRenderer
	archive   ReportArchive
	audit     AuditRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService creates a new ReportService. archive may be nil.
func NewReportService(
	adherenceService *AdherenceService,
	renderer ReportRenderer,
	archive ReportArchive,
	auditor AuditRecorder,
	logger *zap.Logger,
	opts ...Option,
) *ReportService {
	o := buildOptions(opts)
	return &ReportService{
		adherence: adherenceService,
		renderer:  renderer,
		archive:   archive,
		audit:     auditor,
		logger:    logger,
		now:       o.now,
	}
}

// Generate renders the adherence of a subject over [start, end]
func (s *ReportService) Generate(ctx context.Context, subjectID string, start, end time.Time) (*Report, error) {
	s.logger.Info("generating adherence report",
		zap.String("subject_id", subjectID),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	stats, err := s.adherence.SubjectStats(ctx, subjectID, start, end)
	if err != nil {
		return nil, err
	}

	data := &pdf.ReportData{
		SubjectID:   subjectID,
		Start:       start,
		End:         end,
		GeneratedAt: s.now(),
		Overall:     stats.Overall,
	}
	for _, sa := range stats.Schedules {
		data.Schedules = append(data.Schedules, pdf.ScheduleSummary{
			ScheduleID:   sa.Schedule.ID,
			MedicationID: sa.Schedule.MedicationID,
			Recurrence:   string(sa.Schedule.RecurrenceType),
			Times:        sa.Schedule.Times,
			Timezone:     sa.Schedule.Timezone,
			Stat:         sa.Stat,
		})

		events, err := s.adherence.events(ctx, sa.Schedule, start, end)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			switch ev.Status {
			case model.DoseStatusMissed, model.DoseStatusLate, model.DoseStatusSkipped:
				data.Exceptions = append(data.Exceptions, ev)
			}
		}
	}
	sort.SliceStable(data.Exceptions, func(i, j int) bool {
		return data.Exceptions[i].ScheduledTime.Before(data.Exceptions[j].ScheduledTime)
	})

	pdfBytes, err := s.renderer.Generate(data)
	if err != nil {
		s.logger.Error("failed to render adherence report", zap.Error(err), zap.String("subject_id", subjectID))
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	report := &Report{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		GeneratedAt: data.GeneratedAt,
		PDF:         pdfBytes,
		Overall:     stats.Overall,
	}

	if s.archive != nil {
		filename := azure.ReportFileName(subjectID, report.ID, report.GeneratedAt)
		blobPath, err := s.archive.UploadPDF(ctx, filename, pdfBytes)
		if err != nil {
			s.logger.Error("failed to archive adherence report",
				zap.Error(err),
				zap.String("report_id", report.ID),
				zap.String("subject_id", subjectID),
			)
			return nil, fmt.Errorf("failed to upload PDF: %w", err)
		}
		report.BlobPath = blobPath
	}

	if s.audit != nil {
		data := map[string]interface{}{"subject_id": subjectID, "blob_path": report.BlobPath}
		if err := s.audit.Record(ctx, audit.OperationCreate, audit.ResourceReport, report.ID, data); err != nil {
			s.logger.Warn("failed to audit report", zap.Error(err), zap.String("report_id", report.ID))
		}
	}

	s.logger.Info("adherence report generated",
		zap.String("report_id", report.ID),
		zap.String("subject_id", subjectID),
		zap.String("blob_path", report.BlobPath),
		zap.Int("size_bytes", len(pdfBytes)),
	)

	return report, nil
}

// Fetch returns the archived report at the subject and file segments of
// the location Generate reported
func (s *ReportService) Fetch(ctx context.Context, subject, file string) ([]byte, error) {
	blobName, ok := azure.ReportBlobName(subject, file)
	if !ok || s.archive == nil {
		return nil, fmt.Errorf("%w: %s/%s", azure.ErrReportNotFound, subject, file)
	}

	data, err := s.archive.DownloadPDF(ctx, blobName)
	if err != nil {
		if !errors.Is(err, azure.ErrReportNotFound) {
			s.logger.Error("failed to fetch archived report", zap.Error(err), zap.String("blob_name", blobName))
		}
		return nil, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.OperationRead, audit.ResourceReport, blobName, map[string]interface{}{"subject_id": subject}); err != nil {
			s.logger.Warn("failed to audit report access", zap.Error(err), zap.String("blob_name", blobName))
		}
	}
	return data, nil
}
