package service

import (
	"context"
	"time"

	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/pdf"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// ScheduleStore defines the schedule persistence the services depend on
type ScheduleStore interface {
	Create(ctx context.Context, s *model.Schedule) error
	FindByID(ctx context.Context, id string) (*model.Schedule, error)
	FindByMedicationID(ctx context.Context, medicationID string, asOf time.Time) (*model.Schedule, error)
	FindActiveBySubject(ctx context.Context, subjectID string, asOf time.Time) ([]model.Schedule, error)
	FindActive(ctx context.Context, asOf time.Time) ([]model.Schedule, error)
	UpdateIfVersion(ctx context.Context, s *model.Schedule, expectedVersion int) error
}

// DoseLogStore defines the dose log persistence the services depend on
type DoseLogStore interface {
	Create(ctx context.Context, l *model.DoseLog) error
	FindBySchedule(ctx context.Context, scheduleID string, from, to time.Time) ([]model.DoseLog, error)
}

// AuditRecorder writes audit entries for the actor carried in ctx
type AuditRecorder interface {
	Record(ctx context.Context, op audit.OperationType, resource audit.ResourceType, resourceID string, data map[string]interface{}) error
}

// AuditTrail reads back the audit entries of a resource, newest first.
// An AuditRecorder that also implements AuditTrail backs schedule history.
type AuditTrail interface {
	GetAuditLogs(ctx context.Context, resourceID string, limit int) ([]audit.AuditLog, error)
}

// StatCache stores adherence stats of fully resolved windows. Entries are
// keyed by schedule version so a revised schedule never reads the stats of
// an earlier one.
type StatCache interface {
	Get(ctx context.Context, scheduleID string, version int, start, end time.Time) (*model.AdherenceStat, error)
	Set(ctx context.Context, scheduleID string, version int, start, end time.Time, stat model.AdherenceStat) error
	Invalidate(ctx context.Context, scheduleID string) error
}

// ReportRenderer renders adherence report data into a document
type ReportRenderer interface {
	Generate(data *pdf.ReportData) ([]byte, error)
}

// ReportArchive stores generated reports
type ReportArchive interface {
	UploadPDF(ctx context.Context, filename string, data []byte) (string, error)
	DownloadPDF(ctx context.Context, blobName string) ([]byte, error)
}

// Option configures a service
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source of a service
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
