package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/azure"
	"github.com/vcscsvcscs/regimen/internal/pdf"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// MockReportRenderer is a mock implementation of ReportRenderer
type MockReportRenderer struct {
	mock.Mock
}

func (m *MockReportRenderer) Generate(data *pdf.ReportData) ([]byte, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func TestReportService_Generate_ArchivesReport(t *testing.T) {
	// Arrange
	f := newAdherenceFixture(t, nil)
	ctx := context.Background()
	f.addSchedule(t, "sched-1", "metformin", model.NewTimeOfDay(8, 0))

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.RecordDose(ctx, "sched-1", takenAt(start.Add(8*time.Hour))))

	archive := azure.NewMockBlobStorageClient(zap.NewNop())
	svc := NewReportService(f.svc, pdf.NewPDFGenerator(zap.NewNop()), archive, nil, zap.NewNop(),
		WithClock(func() time.Time { return adherenceNow }))

	// Act
	report, err := svc.Generate(ctx, "subject-1", start, end)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(report.PDF[:4]))
	assert.True(t, strings.HasPrefix(report.BlobPath, "reports/subject-1/20250320_"), report.BlobPath)
	assert.Equal(t, model.AdherenceStat{Total: 3, Taken: 1, Missed: 2, AdherenceRate: 33.33}, report.Overall)
	assert.Equal(t, []string{report.BlobPath}, archive.ListBlobs())
}

func TestReportService_Generate_PassesExceptionsInOrder(t *testing.T) {
	f := newAdherenceFixture(t, nil)
	ctx := context.Background()
	f.addSchedule(t, "sched-1", "metformin", model.NewTimeOfDay(20, 0))
	f.addSchedule(t, "sched-2", "lisinopril", model.NewTimeOfDay(8, 0))

	renderer := new(MockReportRenderer)
	renderer.On("Generate", mock.MatchedBy(func(data *pdf.ReportData) bool {
		if len(data.Schedules) != 2 || len(data.Exceptions) != 2 {
			return false
		}
		return data.Exceptions[0].MedicationID == "lisinopril" && data.Exceptions[1].MedicationID == "metformin"
	})).Return([]byte("%PDF-1.3"), nil)

	svc := NewReportService(f.svc, renderer, nil, nil, zap.NewNop())

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	report, err := svc.Generate(ctx, "subject-1", start, start.Add(23*time.Hour))

	require.NoError(t, err)
	assert.Empty(t, report.BlobPath, "nothing is archived without a configured archive")
	renderer.AssertExpectations(t)
}

func TestReportService_Generate_RenderFailure(t *testing.T) {
	f := newAdherenceFixture(t, nil)

	renderer := new(MockReportRenderer)
	renderer.On("Generate", mock.Anything).Return(nil, errors.New("font missing"))

	svc := NewReportService(f.svc, renderer, nil, nil, zap.NewNop())

	_, err := svc.Generate(context.Background(), "subject-1", adherenceNow.Add(-time.Hour), adherenceNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate PDF")
}

func TestReportService_Fetch(t *testing.T) {
	f := newAdherenceFixture(t, nil)
	ctx := context.Background()
	f.addSchedule(t, "sched-1", "metformin", model.NewTimeOfDay(8, 0))

	archive := azure.NewMockBlobStorageClient(zap.NewNop())
	auditor := new(MockAuditRecorder)
	auditor.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := NewReportService(f.svc, pdf.NewPDFGenerator(zap.NewNop()), archive, auditor, zap.NewNop(),
		WithClock(func() time.Time { return adherenceNow }))

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	report, err := svc.Generate(ctx, "subject-1", start, start.Add(47*time.Hour))
	require.NoError(t, err)

	got, err := svc.Fetch(ctx, "subject-1", path.Base(report.BlobPath))
	require.NoError(t, err)
	assert.Equal(t, report.PDF, got)
	auditor.AssertCalled(t, "Record", mock.Anything, audit.OperationRead, audit.ResourceReport, report.BlobPath, mock.Anything)

	_, err = svc.Fetch(ctx, "subject-1", "20250320_missing.pdf")
	assert.ErrorIs(t, err, azure.ErrReportNotFound)

	_, err = svc.Fetch(ctx, "..", path.Base(report.BlobPath))
	assert.ErrorIs(t, err, azure.ErrReportNotFound)

	unarchived := NewReportService(f.svc, pdf.NewPDFGenerator(zap.NewNop()), nil, nil, zap.NewNop())
	_, err = unarchived.Fetch(ctx, "subject-1", path.Base(report.BlobPath))
	assert.ErrorIs(t, err, azure.ErrReportNotFound)
}
