package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/internal/repository"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// MutationResult is a committed schedule together with the non-blocking
// conflicts the caller should surface
type MutationResult struct {
	Schedule model.Schedule
	Warnings []model.Conflict
}

// AdjustRequest addresses a schedule by ID or by medication and carries
// the change to apply
type AdjustRequest struct {
	ScheduleID   string
	MedicationID string
	// ExpectedVersion defaults to the currently stored version
	ExpectedVersion *int
	Change          model.Mutation
}

// ScheduleService is the only component that writes schedules. Every
// write is validated, checked for conflicts and committed with a
// compare-and-swap on the version.
type ScheduleService struct {
	repo       ScheduleStore
	detector   *conflict.Detector
	calculator *schedule.Calculator
	audit      AuditRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewScheduleService creates a new ScheduleService
func NewScheduleService(
	repo ScheduleStore,
	detector *conflict.Detector,
	calculator *schedule.Calculator,
	auditor AuditRecorder,
	logger *zap.Logger,
	opts ...Option,
) *ScheduleService {
	o := buildOptions(opts)
	return &ScheduleService{
		repo:       repo,
		detector:   detector,
		calculator: calculator,
		audit:      auditor,
		logger:     logger,
		now:        o.now,
	}
}

// Create validates a new schedule, rejects it on blocking conflicts with
// the subject's active schedules and stores it at version 1
func (s *ScheduleService) Create(ctx context.Context, in model.Schedule) (*MutationResult, error) {
	if strings.TrimSpace(in.SubjectID) == "" {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "subject_id", Message: "is required"}}}
	}
	if strings.TrimSpace(in.MedicationID) == "" {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "medication_id", Message: "is required"}}}
	}

	candidate, err := schedule.Validate(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if candidate.ID == "" {
		candidate.ID = uuid.New().String()
	}
	candidate.Version = 1
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	warnings, err := s.screen(ctx, candidate, now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &candidate); err != nil {
		s.logger.Error("failed to create schedule",
			zap.Error(err),
			zap.String("subject_id", candidate.SubjectID),
			zap.String("medication_id", candidate.MedicationID),
		)
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.record(ctx, audit.OperationCreate, candidate, nil)

	s.logger.Info("schedule created",
		zap.String("schedule_id", candidate.ID),
		zap.String("subject_id", candidate.SubjectID),
		zap.Int("warnings", len(warnings)),
	)

	return &MutationResult{Schedule: candidate, Warnings: warnings}, nil
}

// Get retrieves a schedule by ID
func (s *ScheduleService) Get(ctx context.Context, id string) (*model.Schedule, error) {
	found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("failed to get schedule", zap.Error(err), zap.String("schedule_id", id))
		}
		return nil, err
	}
	return found, nil
}

// History returns up to limit audit entries of a schedule, newest first.
// It is empty when the auditor keeps no readable trail.
func (s *ScheduleService) History(ctx context.Context, id string, limit int) ([]audit.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	trail, ok := s.audit.(AuditTrail)
	if !ok {
		return nil, nil
	}
	entries, err := trail.GetAuditLogs(ctx, id, limit)
	if err != nil {
		s.logger.Error("failed to read audit trail", zap.Error(err), zap.String("schedule_id", id))
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}

// ApplyUpdate applies change to the stored schedule when its version still
// equals expectedVersion. At most one mutation commits per version.
func (s *ScheduleService) ApplyUpdate(ctx context.Context, id string, expectedVersion int, change model.Mutation) (*MutationResult, error) {
	return s.applyUpdate(ctx, id, expectedVersion, change, audit.OperationUpdate)
}

// Retire ends a schedule on endDate
func (s *ScheduleService) Retire(ctx context.Context, id string, expectedVersion int, endDate time.Time) (*MutationResult, error) {
	patch := model.SchedulePatch{EndDate: &endDate}
	return s.applyUpdate(ctx, id, expectedVersion, patch, audit.OperationRetire)
}

// Adjust resolves the addressed schedule and applies the change through
// ApplyUpdate
func (s *ScheduleService) Adjust(ctx context.Context, req AdjustRequest) (*MutationResult, error) {
	if req.Change == nil {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "adjustment", Message: "is required"}}}
	}

	var (
		current *model.Schedule
		err     error
	)
	switch {
	case req.ScheduleID != "":
		current, err = s.repo.FindByID(ctx, req.ScheduleID)
	case req.MedicationID != "":
		current, err = s.repo.FindByMedicationID(ctx, req.MedicationID, s.now())
	default:
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "medication_id", Message: "schedule_id or medication_id is required"}}}
	}
	if err != nil {
		return nil, err
	}
	if req.MedicationID != "" && current.MedicationID != req.MedicationID {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "medication_id", Message: "does not match the schedule"}}}
	}

	expected := current.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	return s.applyUpdate(ctx, current.ID, expected, req.Change, audit.OperationUpdate)
}

func (s *ScheduleService) applyUpdate(ctx context.Context, id string, expectedVersion int, change model.Mutation, op audit.OperationType) (*MutationResult, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("failed to load schedule for update", zap.Error(err), zap.String("schedule_id", id))
		}
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &StaleVersionError{ScheduleID: id, Expected: expectedVersion, Actual: current.Version}
	}

	next, err := change.Apply(*current)
	if err != nil {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "adjustment", Message: err.Error()}}}
	}
	next.ID = current.ID
	next.SubjectID = current.SubjectID
	next.CreatedAt = current.CreatedAt

	candidate, err := schedule.Validate(next)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	candidate.Version = expectedVersion + 1
	candidate.UpdatedAt = now

	var warnings []model.Conflict
	if !shortensOnly(op, *current, candidate) {
		if warnings, err = s.screen(ctx, candidate, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateIfVersion(ctx, &candidate, expectedVersion); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			actual := expectedVersion + 1
			if stored, ferr := s.repo.FindByID(ctx, id); ferr == nil {
				actual = stored.Version
			}
			s.logger.Info("schedule update lost version race",
				zap.String("schedule_id", id),
				zap.Int("expected_version", expectedVersion),
				zap.Int("actual_version", actual),
			)
			return nil, &StaleVersionError{ScheduleID: id, Expected: expectedVersion, Actual: actual}
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("failed to update schedule", zap.Error(err), zap.String("schedule_id", id))
		}
		return nil, err
	}

	s.record(ctx, op, candidate, map[string]interface{}{"previous_version": expectedVersion})

	s.logger.Info("schedule updated",
		zap.String("schedule_id", candidate.ID),
		zap.String("operation", string(op)),
		zap.Int("version", candidate.Version),
	)

	return &MutationResult{Schedule: candidate, Warnings: warnings}, nil
}

// shortensOnly reports whether a retirement moves the end date earlier.
// Fewer doses cannot introduce a conflict, so such a change is not screened.
func shortensOnly(op audit.OperationType, current, next model.Schedule) bool {
	if op != audit.OperationRetire || next.EndDate == nil {
		return false
	}
	return current.EndDate == nil || !next.EndDate.After(*current.EndDate)
}

// screen runs conflict detection against the subject's other active
// schedules and fails with a ConflictError when anything blocks
func (s *ScheduleService) screen(ctx context.Context, candidate model.Schedule, now time.Time) ([]model.Conflict, error) {
	others, err := s.repo.FindActiveBySubject(ctx, candidate.SubjectID, now)
	if err != nil {
		s.logger.Error("failed to load subject schedules",
			zap.Error(err),
			zap.String("subject_id", candidate.SubjectID),
		)
		return nil, fmt.Errorf("failed to load subject schedules: %w", err)
	}

	conflicts, err := s.detector.Detect(candidate, others, now)
	if err != nil {
		return nil, err
	}
	if len(Blocking(conflicts)) > 0 {
		s.logger.Info("schedule mutation rejected by blocking conflict",
			zap.String("schedule_id", candidate.ID),
			zap.String("subject_id", candidate.SubjectID),
			zap.Int("conflicts", len(conflicts)),
		)
		return nil, &ConflictError{Conflicts: conflicts}
	}
	return conflicts, nil
}

// CheckConflicts validates the candidate and the given schedules and runs
// detection without persisting anything. When existing is nil the
// subject's stored active schedules are used.
func (s *ScheduleService) CheckConflicts(ctx context.Context, candidate model.Schedule, existing []model.Schedule) ([]model.Conflict, error) {
	validated, err := schedule.Validate(candidate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if existing == nil && validated.SubjectID != "" {
		existing, err = s.repo.FindActiveBySubject(ctx, validated.SubjectID, now)
		if err != nil {
			s.logger.Error("failed to load subject schedules",
				zap.Error(err),
				zap.String("subject_id", validated.SubjectID),
			)
			return nil, fmt.Errorf("failed to load subject schedules: %w", err)
		}
	}

	others := make([]model.Schedule, 0, len(existing))
	for i, e := range existing {
		v, err := schedule.Validate(e)
		if err != nil {
			return nil, fmt.Errorf("existing schedule %d (%s): %w", i, e.ID, err)
		}
		others = append(others, v)
	}

	return s.detector.Detect(validated, others, now)
}

// NextDose returns the next dose instant of a schedule after from, or nil
// when none is upcoming
func (s *ScheduleService) NextDose(ctx context.Context, id string, from time.Time) (*model.Schedule, *time.Time, error) {
	found, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	next, err := s.calculator.Next(*found, from)
	if err != nil {
		if errors.Is(err, schedule.ErrNoUpcomingDose) {
			return found, nil, nil
		}
		return nil, nil, err
	}
	return found, &next, nil
}

// Due lists the doses of a subject's active schedules that become due in
// (after, until], earliest first
func (s *ScheduleService) Due(ctx context.Context, subjectID string, after, until time.Time) ([]model.DoseEvent, error) {
	schedules, err := s.repo.FindActiveBySubject(ctx, subjectID, after)
	if err != nil {
		s.logger.Error("failed to load subject schedules", zap.Error(err), zap.String("subject_id", subjectID))
		return nil, fmt.Errorf("failed to load subject schedules: %w", err)
	}
	return dueEvents(schedules, after, until)
}

// DueAll lists the doses of every active schedule that become due in
// (after, until]
func (s *ScheduleService) DueAll(ctx context.Context, after, until time.Time) ([]model.DoseEvent, error) {
	schedules, err := s.repo.FindActive(ctx, after)
	if err != nil {
		s.logger.Error("failed to load active schedules", zap.Error(err))
		return nil, fmt.Errorf("failed to load active schedules: %w", err)
	}
	return dueEvents(schedules, after, until)
}

func dueEvents(schedules []model.Schedule, after, until time.Time) ([]model.DoseEvent, error) {
	events := make([]model.DoseEvent, 0)
	for _, sch := range schedules {
		occ, err := schedule.DueBetween(sch, after, until)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize schedule %s: %w", sch.ID, err)
		}
		for _, o := range occ {
			events = append(events, model.DoseEvent{
				ScheduleID:    sch.ID,
				MedicationID:  sch.MedicationID,
				ScheduledTime: o.At,
				Status:        model.DoseStatusPending,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].ScheduledTime.Equal(events[j].ScheduledTime) {
			return events[i].ScheduledTime.Before(events[j].ScheduledTime)
		}
		return events[i].ScheduleID < events[j].ScheduleID
	})
	return events, nil
}

func (s *ScheduleService) record(ctx context.Context, op audit.OperationType, sch model.Schedule, data map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["version"] = sch.Version
	data["subject_id"] = sch.SubjectID
	data["medication_id"] = sch.MedicationID
	if err := s.audit.Record(ctx, op, audit.ResourceSchedule, sch.ID, data); err != nil {
		s.logger.Warn("failed to audit schedule mutation",
			zap.Error(err),
			zap.String("schedule_id", sch.ID),
			zap.String("operation", string(op)),
		)
	}
}
