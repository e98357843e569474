package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/repository"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// ScheduleAdherence is the resolved adherence of one schedule
type ScheduleAdherence struct {
	Schedule model.Schedule
	Stat     model.AdherenceStat
}

// SubjectAdherence is the adherence of every schedule of a subject plus
// the total computed from the summed counters
type SubjectAdherence struct {
	SubjectID string
	Start     time.Time
	End       time.Time
	Overall   model.AdherenceStat
	Schedules []ScheduleAdherence
}

// AdherenceService records dose actions and reports adherence
type AdherenceService struct {
	schedules  ScheduleStore
	logs       DoseLogStore
	aggregator *adherence.Aggregator
	cache      StatCache
	audit      AuditRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewAdherenceService creates a new AdherenceService. cache may be nil.
func NewAdherenceService(
	schedules ScheduleStore,
	logs DoseLogStore,
	aggregator *adherence.Aggregator,
	cache StatCache,
	auditor AuditRecorder,
	logger *zap.Logger,
	opts ...Option,
) *AdherenceService {
	o := buildOptions(opts)
	return &AdherenceService{
		schedules:  schedules,
		logs:       logs,
		aggregator: aggregator,
		cache:      cache,
		audit:      auditor,
		logger:     logger,
		now:        o.now,
	}
}

// RecordDose stores an actual dose action against a schedule
func (s *AdherenceService) RecordDose(ctx context.Context, scheduleID string, l *model.DoseLog) error {
	if _, err := s.schedules.FindByID(ctx, scheduleID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("failed to load schedule for dose log", zap.Error(err), zap.String("schedule_id", scheduleID))
		}
		return err
	}

	now := s.now().UTC()
	switch l.Status {
	case model.DoseStatusTaken, model.DoseStatusLate:
		if l.TakenAt == nil {
			l.TakenAt = &now
		}
	case model.DoseStatusSkipped, model.DoseStatusMissed:
		if l.TakenAt != nil {
			return &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "taken_at", Message: fmt.Sprintf("must be empty for status %s", l.Status)}}}
		}
	default:
		return &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "status", Message: "must be one of taken, late, skipped, missed"}}}
	}
	if l.TakenAt != nil && l.TakenAt.After(now) {
		return &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "taken_at", Message: "must not be in the future"}}}
	}
	if l.Notes != nil && strings.TrimSpace(*l.Notes) == "" {
		l.Notes = nil
	}

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.ScheduleID = scheduleID
	l.RecordedAt = now

	if err := s.logs.Create(ctx, l); err != nil {
		s.logger.Error("failed to record dose",
			zap.Error(err),
			zap.String("schedule_id", scheduleID),
			zap.String("status", string(l.Status)),
		)
		return fmt.Errorf("failed to record dose: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, scheduleID); err != nil {
			s.logger.Warn("failed to invalidate adherence cache", zap.Error(err), zap.String("schedule_id", scheduleID))
		}
	}

	if s.audit != nil {
		data := map[string]interface{}{"schedule_id": scheduleID, "status": string(l.Status)}
		if err := s.audit.Record(ctx, audit.OperationCreate, audit.ResourceDoseLog, l.ID, data); err != nil {
			s.logger.Warn("failed to audit dose log", zap.Error(err), zap.String("dose_log_id", l.ID))
		}
	}

	s.logger.Info("dose recorded",
		zap.String("dose_log_id", l.ID),
		zap.String("schedule_id", scheduleID),
		zap.String("status", string(l.Status)),
	)

	return nil
}

// SubjectStats computes the adherence of each active schedule of a subject
// over [start, end] and the total over all of them
func (s *AdherenceService) SubjectStats(ctx context.Context, subjectID string, start, end time.Time) (*SubjectAdherence, error) {
	if end.Before(start) {
		return nil, &schedule.ValidationError{Problems: []schedule.FieldError{{Field: "end", Message: "must not be before start"}}}
	}

	schedules, err := s.schedules.FindActiveBySubject(ctx, subjectID, start)
	if err != nil {
		s.logger.Error("failed to load subject schedules", zap.Error(err), zap.String("subject_id", subjectID))
		return nil, fmt.Errorf("failed to load subject schedules: %w", err)
	}

	out := &SubjectAdherence{
		SubjectID: subjectID,
		Start:     start,
		End:       end,
		Schedules: make([]ScheduleAdherence, 0, len(schedules)),
	}
	for _, sch := range schedules {
		stat, err := s.ScheduleStat(ctx, sch, start, end)
		if err != nil {
			return nil, err
		}
		out.Schedules = append(out.Schedules, ScheduleAdherence{Schedule: sch, Stat: stat})
		out.Overall.Add(stat)
	}
	out.Overall.AdherenceRate = adherence.Rate(out.Overall.Taken, out.Overall.Total)

	return out, nil
}

// ScheduleStat computes the adherence of one schedule over [start, end].
// Windows that have fully elapsed are served from and written to the cache.
func (s *AdherenceService) ScheduleStat(ctx context.Context, sch model.Schedule, start, end time.Time) (model.AdherenceStat, error) {
	resolved := end.Before(s.now())
	if resolved && s.cache != nil {
		cached, err := s.cache.Get(ctx, sch.ID, sch.Version, start, end)
		if err != nil {
			s.logger.Warn("failed to read adherence cache", zap.Error(err), zap.String("schedule_id", sch.ID))
		} else if cached != nil {
			return *cached, nil
		}
	}

	events, err := s.events(ctx, sch, start, end)
	if err != nil {
		return model.AdherenceStat{}, err
	}
	stat := adherence.Summarize(events)

	if resolved && s.cache != nil {
		if err := s.cache.Set(ctx, sch.ID, sch.Version, start, end, stat); err != nil {
			s.logger.Warn("failed to write adherence cache", zap.Error(err), zap.String("schedule_id", sch.ID))
		}
	}
	return stat, nil
}

// Events reconciles the expected doses of a schedule in [start, end]
// against its logs
func (s *AdherenceService) Events(ctx context.Context, scheduleID string, start, end time.Time) ([]model.DoseEvent, error) {
	sch, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return s.events(ctx, *sch, start, end)
}

func (s *AdherenceService) events(ctx context.Context, sch model.Schedule, start, end time.Time) ([]model.DoseEvent, error) {
	cfg := s.aggregator.Config()
	logs, err := s.logs.FindBySchedule(ctx, sch.ID, start.Add(-cfg.GraceWindow), end.Add(cfg.LateWindow))
	if err != nil {
		s.logger.Error("failed to load dose logs", zap.Error(err), zap.String("schedule_id", sch.ID))
		return nil, fmt.Errorf("failed to load dose logs: %w", err)
	}

	events, err := s.aggregator.Reconcile(sch, logs, start, end)
	if err != nil {
		s.logger.Error("failed to reconcile doses", zap.Error(err), zap.String("schedule_id", sch.ID))
		return nil, err
	}
	return events, nil
}
