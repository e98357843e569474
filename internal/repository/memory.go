package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/pkg/model"
)

// MemoryScheduleRepository keeps schedules in process memory. It is used
// when no database is configured and in tests.
type MemoryScheduleRepository struct {
	mu   sync.RWMutex
	byID map[string]model.Schedule
}

// NewMemoryScheduleRepository creates an empty MemoryScheduleRepository
func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{
		byID: make(map[string]model.Schedule),
	}
}

func (r *MemoryScheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(s.ID) == "" {
		return errors.New("schedule id required")
	}
	if _, exists := r.byID[s.ID]; exists {
		return fmt.Errorf("schedule %s already exists", s.ID)
	}
	r.byID[s.ID] = s.Clone()
	return nil
}

func (r *MemoryScheduleRepository) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	out := s.Clone()
	return &out, nil
}

func (r *MemoryScheduleRepository) FindByMedicationID(ctx context.Context, medicationID string, asOf time.Time) (*model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *model.Schedule
	for _, s := range r.byID {
		if s.MedicationID != medicationID || !activeOn(s, asOf) {
			continue
		}
		if found == nil || s.UpdatedAt.After(found.UpdatedAt) {
			c := s.Clone()
			found = &c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("schedule for medication %s: %w", medicationID, ErrNotFound)
	}
	return found, nil
}

func (r *MemoryScheduleRepository) FindActiveBySubject(ctx context.Context, subjectID string, asOf time.Time) ([]model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Schedule, 0)
	for _, s := range r.byID {
		if s.SubjectID == subjectID && activeOn(s, asOf) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryScheduleRepository) FindActive(ctx context.Context, asOf time.Time) ([]model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Schedule, 0, len(r.byID))
	for _, s := range r.byID {
		if activeOn(s, asOf) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateIfVersion performs the compare-and-swap under the write lock so
// that at most one writer wins per version
func (r *MemoryScheduleRepository) UpdateIfVersion(ctx context.Context, s *model.Schedule, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[s.ID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", s.ID, ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("schedule %s at version %d: %w", s.ID, expectedVersion, ErrVersionConflict)
	}
	r.byID[s.ID] = s.Clone()
	return nil
}

// activeOn reports whether the schedule has not ended before the calendar day of asOf
func activeOn(s model.Schedule, asOf time.Time) bool {
	if s.EndDate == nil {
		return true
	}
	return !schedule.DateOf(*s.EndDate).Before(schedule.DateOf(asOf.UTC()))
}

// MemoryDoseLogRepository keeps dose logs in process memory
type MemoryDoseLogRepository struct {
	mu         sync.RWMutex
	bySchedule map[string][]model.DoseLog
}

// NewMemoryDoseLogRepository creates an empty MemoryDoseLogRepository
func NewMemoryDoseLogRepository() *MemoryDoseLogRepository {
	return &MemoryDoseLogRepository{
		bySchedule: make(map[string][]model.DoseLog),
	}
}

func (r *MemoryDoseLogRepository) Create(ctx context.Context, l *model.DoseLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(l.ID) == "" {
		return errors.New("dose log id required")
	}
	r.bySchedule[l.ScheduleID] = append(r.bySchedule[l.ScheduleID], *l)
	return nil
}

func (r *MemoryDoseLogRepository) FindBySchedule(ctx context.Context, scheduleID string, from, to time.Time) ([]model.DoseLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	within := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }

	out := make([]model.DoseLog, 0)
	for _, l := range r.bySchedule[scheduleID] {
		if within(l.ActionTime()) || (l.ScheduledFor != nil && within(*l.ScheduledFor)) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActionTime().Before(out[j].ActionTime())
	})
	return out, nil
}
