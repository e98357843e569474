package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

const scheduleColumns = `
	id, medication_id, subject_id, recurrence_type, times,
	days_of_week, days_of_month, interval_days, interval_hours,
	start_date, end_date, timezone, priority, meal_relation,
	version, created_at, updated_at`

// ScheduleRepository persists medication schedules in PostgreSQL
type ScheduleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewScheduleRepository creates a new ScheduleRepository
func NewScheduleRepository(db *pgxpool.Pool, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new schedule
func (r *ScheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	meal, err := encodeMeal(s.MealRelation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO medication_schedules (
			id, medication_id, subject_id, recurrence_type, times,
			days_of_week, days_of_month, interval_days, interval_hours,
			start_date, end_date, timezone, priority, meal_relation,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.MedicationID,
		s.SubjectID,
		string(s.RecurrenceType),
		timesToInts(s.Times),
		toInt32s(s.DaysOfWeek),
		toInt32s(s.DaysOfMonth),
		s.IntervalDays,
		s.IntervalHours,
		s.StartDate,
		s.EndDate,
		s.Timezone,
		s.Priority,
		meal,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create schedule",
			zap.Error(err),
			zap.String("schedule_id", s.ID),
			zap.String("subject_id", s.SubjectID),
		)
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// FindByID retrieves a schedule by ID
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM medication_schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		r.logger.Error("failed to find schedule", zap.Error(err), zap.String("schedule_id", id))
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}

	return s, nil
}

// FindByMedicationID retrieves the most recently updated schedule still
// active on asOf for a medication
func (r *ScheduleRepository) FindByMedicationID(ctx context.Context, medicationID string, asOf time.Time) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM medication_schedules
		WHERE medication_id = $1 AND (end_date IS NULL OR end_date >= $2::date)
		ORDER BY updated_at DESC
		LIMIT 1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, medicationID, asOf))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("schedule for medication %s: %w", medicationID, ErrNotFound)
		}
		r.logger.Error("failed to find schedule by medication", zap.Error(err), zap.String("medication_id", medicationID))
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}

	return s, nil
}

// FindActiveBySubject retrieves every schedule of a subject that has not
// ended before asOf
func (r *ScheduleRepository) FindActiveBySubject(ctx context.Context, subjectID string, asOf time.Time) ([]model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM medication_schedules
		WHERE subject_id = $1 AND (end_date IS NULL OR end_date >= $2::date)
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, subjectID, asOf)
	if err != nil {
		r.logger.Error("failed to find schedules", zap.Error(err), zap.String("subject_id", subjectID))
		return nil, fmt.Errorf("failed to find schedules: %w", err)
	}
	return r.collect(rows)
}

// FindActive retrieves every schedule that has not ended before asOf
func (r *ScheduleRepository) FindActive(ctx context.Context, asOf time.Time) ([]model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM medication_schedules
		WHERE end_date IS NULL OR end_date >= $1::date
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		r.logger.Error("failed to find active schedules", zap.Error(err))
		return nil, fmt.Errorf("failed to find schedules: %w", err)
	}
	return r.collect(rows)
}

func (r *ScheduleRepository) collect(rows pgx.Rows) ([]model.Schedule, error) {
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			r.logger.Error("failed to scan schedule", zap.Error(err))
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating schedules", zap.Error(err))
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// UpdateIfVersion stores s only when the stored version still equals
// expectedVersion. s.Version must already hold the new version.
func (r *ScheduleRepository) UpdateIfVersion(ctx context.Context, s *model.Schedule, expectedVersion int) error {
	meal, err := encodeMeal(s.MealRelation)
	if err != nil {
		return err
	}

	query := `
		UPDATE medication_schedules
		SET medication_id = $1, recurrence_type = $2, times = $3,
		    days_of_week = $4, days_of_month = $5, interval_days = $6,
		    interval_hours = $7, start_date = $8, end_date = $9,
		    timezone = $10, priority = $11, meal_relation = $12,
		    version = $13, updated_at = $14
		WHERE id = $15 AND version = $16
	`

	result, err := r.db.Exec(ctx, query,
		s.MedicationID,
		string(s.RecurrenceType),
		timesToInts(s.Times),
		toInt32s(s.DaysOfWeek),
		toInt32s(s.DaysOfMonth),
		s.IntervalDays,
		s.IntervalHours,
		s.StartDate,
		s.EndDate,
		s.Timezone,
		s.Priority,
		meal,
		s.Version,
		s.UpdatedAt,
		s.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("failed to update schedule",
			zap.Error(err),
			zap.String("schedule_id", s.ID),
		)
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, s.ID); err != nil {
			return err
		}
		return fmt.Errorf("schedule %s at version %d: %w", s.ID, expectedVersion, ErrVersionConflict)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		s           model.Schedule
		recurrence  string
		times       []int32
		daysOfWeek  []int32
		daysOfMonth []int32
		meal        []byte
	)
	err := row.Scan(
		&s.ID,
		&s.MedicationID,
		&s.SubjectID,
		&recurrence,
		&times,
		&daysOfWeek,
		&daysOfMonth,
		&s.IntervalDays,
		&s.IntervalHours,
		&s.StartDate,
		&s.EndDate,
		&s.Timezone,
		&s.Priority,
		&meal,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.RecurrenceType = model.RecurrenceType(recurrence)
	for _, t := range times {
		s.Times = append(s.Times, model.TimeOfDay(t))
	}
	s.DaysOfWeek = fromInt32s(daysOfWeek)
	s.DaysOfMonth = fromInt32s(daysOfMonth)
	if len(meal) > 0 {
		var rel model.MealRelation
		if err := json.Unmarshal(meal, &rel); err != nil {
			return nil, fmt.Errorf("failed to decode meal relation: %w", err)
		}
		s.MealRelation = &rel
	}
	return &s, nil
}

func encodeMeal(m *model.MealRelation) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode meal relation: %w", err)
	}
	return data, nil
}

func timesToInts(times []model.TimeOfDay) []int32 {
	out := make([]int32, 0, len(times))
	for _, t := range times {
		out = append(out, int32(t))
	}
	return out
}

func toInt32s(values []int) []int32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]int32, 0, len(values))
	for _, v := range values {
		out = append(out, int32(v))
	}
	return out
}

func fromInt32s(values []int32) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, 0, len(values))
	for _, v := range values {
		out = append(out, int(v))
	}
	return out
}
