package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// NotesCipher protects free-text notes at rest
type NotesCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// DoseLogRepository persists recorded dose actions in PostgreSQL
type DoseLogRepository struct {
	db     *pgxpool.Pool
	cipher NotesCipher
	logger *zap.Logger
}

// NewDoseLogRepository creates a new DoseLogRepository. A nil cipher stores notes as given.
func NewDoseLogRepository(db *pgxpool.Pool, cipher NotesCipher, logger *zap.Logger) *DoseLogRepository {
	return &DoseLogRepository{
		db:     db,
		cipher: cipher,
		logger: logger,
	}
}

// Create inserts a dose log
func (r *DoseLogRepository) Create(ctx context.Context, l *model.DoseLog) error {
	notes, err := sealNotes(r.cipher, l.Notes)
	if err != nil {
		r.logger.Error("failed to encrypt dose notes", zap.Error(err), zap.String("schedule_id", l.ScheduleID))
		return err
	}

	query := `
		INSERT INTO dose_logs (id, schedule_id, status, taken_at, scheduled_for, recorded_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		l.ID,
		l.ScheduleID,
		string(l.Status),
		l.TakenAt,
		l.ScheduledFor,
		l.RecordedAt,
		notes,
	)
	if err != nil {
		r.logger.Error("failed to create dose log",
			zap.Error(err),
			zap.String("dose_log_id", l.ID),
			zap.String("schedule_id", l.ScheduleID),
		)
		return fmt.Errorf("failed to create dose log: %w", err)
	}

	return nil
}

// FindBySchedule retrieves the logs of a schedule whose action time or
// pinned dose falls within [from, to]
func (r *DoseLogRepository) FindBySchedule(ctx context.Context, scheduleID string, from, to time.Time) ([]model.DoseLog, error) {
	query := `
		SELECT id, schedule_id, status, taken_at, scheduled_for, recorded_at, notes
		FROM dose_logs
		WHERE schedule_id = $1
		  AND (COALESCE(taken_at, recorded_at) BETWEEN $2 AND $3
		       OR scheduled_for BETWEEN $2 AND $3)
		ORDER BY COALESCE(taken_at, recorded_at), id
	`

	rows, err := r.db.Query(ctx, query, scheduleID, from, to)
	if err != nil {
		r.logger.Error("failed to find dose logs", zap.Error(err), zap.String("schedule_id", scheduleID))
		return nil, fmt.Errorf("failed to find dose logs: %w", err)
	}
	defer rows.Close()

	var logs []model.DoseLog
	for rows.Next() {
		var (
			l      model.DoseLog
			status string
			notes  *string
		)
		if err := rows.Scan(&l.ID, &l.ScheduleID, &status, &l.TakenAt, &l.ScheduledFor, &l.RecordedAt, &notes); err != nil {
			r.logger.Error("failed to scan dose log", zap.Error(err))
			return nil, fmt.Errorf("failed to scan dose log: %w", err)
		}
		l.Status = model.DoseStatus(status)
		if l.Notes, err = openNotes(r.cipher, notes); err != nil {
			r.logger.Error("failed to decrypt dose notes", zap.Error(err), zap.String("dose_log_id", l.ID))
			return nil, err
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating dose logs", zap.Error(err))
		return nil, fmt.Errorf("error iterating dose logs: %w", err)
	}

	return logs, nil
}

func sealNotes(cipher NotesCipher, notes *string) (*string, error) {
	if notes == nil || cipher == nil {
		return notes, nil
	}
	sealed, err := cipher.Encrypt(*notes)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt notes: %w", err)
	}
	return &sealed, nil
}

func openNotes(cipher NotesCipher, notes *string) (*string, error) {
	if notes == nil || cipher == nil {
		return notes, nil
	}
	plain, err := cipher.Decrypt(*notes)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt notes: %w", err)
	}
	return &plain, nil
}
