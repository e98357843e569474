package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// OperationType represents the type of operation performed
type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationRetire OperationType = "RETIRE"
	OperationRead   OperationType = "READ"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceSchedule ResourceType = "medication_schedule"
	ResourceDoseLog  ResourceType = "dose_log"
	ResourceReport   ResourceType = "adherence_report"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID             string
	UserID         string
	OperationType  OperationType
	ResourceType   ResourceType
	ResourceID     string
	Timestamp      time.Time
	IPAddress      string
	UserAgent      string
	AdditionalData map[string]interface{}
}

// Actor identifies who triggered an operation
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor attaches the acting client to ctx
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting client stored in ctx, or a system actor
func ActorFrom(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor
	}
	return Actor{UserID: "system"}
}

// Logger handles audit logging
type Logger struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewLogger creates a new audit logger. With a nil pool entries only go to
// the structured log.
func NewLogger(db *pgxpool.Pool, logger *zap.Logger) *Logger {
	return &Logger{
		db:     db,
		logger: logger,
	}
}

// Log creates an audit log entry
func (l *Logger) Log(ctx context.Context, entry AuditLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.logger.Info("Audit log entry",
		zap.String("user_id", entry.UserID),
		zap.String("operation", string(entry.OperationType)),
		zap.String("resource_type", string(entry.ResourceType)),
		zap.String("resource_id", entry.ResourceID),
		zap.Time("timestamp", entry.Timestamp),
		zap.String("ip_address", entry.IPAddress),
		zap.Any("additional_data", entry.AdditionalData),
	)

	if l.db == nil {
		return nil
	}

	query := `
		INSERT INTO audit_logs (
			user_id, operation_type, resource_type, resource_id,
			timestamp, ip_address, user_agent, additional_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := l.db.Exec(ctx, query,
		entry.UserID,
		string(entry.OperationType),
		string(entry.ResourceType),
		entry.ResourceID,
		entry.Timestamp,
		entry.IPAddress,
		entry.UserAgent,
		entry.AdditionalData,
	)

	if err != nil {
		l.logger.Error("Failed to write audit log to database",
			zap.Error(err),
			zap.String("user_id", entry.UserID),
			zap.String("operation", string(entry.OperationType)),
			zap.String("resource_type", string(entry.ResourceType)),
		)
		return err
	}

	return nil
}

// Record logs an operation performed by the actor carried in ctx
func (l *Logger) Record(ctx context.Context, op OperationType, resource ResourceType, resourceID string, data map[string]interface{}) error {
	actor := ActorFrom(ctx)
	return l.Log(ctx, AuditLog{
		UserID:         actor.UserID,
		OperationType:  op,
		ResourceType:   resource,
		ResourceID:     resourceID,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
		AdditionalData: data,
	})
}

// GetAuditLogs retrieves the most recent audit entries for a resource
func (l *Logger) GetAuditLogs(ctx context.Context, resourceID string, limit int) ([]AuditLog, error) {
	if l.db == nil {
		return nil, nil
	}

	query := `
		SELECT user_id, operation_type, resource_type, resource_id,
		       timestamp, ip_address, user_agent
		FROM audit_logs
		WHERE resource_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := l.db.Query(ctx, query, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var (
			log       AuditLog
			op        string
			resource  string
			ipAddress *string
			userAgent *string
		)
		err := rows.Scan(
			&log.UserID,
			&op,
			&resource,
			&log.ResourceID,
			&log.Timestamp,
			&ipAddress,
			&userAgent,
		)
		if err != nil {
			l.logger.Error("Failed to scan audit log", zap.Error(err))
			continue
		}
		log.OperationType = OperationType(op)
		log.ResourceType = ResourceType(resource)
		if ipAddress != nil {
			log.IPAddress = *ipAddress
		}
		if userAgent != nil {
			log.UserAgent = *userAgent
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}
