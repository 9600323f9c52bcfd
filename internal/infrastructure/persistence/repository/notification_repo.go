package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlite"
)

const notificationColumns = `id, dossier_id, event_id, event_type, recipient_role, payload,
	status, attempts, error_message, created_at, sent_at`

// NotificationRepository implements port.NotificationRepository over the
// notifications outbox table
type NotificationRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlite.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an outbox row
func (r *NotificationRepository) Create(ctx context.Context, n *entity.NotificationRecord) error {
	query := `
		INSERT INTO notifications (
			dossier_id, event_id, event_type, recipient_role, payload, status, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if n.Status == "" {
		n.Status = entity.NotificationStatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		n.DossierID,
		n.EventID,
		n.EventType,
		n.RecipientRole,
		n.Payload,
		n.Status,
		n.Attempts,
		n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: notification %s for %s", port.ErrDuplicate, n.EventID, n.RecipientRole)
		}
		r.logger.Error("Failed to create notification",
			zap.Int64("dossier_id", n.DossierID),
			zap.String("recipient_role", n.RecipientRole),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	n.ID = id
	return nil
}

// GetByDossierID lists every outbox row of a dossier
func (r *NotificationRepository) GetByDossierID(ctx context.Context, dossierID int64) ([]*entity.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE dossier_id = ? ORDER BY id ASC`
	return r.query(ctx, query, dossierID)
}

// ListPending returns PENDING rows oldest first
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*entity.NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE status = ? ORDER BY id ASC LIMIT ?`
	return r.query(ctx, query, entity.NotificationStatusPending, limit)
}

// MarkSent marks a row as delivered
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE notifications
		SET status = ?, sent_at = ?, attempts = attempts + 1, error_message = NULL
		WHERE id = ?
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query, entity.NotificationStatusSent, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to mark notification as sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt; the row turns FAILED once
// maxAttempts is reached
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errorMsg string, maxAttempts int) error {
	query := `
		UPDATE notifications
		SET attempts = attempts + 1,
			error_message = ?,
			status = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN ? ELSE status END
		WHERE id = ?
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		errorMsg, maxAttempts, maxAttempts, entity.NotificationStatusFailed, id)
	if err != nil {
		r.logger.Error("Failed to mark notification as failed",
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return nil
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.NotificationRecord, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	records := []*entity.NotificationRecord{}
	for rows.Next() {
		var (
			n        entity.NotificationRecord
			errorMsg sql.NullString
			sentAt   sql.NullTime
		)
		err := rows.Scan(
			&n.ID,
			&n.DossierID,
			&n.EventID,
			&n.EventType,
			&n.RecipientRole,
			&n.Payload,
			&n.Status,
			&n.Attempts,
			&errorMsg,
			&n.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if errorMsg.Valid {
			n.ErrorMessage = errorMsg.String
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		records = append(records, &n)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
