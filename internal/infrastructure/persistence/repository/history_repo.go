package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history record
func (r *HistoryRepository) Create(ctx context.Context, h *entity.TransitionHistory) error {
	query := `
		INSERT INTO dossier_history (
			dossier_id, actor_role, actor_id, previous_status, new_status, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		h.DossierID,
		h.ActorRole.String(),
		h.ActorID,
		h.PreviousStatus.String(),
		h.NewStatus.String(),
		h.Comment,
		h.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Int64("dossier_id", h.DossierID), zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	h.ID = id
	return nil
}

// GetByDossierID retrieves all history records for a dossier, oldest first
func (r *HistoryRepository) GetByDossierID(ctx context.Context, dossierID int64) ([]*entity.TransitionHistory, error) {
	query := `
		SELECT id, dossier_id, actor_role, actor_id, previous_status, new_status, comment, created_at
		FROM dossier_history
		WHERE dossier_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, dossierID)
	if err != nil {
		r.logger.Error("Failed to get history", zap.Int64("dossier_id", dossierID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	records := []*entity.TransitionHistory{}
	for rows.Next() {
		var (
			h              entity.TransitionHistory
			role, from, to string
		)
		if err := rows.Scan(&h.ID, &h.DossierID, &role, &h.ActorID, &from, &to, &h.Comment, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.ActorRole = workflow.Role(role)
		h.PreviousStatus = workflow.Status(from)
		h.NewStatus = workflow.Status(to)
		records = append(records, &h)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
