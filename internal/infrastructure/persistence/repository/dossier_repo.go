package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlite"
)

const dossierColumns = `id, reference, status, type, created_by, version, created_at, updated_at`

// DossierRepository implements port.DossierRepository
type DossierRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDossierRepository creates a new dossier repository
func NewDossierRepository(db *sqlite.DB, logger *zap.Logger) *DossierRepository {
	return &DossierRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a dossier and sets its ID
func (r *DossierRepository) Create(ctx context.Context, d *entity.Dossier) error {
	query := `
		INSERT INTO dossiers (reference, status, type, created_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Version == 0 {
		d.Version = 1
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		d.Reference,
		d.Status.String(),
		machineValue(d.Type),
		d.CreatedBy,
		d.Version,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dossier reference %q", port.ErrDuplicate, d.Reference)
		}
		r.logger.Error("Failed to create dossier",
			zap.String("reference", d.Reference),
			zap.Error(err))
		return fmt.Errorf("failed to create dossier: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	d.ID = id
	return nil
}

// GetByID retrieves a dossier by ID
func (r *DossierRepository) GetByID(ctx context.Context, id int64) (*entity.Dossier, error) {
	query := `SELECT ` + dossierColumns + ` FROM dossiers WHERE id = ?`
	d, err := scanDossier(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dossier %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get dossier", zap.Int64("dossier_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get dossier: %w", err)
	}
	return d, nil
}

// GetByReference retrieves a dossier by its business reference
func (r *DossierRepository) GetByReference(ctx context.Context, reference string) (*entity.Dossier, error) {
	query := `SELECT ` + dossierColumns + ` FROM dossiers WHERE reference = ?`
	d, err := scanDossier(r.db.Executor(ctx).QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dossier %q: %w", reference, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get dossier by reference", zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to get dossier: %w", err)
	}
	return d, nil
}

// List returns dossiers matching the query in creation order
func (r *DossierRepository) List(ctx context.Context, q port.DossierQuery) ([]*entity.Dossier, error) {
	var (
		where []string
		args  []interface{}
	)

	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			marks[i] = "?"
			args = append(args, s.String())
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if q.Type != nil {
		where = append(where, "type = ?")
		args = append(args, q.Type.String())
	}

	query := `SELECT ` + dossierColumns + ` FROM dossiers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list dossiers", zap.Error(err))
		return nil, fmt.Errorf("failed to list dossiers: %w", err)
	}
	defer rows.Close()

	dossiers := []*entity.Dossier{}
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dossier: %w", err)
		}
		dossiers = append(dossiers, d)
	}
	return dossiers, rows.Err()
}

// UpdateStatus writes the dossier's status when the stored version matches,
// then bumps the version. d.Version is set to the stored value.
func (r *DossierRepository) UpdateStatus(ctx context.Context, d *entity.Dossier, expectedVersion int64) error {
	query := `
		UPDATE dossiers
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}

	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx, query, d.Status.String(), d.UpdatedAt, d.ID, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update dossier status",
			zap.Int64("dossier_id", d.ID),
			zap.String("status", d.Status.String()),
			zap.Error(err))
		return fmt.Errorf("failed to update status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var stored int64
		err := exec.QueryRowContext(ctx, `SELECT version FROM dossiers WHERE id = ?`, d.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dossier %d: %w", d.ID, port.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read version: %w", err)
		}
		return fmt.Errorf("dossier %d at version %d, expected %d: %w", d.ID, stored, expectedVersion, port.ErrVersionConflict)
	}

	d.Version = expectedVersion + 1
	return nil
}

// Delete removes a dossier; its history goes with it
func (r *DossierRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `DELETE FROM dossiers WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete dossier", zap.Int64("dossier_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete dossier: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dossier %d: %w", id, port.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDossier(row rowScanner) (*entity.Dossier, error) {
	var (
		d       entity.Dossier
		status  string
		machine sql.NullString
	)
	err := row.Scan(
		&d.ID,
		&d.Reference,
		&status,
		&machine,
		&d.CreatedBy,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// legacy rows are kept verbatim; the engine normalizes them on read
	d.Status = workflow.Status(status)
	if machine.Valid && machine.String != "" {
		m := workflow.MachineType(machine.String)
		d.Type = &m
	}
	return &d, nil
}

func machineValue(m *workflow.MachineType) interface{} {
	if m == nil {
		return nil
	}
	return m.String()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Verify interface compliance
var _ port.DossierRepository = (*DossierRepository)(nil)
