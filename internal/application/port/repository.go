package port

import (
	"context"
	"errors"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Persistence sentinels shared by every repository implementation
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrVersionConflict = errors.New("version conflict")
)

// DossierQuery narrows a dossier listing. Zero values match everything.
type DossierQuery struct {
	Statuses []workflow.Status
	Type     *workflow.MachineType
	Limit    int
	Offset   int
}

// DossierRepository defines persistence operations for Dossier
type DossierRepository interface {
	Create(ctx context.Context, dossier *entity.Dossier) error
	GetByID(ctx context.Context, id int64) (*entity.Dossier, error)
	GetByReference(ctx context.Context, reference string) (*entity.Dossier, error)
	List(ctx context.Context, query DossierQuery) ([]*entity.Dossier, error)

	// UpdateStatus writes the new status only when the stored version still
	// equals expectedVersion, then bumps the version. ErrVersionConflict
	// otherwise.
	UpdateStatus(ctx context.Context, dossier *entity.Dossier, expectedVersion int64) error

	Delete(ctx context.Context, id int64) error
}

// HistoryRepository defines persistence operations for TransitionHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.TransitionHistory) error
	GetByDossierID(ctx context.Context, dossierID int64) ([]*entity.TransitionHistory, error)
}

// NotificationRepository defines persistence operations for the notification outbox
type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.NotificationRecord) error
	GetByDossierID(ctx context.Context, dossierID int64) ([]*entity.NotificationRecord, error)

	// ListPending returns PENDING rows oldest first
	ListPending(ctx context.Context, limit int) ([]*entity.NotificationRecord, error)

	MarkSent(ctx context.Context, id int64) error

	// MarkFailed records the error and increments the attempt counter. Rows
	// stay PENDING until maxAttempts is reached, then turn FAILED.
	MarkFailed(ctx context.Context, id int64, errorMsg string, maxAttempts int) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
