package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Service errors. Policy refusals are reported through outcomes, not errors.
var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
)

// OutcomeOK is the outcome label recorded for committed transitions
const OutcomeOK = "OK"

// TransitionRecorder receives every transition outcome, typically for metrics
type TransitionRecorder interface {
	TransitionRecorded(role domainwf.Role, outcome string)
}

// CreateDossierRequest is the input of DossierService.Create
type CreateDossierRequest struct {
	Reference string                `json:"reference"`
	Status    string                `json:"status,omitempty"`
	Type      *domainwf.MachineType `json:"type,omitempty"`
	ActorRole domainwf.Role         `json:"-"`
	ActorID   string                `json:"-"`
}

// ViewRequest is the input of DossierService.View
type ViewRequest struct {
	Role       domainwf.Role
	Filter     domainwf.Filter
	UseDefault bool // apply the role's default filter when Filter is empty
}

// DossierService is the I/O layer around the workflow engine: it loads
// dossiers, asks the engine, then commits the outcome and its notifications.
type DossierService interface {
	Create(ctx context.Context, req CreateDossierRequest) (*entity.Dossier, error)
	Get(ctx context.Context, id int64) (*entity.Dossier, error)
	Transition(ctx context.Context, req entity.TransitionRequest) (workflow.TransitionOutcome, error)
	Delete(ctx context.Context, req entity.DeleteRequest) (workflow.DeleteOutcome, error)
	View(ctx context.Context, req ViewRequest) (workflow.View, error)
	History(ctx context.Context, dossierID int64) ([]*entity.TransitionHistory, error)
	AvailableTransitions(ctx context.Context, role domainwf.Role, dossierID int64) ([]domainwf.Status, error)
}

type dossierServiceImpl struct {
	engine           workflow.Engine
	dossierRepo      port.DossierRepository
	historyRepo      port.HistoryRepository
	notificationRepo port.NotificationRepository
	txManager        port.TransactionManager
	dispatcher       dispatcher.Dispatcher
	recorder         TransitionRecorder
	logger           Logger
	now              func() time.Time
}

// DossierServiceOption configures the service
type DossierServiceOption func(*dossierServiceImpl)

// WithTransitionRecorder sets the outcome recorder
func WithTransitionRecorder(r TransitionRecorder) DossierServiceOption {
	return func(s *dossierServiceImpl) {
		s.recorder = r
	}
}

// WithDispatcher publishes committed events to in-process type handlers
func WithDispatcher(d dispatcher.Dispatcher) DossierServiceOption {
	return func(s *dossierServiceImpl) {
		s.dispatcher = d
	}
}

// NewDossierService creates a new DossierService
func NewDossierService(
	engine workflow.Engine,
	dossierRepo port.DossierRepository,
	historyRepo port.HistoryRepository,
	notificationRepo port.NotificationRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...DossierServiceOption,
) DossierService {
	s := &dossierServiceImpl{
		engine:           engine,
		dossierRepo:      dossierRepo,
		historyRepo:      historyRepo,
		notificationRepo: notificationRepo,
		txManager:        txManager,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new dossier. Only preparateur and admin may create,
// and a dossier always starts before production.
func (s *dossierServiceImpl) Create(ctx context.Context, req CreateDossierRequest) (*entity.Dossier, error) {
	if req.ActorRole != domainwf.RolePreparateur && req.ActorRole != domainwf.RoleAdmin {
		return nil, fmt.Errorf("%w: role %q may not create dossiers", ErrForbidden, req.ActorRole)
	}

	reference := strings.TrimSpace(req.Reference)
	if err := utils.ValidateReference(reference); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	status := domainwf.StatusNouveau
	if req.Status != "" {
		status = domainwf.Normalize(req.Status, domainwf.ContextGeneric)
	}
	if status != domainwf.StatusNouveau && status != domainwf.StatusEnCours {
		return nil, fmt.Errorf("%w: a dossier cannot start in %s", ErrInvalidRequest, status.Label())
	}

	if req.Type != nil && !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown machine type %q", ErrInvalidRequest, *req.Type)
	}

	now := s.now()
	dossier := &entity.Dossier{
		Reference: reference,
		Status:    status,
		Type:      req.Type,
		CreatedBy: req.ActorID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var evt *event.Event
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.dossierRepo.Create(txCtx, dossier); err != nil {
			return fmt.Errorf("create dossier: %w", err)
		}

		history := &entity.TransitionHistory{
			DossierID: dossier.ID,
			ActorRole: req.ActorRole,
			ActorID:   req.ActorID,
			NewStatus: dossier.Status,
			Comment:   "created",
			CreatedAt: now,
		}
		if err := s.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("create history: %w", err)
		}

		evt = s.newEvent(event.TypeDossierCreated, dossier, req.ActorRole, req.ActorID)
		return s.enqueue(txCtx, evt, s.engine.Recipients(dossier))
	})
	if err != nil {
		s.logger.Error("Failed to create dossier", "error", err, "reference", reference)
		return nil, err
	}

	s.publish(ctx, evt)
	s.logger.Info("Dossier created", "id", dossier.ID, "reference", reference, "status", dossier.Status)
	return dossier, nil
}

// Get retrieves a dossier by ID
func (s *dossierServiceImpl) Get(ctx context.Context, id int64) (*entity.Dossier, error) {
	dossier, err := s.dossierRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get dossier %d: %w", id, err)
	}
	return dossier, nil
}

// Transition asks the engine and, on success, commits the new status with its
// history and outbox rows in one transaction. A refusal is returned as an
// outcome with a nil error; only infrastructure failures are errors.
func (s *dossierServiceImpl) Transition(ctx context.Context, req entity.TransitionRequest) (workflow.TransitionOutcome, error) {
	var outcome workflow.TransitionOutcome
	req.Comment = utils.SanitizeString(req.Comment)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.dossierRepo.GetByID(txCtx, req.DossierID)
		if err != nil {
			return fmt.Errorf("get dossier %d: %w", req.DossierID, err)
		}

		outcome = s.engine.ApplyTransition(current, req)
		if !outcome.OK {
			return nil
		}

		if err := s.dossierRepo.UpdateStatus(txCtx, outcome.Dossier, current.Version); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				outcome = workflow.TransitionOutcome{
					From:    outcome.From,
					To:      outcome.To,
					Reason:  workflow.ReasonConflict,
					Message: "dossier was modified concurrently",
				}
			}
			return fmt.Errorf("update dossier status: %w", err)
		}

		history := &entity.TransitionHistory{
			DossierID:      current.ID,
			ActorRole:      req.ActorRole,
			ActorID:        req.ActorID,
			PreviousStatus: outcome.From,
			NewStatus:      outcome.To,
			Comment:        req.Comment,
			CreatedAt:      outcome.Dossier.UpdatedAt,
		}
		if err := s.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("create history: %w", err)
		}

		return s.enqueue(txCtx, outcome.Intent.Event, outcome.Intent.Recipients)
	})

	if errors.Is(err, port.ErrVersionConflict) {
		err = nil
	}
	if err != nil {
		s.logger.Error("Failed to apply transition", "error", err, "dossier_id", req.DossierID, "to", req.ToStatus)
		return workflow.TransitionOutcome{}, err
	}

	s.record(req.ActorRole, outcome)
	if !outcome.OK {
		s.logger.Info("Transition refused",
			"dossier_id", req.DossierID,
			"role", req.ActorRole,
			"to", req.ToStatus,
			"reason", outcome.Reason,
		)
		return outcome, nil
	}

	s.publish(ctx, outcome.Intent.Event)
	s.logger.Info("Transition applied",
		"dossier_id", req.DossierID,
		"role", req.ActorRole,
		"from", outcome.From,
		"to", outcome.To,
		"version", outcome.Dossier.Version,
	)
	return outcome, nil
}

// Delete removes a dossier when the engine authorises it
func (s *dossierServiceImpl) Delete(ctx context.Context, req entity.DeleteRequest) (workflow.DeleteOutcome, error) {
	dossier, err := s.dossierRepo.GetByID(ctx, req.DossierID)
	if err != nil {
		return workflow.DeleteOutcome{}, fmt.Errorf("get dossier %d: %w", req.DossierID, err)
	}

	outcome := s.engine.AuthorizeDelete(dossier, req)
	if !outcome.OK {
		s.logger.Info("Delete refused", "dossier_id", req.DossierID, "role", req.ActorRole, "reason", outcome.Reason)
		return outcome, nil
	}

	evt := s.newEvent(event.TypeDossierDeleted, dossier, req.ActorRole, req.ActorID)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.dossierRepo.Delete(txCtx, dossier.ID); err != nil {
			return fmt.Errorf("delete dossier: %w", err)
		}
		return s.enqueue(txCtx, evt, []domainwf.Role{domainwf.RoleAdmin})
	})
	if err != nil {
		s.logger.Error("Failed to delete dossier", "error", err, "dossier_id", req.DossierID)
		return workflow.DeleteOutcome{}, err
	}

	s.publish(ctx, evt)
	s.logger.Info("Dossier deleted", "dossier_id", req.DossierID, "role", req.ActorRole)
	return outcome, nil
}

// View lists the dossiers the role may see, grouped by status
func (s *dossierServiceImpl) View(ctx context.Context, req ViewRequest) (workflow.View, error) {
	if !req.Role.IsValid() {
		return workflow.View{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}

	filter := req.Filter
	if filter.IsEmpty() && req.UseDefault {
		filter = s.engine.Policy().DefaultFilterFor(req.Role)
	}

	query := port.DossierQuery{Statuses: s.engine.Policy().VisibleStatuses(req.Role)}
	if m, ok := req.Role.Machine(); ok {
		query.Type = &m
	}

	dossiers, err := s.dossierRepo.List(ctx, query)
	if err != nil {
		s.logger.Error("Failed to list dossiers", "error", err, "role", req.Role)
		return workflow.View{}, fmt.Errorf("list dossiers: %w", err)
	}

	return s.engine.ViewFor(req.Role, dossiers, filter), nil
}

// History returns the audit trail of a dossier, oldest first
func (s *dossierServiceImpl) History(ctx context.Context, dossierID int64) ([]*entity.TransitionHistory, error) {
	records, err := s.historyRepo.GetByDossierID(ctx, dossierID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return records, nil
}

// AvailableTransitions lists what the role could do with the dossier right now
func (s *dossierServiceImpl) AvailableTransitions(ctx context.Context, role domainwf.Role, dossierID int64) ([]domainwf.Status, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	dossier, err := s.dossierRepo.GetByID(ctx, dossierID)
	if err != nil {
		return nil, fmt.Errorf("get dossier %d: %w", dossierID, err)
	}
	return s.engine.AvailableTransitions(role, dossier), nil
}

func (s *dossierServiceImpl) newEvent(t event.Type, d *entity.Dossier, role domainwf.Role, actorID string) *event.Event {
	payload := map[string]interface{}{
		event.KeyReference: d.Reference,
		event.KeyNewStatus: d.Status.String(),
		event.KeyActorRole: role.String(),
		event.KeyActorID:   actorID,
	}
	if d.Type != nil {
		payload[event.KeyMachineType] = d.Type.String()
	}
	evt := event.NewEvent(t, d.ID, payload)
	evt.Timestamp = s.now()
	return evt
}

// enqueue writes one outbox row per recipient
func (s *dossierServiceImpl) enqueue(ctx context.Context, evt *event.Event, recipients []domainwf.Role) error {
	names := make([]string, len(recipients))
	for i, r := range recipients {
		names[i] = r.String()
	}
	evt = evt.WithRecipients(names...)

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, role := range names {
		record := &entity.NotificationRecord{
			DossierID:     evt.DossierID,
			EventID:       evt.ID,
			EventType:     evt.Type.String(),
			RecipientRole: role,
			Payload:       string(data),
			Status:        entity.NotificationStatusPending,
			CreatedAt:     evt.Timestamp,
		}
		if err := s.notificationRepo.Create(ctx, record); err != nil {
			return fmt.Errorf("create notification for %s: %w", role, err)
		}
	}
	return nil
}

func (s *dossierServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.dispatcher == nil || evt == nil {
		return
	}
	s.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
}

func (s *dossierServiceImpl) record(role domainwf.Role, outcome workflow.TransitionOutcome) {
	if s.recorder == nil {
		return
	}
	label := OutcomeOK
	if !outcome.OK {
		label = outcome.Reason.String()
	}
	s.recorder.TransitionRecorded(role, label)
}
