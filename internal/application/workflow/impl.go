package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// deletableByOwner are the statuses in which a preparateur may still remove
// their own dossier
var deletableByOwner = map[domainwf.Status]bool{
	domainwf.StatusNouveau: true,
	domainwf.StatusEnCours: true,
	domainwf.StatusARevoir: true,
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	policy *domainwf.Policy
	now    func() time.Time
}

// ApplyTransition runs the gates in order: machine scope, target status,
// role policy, graph guards, then staleness.
func (e *engineImpl) ApplyTransition(d *entity.Dossier, req entity.TransitionRequest) TransitionOutcome {
	role := req.ActorRole
	if !role.IsValid() {
		return refuse(ReasonIllegalTransition, "unknown role %q", role)
	}

	ctx := contextFor(role)
	current := e.currentStatus(d)

	if out, ok := e.checkMachine(role, d); !ok {
		return out
	}

	to, recognized := domainwf.Resolve(req.ToStatus, ctx)
	if !recognized {
		return refuse(ReasonUnknownStatus, "target status %q is not recognised", req.ToStatus)
	}
	from := current
	if req.FromStatus != "" {
		if from, recognized = domainwf.Resolve(req.FromStatus, ctx); !recognized {
			return refuse(ReasonUnknownStatus, "expected status %q is not recognised", req.FromStatus)
		}
	}

	if !e.policy.CanTransition(role, current, to) {
		if role == domainwf.RoleAdmin {
			return refuse(ReasonIllegalTransition, "no transition from %s to %s exists", current.Label(), to.Label())
		}
		return refuse(ReasonIllegalTransition, "role %s may not move a dossier from %s to %s", role, current.Label(), to.Label())
	}

	machine := e.policy.Graph().NewMachine(current)
	if err := machine.TransitionTo(domainwf.GuardInput{Machine: d.Type}, to); err != nil {
		if errors.Is(err, domainwf.ErrGuardFailed) {
			return refuse(ReasonWrongMachine, "dossier must be assigned to a machine before %s", to.Label())
		}
		return refuse(ReasonIllegalTransition, "%v", err)
	}

	if from != current {
		return refuse(ReasonConflict, "dossier is %s, not %s", current.Label(), from.Label())
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != d.Version {
		return refuse(ReasonConflict, "dossier was modified (version %d, expected %d)", d.Version, *req.ExpectedVersion)
	}

	updated := d.Clone()
	updated.Status = machine.State()
	updated.UpdatedAt = e.now()
	updated.Version++

	recipients := e.Recipients(updated)
	names := make([]string, len(recipients))
	for i, r := range recipients {
		names[i] = r.String()
	}

	payload := map[string]interface{}{
		event.KeyReference:      d.Reference,
		event.KeyPreviousStatus: current.String(),
		event.KeyNewStatus:      updated.Status.String(),
		event.KeyActorRole:      role.String(),
		event.KeyActorID:        req.ActorID,
		event.KeyComment:        req.Comment,
	}
	if d.Type != nil {
		payload[event.KeyMachineType] = d.Type.String()
	}
	if len(req.Metadata) > 0 {
		meta := make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			meta[k] = v
		}
		payload[event.KeyMetadata] = meta
	}
	evt := event.NewEvent(event.TypeDossierStatusChanged, d.ID, payload).WithRecipients(names...)
	evt.Timestamp = updated.UpdatedAt

	return TransitionOutcome{
		OK:      true,
		Dossier: updated,
		From:    current,
		To:      updated.Status,
		Intent:  &Intent{Event: evt, Recipients: recipients},
	}
}

// AuthorizeDelete allows admin always, and the owning preparateur while the
// dossier has not reached production.
func (e *engineImpl) AuthorizeDelete(d *entity.Dossier, req entity.DeleteRequest) DeleteOutcome {
	switch req.ActorRole {
	case domainwf.RoleAdmin:
		return DeleteOutcome{OK: true}
	case domainwf.RolePreparateur:
		if d.CreatedBy != req.ActorID {
			return DeleteOutcome{
				Reason:  ReasonNotOwner,
				Message: fmt.Sprintf("only the preparateur who created the dossier (%s) may delete it", d.CreatedBy),
			}
		}
		status := e.currentStatus(d)
		if !deletableByOwner[status] {
			return DeleteOutcome{
				Reason:  ReasonNotOwner,
				Message: fmt.Sprintf("a dossier in %s can no longer be deleted by its preparateur", status.Label()),
			}
		}
		return DeleteOutcome{OK: true}
	default:
		return DeleteOutcome{
			Reason:  ReasonNotOwner,
			Message: fmt.Sprintf("role %s may not delete dossiers", req.ActorRole),
		}
	}
}

// ViewFor keeps the dossiers the role may see and groups them in display order
func (e *engineImpl) ViewFor(role domainwf.Role, dossiers []*entity.Dossier, filter domainwf.Filter) View {
	visible := e.policy.VisibleStatuses(role)
	groups := make([]Group, len(visible))
	index := make(map[domainwf.Status]int, len(visible))
	for i, s := range visible {
		groups[i] = Group{Status: s, Label: s.Label(), Dossiers: []*entity.Dossier{}}
		index[s] = i
	}

	machine, isPrinter := role.Machine()

	for _, d := range dossiers {
		if d == nil {
			continue
		}
		status := e.currentStatus(d)
		i, ok := index[status]
		if !ok {
			continue
		}
		if isPrinter && !d.HasMachine(machine) {
			continue
		}
		if filter.Status != nil && *filter.Status != status {
			continue
		}
		if filter.Type != nil && !d.HasMachine(*filter.Type) {
			continue
		}
		groups[i].Dossiers = append(groups[i].Dossiers, d)
	}

	return View{Role: role, Filter: filter, Groups: groups}
}

// AvailableTransitions lists the targets that would pass every gate
func (e *engineImpl) AvailableTransitions(role domainwf.Role, d *entity.Dossier) []domainwf.Status {
	current := e.currentStatus(d)
	var out []domainwf.Status
	for _, to := range e.policy.TransitionsFor(role, current) {
		req := entity.TransitionRequest{ActorRole: role, ToStatus: to.String()}
		if outcome := e.ApplyTransition(d, req); outcome.OK {
			out = append(out, to)
		}
	}
	return out
}

// Policy returns the role policy the engine enforces
func (e *engineImpl) Policy() *domainwf.Policy {
	return e.policy
}

// checkMachine enforces machine-type scoping for printer roles
func (e *engineImpl) checkMachine(role domainwf.Role, d *entity.Dossier) (TransitionOutcome, bool) {
	machine, isPrinter := role.Machine()
	if !isPrinter || d.HasMachine(machine) {
		return TransitionOutcome{}, true
	}
	if d.Type == nil {
		return refuse(ReasonWrongMachine, "%s only handles %s dossiers; this dossier has no machine assigned", role, machine), false
	}
	return refuse(ReasonWrongMachine, "%s only handles %s dossiers; this dossier is assigned to %s", role, machine, *d.Type), false
}

// Recipients are admin plus every role that can see the dossier's status,
// printers only for their own machine
func (e *engineImpl) Recipients(d *entity.Dossier) []domainwf.Role {
	var out []domainwf.Role
	for _, role := range domainwf.AllRoles() {
		if role == domainwf.RoleAdmin {
			out = append(out, role)
			continue
		}
		if !e.policy.CanView(role, d.Status) {
			continue
		}
		if m, ok := role.Machine(); ok && !d.HasMachine(m) {
			continue
		}
		out = append(out, role)
	}
	return out
}

// currentStatus tolerates legacy values loaded from storage
func (e *engineImpl) currentStatus(d *entity.Dossier) domainwf.Status {
	if d.Status.IsValid() {
		return d.Status
	}
	return domainwf.Normalize(string(d.Status), domainwf.ContextGeneric)
}

// contextFor picks the normalizer context matching the side of the shop the
// role works on
func contextFor(role domainwf.Role) domainwf.NormalizeContext {
	switch {
	case role == domainwf.RoleLivreur:
		return domainwf.ContextDelivery
	case role == domainwf.RolePreparateur, role.IsPrinter():
		return domainwf.ContextProduction
	default:
		return domainwf.ContextGeneric
	}
}

func refuse(reason Reason, format string, args ...interface{}) TransitionOutcome {
	return TransitionOutcome{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
