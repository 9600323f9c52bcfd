package workflow

import (
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Reason explains why a transition or deletion was refused
type Reason string

const (
	ReasonIllegalTransition Reason = "ILLEGAL_TRANSITION"
	ReasonWrongMachine      Reason = "WRONG_MACHINE"
	ReasonNotOwner          Reason = "NOT_OWNER"
	ReasonUnknownStatus     Reason = "UNKNOWN_STATUS"
	ReasonConflict          Reason = "CONFLICT"
)

// String returns the string representation of the reason
func (r Reason) String() string {
	return string(r)
}

// Intent is the notification the caller must dispatch once it has committed
// the new status
type Intent struct {
	Event      *event.Event
	Recipients []domainwf.Role
}

// TransitionOutcome is the result of ApplyTransition. Refusals are expected
// outcomes and carry a Reason and a Message naming the gate that failed.
type TransitionOutcome struct {
	OK      bool            `json:"ok"`
	Dossier *entity.Dossier `json:"dossier,omitempty"`
	From    domainwf.Status `json:"from,omitempty"`
	To      domainwf.Status `json:"to,omitempty"`
	Reason  Reason          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	Intent  *Intent         `json:"-"`
}

// DeleteOutcome is the result of AuthorizeDelete
type DeleteOutcome struct {
	OK      bool   `json:"ok"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Group is the dossiers of one status within a role's view
type Group struct {
	Status   domainwf.Status   `json:"status"`
	Label    string            `json:"label"`
	Dossiers []*entity.Dossier `json:"dossiers"`
}

// View is what a role sees, grouped by status in display order
type View struct {
	Role   domainwf.Role   `json:"role"`
	Filter domainwf.Filter `json:"filter"`
	Groups []Group         `json:"groups"`
}

// ByStatus indexes the groups by status
func (v View) ByStatus() map[domainwf.Status][]*entity.Dossier {
	out := make(map[domainwf.Status][]*entity.Dossier, len(v.Groups))
	for _, g := range v.Groups {
		out[g.Status] = g.Dossiers
	}
	return out
}

// Count returns the number of dossiers across all groups
func (v View) Count() int {
	n := 0
	for _, g := range v.Groups {
		n += len(g.Dossiers)
	}
	return n
}

// Engine validates role-scoped transitions and builds role views. It never
// persists or notifies: it returns intents the caller commits.
type Engine interface {
	// ApplyTransition checks every gate and returns the updated dossier copy
	ApplyTransition(d *entity.Dossier, req entity.TransitionRequest) TransitionOutcome

	// AuthorizeDelete applies the role-and-status delete gate
	AuthorizeDelete(d *entity.Dossier, req entity.DeleteRequest) DeleteOutcome

	// ViewFor filters and groups dossiers for the role
	ViewFor(role domainwf.Role, dossiers []*entity.Dossier, filter domainwf.Filter) View

	// AvailableTransitions lists the targets that would pass every gate
	AvailableTransitions(role domainwf.Role, d *entity.Dossier) []domainwf.Status

	// Recipients lists the roles to notify about the dossier in its current status
	Recipients(d *entity.Dossier) []domainwf.Role

	// Policy returns the role policy the engine enforces
	Policy() *domainwf.Policy
}
