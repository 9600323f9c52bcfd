package entity

import (
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Dossier represents a customer print job tracked through the workflow
type Dossier struct {
	ID        int64                 `json:"id"`
	Reference string                `json:"reference"`
	Status    workflow.Status       `json:"status"`
	Type      *workflow.MachineType `json:"type"`
	CreatedBy string                `json:"created_by"`
	Version   int64                 `json:"version"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with the original
func (d *Dossier) Clone() *Dossier {
	cp := *d
	if d.Type != nil {
		t := *d.Type
		cp.Type = &t
	}
	return &cp
}

// HasMachine reports whether the dossier is assigned to the given machine
func (d *Dossier) HasMachine(m workflow.MachineType) bool {
	return d.Type != nil && *d.Type == m
}

// TransitionRequest is the input contract of the workflow engine.
// FromStatus and ToStatus may carry raw upstream strings.
type TransitionRequest struct {
	DossierID       int64             `json:"dossier_id"`
	ActorRole       workflow.Role     `json:"actor_role"`
	ActorID         string            `json:"actor_id"`
	FromStatus      string            `json:"from_status,omitempty"`
	ToStatus        string            `json:"to_status"`
	Comment         string            `json:"comment,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ExpectedVersion *int64            `json:"expected_version,omitempty"`
}

// DeleteRequest asks to remove a dossier
type DeleteRequest struct {
	DossierID int64         `json:"dossier_id"`
	ActorRole workflow.Role `json:"actor_role"`
	ActorID   string        `json:"actor_id"`
}

// TransitionHistory represents the audit trail of a dossier
type TransitionHistory struct {
	ID             int64           `json:"id"`
	DossierID      int64           `json:"dossier_id"`
	ActorRole      workflow.Role   `json:"actor_role"`
	ActorID        string          `json:"actor_id"`
	PreviousStatus workflow.Status `json:"previous_status"`
	NewStatus      workflow.Status `json:"new_status"`
	Comment        string          `json:"comment,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// NotificationRecord is one outbox row: an event addressed to one role
type NotificationRecord struct {
	ID            int64      `json:"id"`
	DossierID     int64      `json:"dossier_id"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	RecipientRole string     `json:"recipient_role"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}
