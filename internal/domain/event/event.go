package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by producers and handlers
const (
	KeyReference      = "reference"
	KeyPreviousStatus = "previous_status"
	KeyNewStatus      = "new_status"
	KeyActorRole      = "actor_role"
	KeyActorID        = "actor_id"
	KeyMachineType    = "type"
	KeyComment        = "comment"
	KeyMetadata       = "metadata"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	DossierID     int64                  `json:"dossier_id"`
	Payload       map[string]interface{} `json:"payload"`
	Recipients    []string               `json:"recipients,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, dossierID int64, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		DossierID:     dossierID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// WithRecipients returns a copy of the event addressed to the given roles
func (e *Event) WithRecipients(roles ...string) *Event {
	cp := *e
	cp.Recipients = append([]string(nil), roles...)
	return &cp
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}

// HasRecipient reports whether the role is one of the event's recipients
func (e *Event) HasRecipient(role string) bool {
	for _, r := range e.Recipients {
		if r == role {
			return true
		}
	}
	return false
}
