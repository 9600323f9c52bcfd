package event

// Type identifies the type of domain event
type Type string

const (
	TypeDossierCreated       Type = "dossier.created"
	TypeDossierStatusChanged Type = "dossier.status_changed"
	TypeDossierDeleted       Type = "dossier.deleted"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDossierCreated,
		TypeDossierStatusChanged,
		TypeDossierDeleted:
		return true
	default:
		return false
	}
}
