package workflow

import "fmt"

// Role identifies the kind of actor operating on dossiers
type Role string

const (
	RoleAdmin           Role = "admin"
	RolePreparateur     Role = "preparateur"
	RoleImprimeurRoland Role = "imprimeur_roland"
	RoleImprimeurXerox  Role = "imprimeur_xerox"
	RoleLivreur         Role = "livreur"
)

// AllRoles lists every role
func AllRoles() []Role {
	return []Role{RoleAdmin, RolePreparateur, RoleImprimeurRoland, RoleImprimeurXerox, RoleLivreur}
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePreparateur, RoleImprimeurRoland, RoleImprimeurXerox, RoleLivreur:
		return true
	default:
		return false
	}
}

// IsPrinter returns true for the machine operator roles
func (r Role) IsPrinter() bool {
	return r == RoleImprimeurRoland || r == RoleImprimeurXerox
}

// Machine returns the machine a printer role operates. ok is false for
// non-printer roles.
func (r Role) Machine() (m MachineType, ok bool) {
	switch r {
	case RoleImprimeurRoland:
		return MachineRoland, true
	case RoleImprimeurXerox:
		return MachineXerox, true
	default:
		return "", false
	}
}

// ParseRole parses a role string
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// MachineType is the printer a dossier is assigned to
type MachineType string

const (
	MachineRoland MachineType = "roland"
	MachineXerox  MachineType = "xerox"
)

// String returns the string representation of the machine type
func (m MachineType) String() string {
	return string(m)
}

// IsValid returns true if the machine type is known
func (m MachineType) IsValid() bool {
	return m == MachineRoland || m == MachineXerox
}

// ParseMachineType parses a machine type; the empty string means unassigned.
func ParseMachineType(s string) (*MachineType, error) {
	if s == "" {
		return nil, nil
	}
	m := MachineType(s)
	if !m.IsValid() {
		return nil, fmt.Errorf("unknown machine type: %q", s)
	}
	return &m, nil
}
