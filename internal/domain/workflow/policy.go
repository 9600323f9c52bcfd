package workflow

import (
	"fmt"
)

// Filter is a partial list filter a role starts from
type Filter struct {
	Status *Status      `yaml:"status,omitempty" json:"status,omitempty"`
	Type   *MachineType `yaml:"type,omitempty" json:"type,omitempty"`
}

// IsEmpty returns true when the filter selects everything
func (f Filter) IsEmpty() bool {
	return f.Status == nil && f.Type == nil
}

// RoleSpec is the declarative policy entry for one role
type RoleSpec struct {
	Visible       []Status            `yaml:"visible" json:"visible"`
	Transitions   map[Status][]Status `yaml:"transitions" json:"transitions"`
	DefaultFilter Filter              `yaml:"default_filter" json:"default_filter"`
}

type rolePolicy struct {
	visible       map[Status]bool
	transitions   map[Status]map[Status]bool
	defaultFilter Filter
}

// Policy answers what each role may see and do. Every granted transition is
// an edge of the master graph; NewPolicy refuses anything else.
type Policy struct {
	graph *Graph
	roles map[Role]rolePolicy
}

// NewPolicy validates the entries against the graph and freezes them
func NewPolicy(graph *Graph, entries map[Role]RoleSpec) (*Policy, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}

	p := &Policy{graph: graph, roles: make(map[Role]rolePolicy, len(entries))}

	for role, spec := range entries {
		if !role.IsValid() {
			return nil, fmt.Errorf("unknown role in policy: %q", role)
		}

		rp := rolePolicy{
			visible:       make(map[Status]bool, len(spec.Visible)),
			transitions:   make(map[Status]map[Status]bool, len(spec.Transitions)),
			defaultFilter: spec.DefaultFilter,
		}

		for _, s := range spec.Visible {
			if !s.IsValid() {
				return nil, fmt.Errorf("role %s: %w: %q", role, ErrInvalidState, s)
			}
			rp.visible[s] = true
		}

		for from, tos := range spec.Transitions {
			if !from.IsValid() {
				return nil, fmt.Errorf("role %s: %w: %q", role, ErrInvalidState, from)
			}
			for _, to := range tos {
				if !to.IsValid() {
					return nil, fmt.Errorf("role %s: %w: %q", role, ErrInvalidState, to)
				}
				if !graph.Allows(from, to) {
					return nil, fmt.Errorf("role %s: %w: %s -> %s", role, ErrPolicyViolation, from, to)
				}
				if rp.transitions[from] == nil {
					rp.transitions[from] = make(map[Status]bool)
				}
				rp.transitions[from][to] = true
			}
		}

		if f := spec.DefaultFilter; f.Status != nil && !f.Status.IsValid() {
			return nil, fmt.Errorf("role %s: default filter: %w: %q", role, ErrInvalidState, *f.Status)
		}
		if f := spec.DefaultFilter; f.Type != nil && !f.Type.IsValid() {
			return nil, fmt.Errorf("role %s: default filter: unknown machine type %q", role, *f.Type)
		}

		p.roles[role] = rp
	}

	for _, role := range AllRoles() {
		if _, ok := p.roles[role]; !ok {
			return nil, fmt.Errorf("policy has no entry for role %s", role)
		}
	}

	return p, nil
}

// Graph returns the master graph the policy was validated against
func (p *Policy) Graph() *Graph {
	return p.graph
}

// CanView returns true if the role sees dossiers in the given status
func (p *Policy) CanView(role Role, status Status) bool {
	rp, ok := p.roles[role]
	return ok && rp.visible[status]
}

// CanTransition returns true if the role may move a dossier from -> to.
// admin is checked against the master graph only.
func (p *Policy) CanTransition(role Role, from, to Status) bool {
	if role == RoleAdmin {
		return p.graph.Allows(from, to)
	}
	rp, ok := p.roles[role]
	return ok && rp.transitions[from][to]
}

// TransitionsFor lists the targets the role may pick from the given state
func (p *Policy) TransitionsFor(role Role, from Status) []Status {
	if role == RoleAdmin {
		return p.graph.Targets(from)
	}
	rp, ok := p.roles[role]
	if !ok {
		return nil
	}
	out := make([]Status, 0, len(rp.transitions[from]))
	for to := range rp.transitions[from] {
		out = append(out, to)
	}
	sortByRank(out)
	return out
}

// VisibleStatuses lists the statuses the role sees, in display order
func (p *Policy) VisibleStatuses(role Role) []Status {
	rp, ok := p.roles[role]
	if !ok {
		return nil
	}
	out := make([]Status, 0, len(rp.visible))
	for _, s := range displayOrder {
		if rp.visible[s] {
			out = append(out, s)
		}
	}
	return out
}

// DefaultFilterFor returns the filter a role's dashboard opens with
func (p *Policy) DefaultFilterFor(role Role) Filter {
	return p.roles[role].defaultFilter
}

// Spec exports the role entry back into its declarative form
func (p *Policy) Spec(role Role) RoleSpec {
	spec := RoleSpec{
		Visible:       p.VisibleStatuses(role),
		Transitions:   make(map[Status][]Status),
		DefaultFilter: p.DefaultFilterFor(role),
	}
	for _, from := range displayOrder {
		if tos := p.TransitionsFor(role, from); len(tos) > 0 {
			spec.Transitions[from] = tos
		}
	}
	return spec
}

func statusPtr(s Status) *Status { return &s }

func machinePtr(m MachineType) *MachineType { return &m }

// DefaultRoleSpecs is the built-in policy table
func DefaultRoleSpecs() map[Role]RoleSpec {
	printer := func(m MachineType) RoleSpec {
		return RoleSpec{
			Visible: []Status{StatusPretImpression, StatusEnImpression, StatusTermine},
			Transitions: map[Status][]Status{
				StatusPretImpression: {StatusEnImpression},
				StatusEnImpression:   {StatusTermine},
			},
			DefaultFilter: Filter{Status: statusPtr(StatusPretImpression), Type: machinePtr(m)},
		}
	}

	return map[Role]RoleSpec{
		RoleAdmin: {
			Visible: DisplayOrder(),
		},
		RolePreparateur: {
			Visible: []Status{
				StatusNouveau, StatusEnCours, StatusARevoir,
				StatusPretImpression, StatusEnImpression, StatusTermine,
			},
			Transitions: map[Status][]Status{
				StatusNouveau: {StatusEnCours, StatusARevoir},
				StatusEnCours: {StatusARevoir, StatusPretImpression},
				StatusARevoir: {StatusNouveau, StatusEnCours},
			},
			DefaultFilter: Filter{Status: statusPtr(StatusEnCours)},
		},
		RoleImprimeurRoland: printer(MachineRoland),
		RoleImprimeurXerox:  printer(MachineXerox),
		RoleLivreur: {
			Visible: []Status{
				StatusTermine, StatusPretLivraison, StatusEnLivraison,
				StatusLivre, StatusRetour, StatusEchecLivraison, StatusReporte,
			},
			Transitions: map[Status][]Status{
				StatusTermine:        {StatusPretLivraison, StatusEnLivraison},
				StatusPretLivraison:  {StatusEnLivraison},
				StatusEnLivraison:    {StatusLivre, StatusRetour, StatusEchecLivraison, StatusReporte},
				StatusRetour:         {StatusEnLivraison},
				StatusEchecLivraison: {StatusEnLivraison},
				StatusReporte:        {StatusEnLivraison},
			},
			DefaultFilter: Filter{Status: statusPtr(StatusTermine)},
		},
	}
}

// DefaultPolicy builds the master graph and the built-in policy table
func DefaultPolicy() *Policy {
	p, err := NewPolicy(MasterGraph(), DefaultRoleSpecs())
	if err != nil {
		panic(fmt.Sprintf("built-in policy is invalid: %v", err))
	}
	return p
}
