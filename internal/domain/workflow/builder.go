package workflow

import (
	"fmt"
	"sort"
)

// GuardInput carries the dossier attributes guards may inspect
type GuardInput struct {
	Machine *MachineType
}

// Guard is a named condition evaluated before an edge is taken
type Guard struct {
	Name  string
	Check func(in GuardInput) bool
}

// GraphBuilder builds the master transition graph
type GraphBuilder interface {
	// Configure returns the edge configuration for the given state
	Configure(state Status) StateConfiguration

	// Build freezes the configured edges into a Graph
	Build() *Graph
}

// StateConfiguration configures outgoing edges for a specific state
type StateConfiguration interface {
	// Permit allows moving to the target state
	Permit(toState Status) StateConfiguration

	// PermitIf allows moving to the target state when the guard passes
	PermitIf(toState Status, guard Guard) StateConfiguration
}

// edge represents an outgoing transition with optional guard
type edge struct {
	toState Status
	guard   *Guard
}

type stateConfig struct {
	fromState Status
	edges     map[Status]edge
}

type graphBuilder struct {
	configurations map[Status]*stateConfig
}

// Graph is the immutable, role-independent set of legal transitions
type Graph struct {
	edges map[Status]map[Status]edge
}

// NewBuilder creates a new graph builder
func NewBuilder() GraphBuilder {
	return &graphBuilder{
		configurations: make(map[Status]*stateConfig),
	}
}

// Configure returns the edge configuration for the given state
func (b *graphBuilder) Configure(state Status) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState: state,
			edges:     make(map[Status]edge),
		}
		b.configurations[state] = config
	}

	return config
}

// Build copies the configured edges so later Configure calls cannot leak
// into graphs already handed out.
func (b *graphBuilder) Build() *Graph {
	edges := make(map[Status]map[Status]edge, len(b.configurations))
	for state, config := range b.configurations {
		out := make(map[Status]edge, len(config.edges))
		for to, e := range config.edges {
			out[to] = e
		}
		edges[state] = out
	}
	return &Graph{edges: edges}
}

// Permit allows moving to the target state
func (c *stateConfig) Permit(toState Status) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.edges[toState] = edge{toState: toState}
	return c
}

// PermitIf allows moving to the target state when the guard passes
func (c *stateConfig) PermitIf(toState Status, guard Guard) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	g := guard
	c.edges[toState] = edge{toState: toState, guard: &g}
	return c
}

// Allows reports whether from -> to is an edge, ignoring guards
func (g *Graph) Allows(from, to Status) bool {
	_, ok := g.edges[from][to]
	return ok
}

// Targets returns the states reachable in one step from the given state,
// in display order
func (g *Graph) Targets(from Status) []Status {
	out := make([]Status, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		out = append(out, to)
	}
	sortByRank(out)
	return out
}

// Check evaluates the guard on from -> to. It returns ErrInvalidTransition
// when the edge does not exist and ErrGuardFailed when its guard rejects.
func (g *Graph) Check(from, to Status, in GuardInput) error {
	e, ok := g.edges[from][to]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if e.guard != nil && !e.guard.Check(in) {
		return fmt.Errorf("%w: %s (%s -> %s)", ErrGuardFailed, e.guard.Name, from, to)
	}
	return nil
}

// NewMachine creates a state machine positioned at the given state
func (g *Graph) NewMachine(initialState Status) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &stateMachine{graph: g, currentState: initialState}
}

type stateMachine struct {
	graph        *Graph
	currentState Status
}

// State returns the current state
func (m *stateMachine) State() Status {
	return m.currentState
}

// CanTransitionTo returns true if an edge to the target exists
func (m *stateMachine) CanTransitionTo(to Status) bool {
	return m.graph.Allows(m.currentState, to)
}

// TransitionTo moves to the target if the edge exists and its guard passes
func (m *stateMachine) TransitionTo(in GuardInput, to Status) error {
	if err := m.graph.Check(m.currentState, to, in); err != nil {
		return err
	}
	m.currentState = to
	return nil
}

// PermittedTargets returns the states reachable from the current state
func (m *stateMachine) PermittedTargets() []Status {
	return m.graph.Targets(m.currentState)
}

func sortByRank(s []Status) {
	sort.Slice(s, func(i, j int) bool { return s[i].Rank() < s[j].Rank() })
}
