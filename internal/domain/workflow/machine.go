package workflow

// StateMachine tracks one dossier's position in the master graph
type StateMachine interface {
	// State returns the current state
	State() Status

	// CanTransitionTo returns true if an edge to the target exists
	CanTransitionTo(to Status) bool

	// TransitionTo moves to the target if the edge exists and its guard passes
	TransitionTo(in GuardInput, to Status) error

	// PermittedTargets returns all states reachable from the current state
	PermittedTargets() []Status
}

// MachineAssigned requires the dossier to have a printer assignment
var MachineAssigned = Guard{
	Name: "machine assignment required",
	Check: func(in GuardInput) bool {
		return in.Machine != nil && in.Machine.IsValid()
	},
}

// MasterGraph builds the role-independent transition graph. It encodes the
// physical constraints of the shop: nothing jumps from intake to delivered,
// printing starts only from en_cours or pret_impression, and livre is final.
func MasterGraph() *Graph {
	b := NewBuilder()

	b.Configure(StatusNouveau).
		Permit(StatusEnCours).
		Permit(StatusARevoir)

	b.Configure(StatusEnCours).
		Permit(StatusARevoir).
		Permit(StatusPretImpression).
		PermitIf(StatusEnImpression, MachineAssigned)

	b.Configure(StatusARevoir).
		Permit(StatusNouveau).
		Permit(StatusEnCours)

	b.Configure(StatusPretImpression).
		PermitIf(StatusEnImpression, MachineAssigned).
		Permit(StatusARevoir)

	b.Configure(StatusEnImpression).
		Permit(StatusTermine)

	b.Configure(StatusTermine).
		Permit(StatusPretLivraison).
		Permit(StatusEnLivraison)

	b.Configure(StatusPretLivraison).
		Permit(StatusEnLivraison)

	b.Configure(StatusEnLivraison).
		Permit(StatusLivre).
		Permit(StatusRetour).
		Permit(StatusEchecLivraison).
		Permit(StatusReporte)

	// Failed or postponed runs go back out on a later round.
	b.Configure(StatusRetour).Permit(StatusEnLivraison)
	b.Configure(StatusEchecLivraison).Permit(StatusEnLivraison)
	b.Configure(StatusReporte).Permit(StatusEnLivraison)

	// livre has no outgoing edges.

	return b.Build()
}
