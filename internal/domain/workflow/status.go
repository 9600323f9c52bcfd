package workflow

import "fmt"

// Status is the canonical lifecycle state of a dossier
type Status string

const (
	StatusNouveau        Status = "nouveau"
	StatusEnCours        Status = "en_cours"
	StatusARevoir        Status = "a_revoir"
	StatusPretImpression Status = "pret_impression"
	StatusEnImpression   Status = "en_impression"
	StatusTermine        Status = "termine"
	StatusPretLivraison  Status = "pret_livraison"
	StatusEnLivraison    Status = "en_livraison"
	StatusLivre          Status = "livre"
	StatusRetour         Status = "retour"
	StatusEchecLivraison Status = "echec_livraison"
	StatusReporte        Status = "reporte"
)

// displayOrder follows the physical sequence of the shop floor, not the
// lexical order of the values.
var displayOrder = []Status{
	StatusNouveau,
	StatusEnCours,
	StatusARevoir,
	StatusPretImpression,
	StatusEnImpression,
	StatusTermine,
	StatusPretLivraison,
	StatusEnLivraison,
	StatusLivre,
	StatusRetour,
	StatusEchecLivraison,
	StatusReporte,
}

var labels = map[Status]string{
	StatusNouveau:        "Nouveau",
	StatusEnCours:        "En cours",
	StatusARevoir:        "À revoir",
	StatusPretImpression: "Prêt impression",
	StatusEnImpression:   "En impression",
	StatusTermine:        "Terminé",
	StatusPretLivraison:  "Prêt livraison",
	StatusEnLivraison:    "En livraison",
	StatusLivre:          "Livré",
	StatusRetour:         "Retour",
	StatusEchecLivraison: "Échec livraison",
	StatusReporte:        "Reporté",
}

var rank = func() map[Status]int {
	m := make(map[Status]int, len(displayOrder))
	for i, s := range displayOrder {
		m[s] = i
	}
	return m
}()

// DisplayOrder returns every status in workflow order
func DisplayOrder() []Status {
	return append([]Status(nil), displayOrder...)
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the canonical values
func (s Status) IsValid() bool {
	_, ok := rank[s]
	return ok
}

// IsTerminal returns true for statuses with no way out of them
func (s Status) IsTerminal() bool {
	return s == StatusLivre
}

// Label returns the French display string for the status
func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Rank returns the position of the status in DisplayOrder, or -1
func (s Status) Rank() int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// ParseStatus accepts a canonical slug or its exact label.
// Use Normalize for free-form upstream values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if s.IsValid() {
		return s, nil
	}
	for st, l := range labels {
		if l == raw {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
}
