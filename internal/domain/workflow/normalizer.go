package workflow

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeContext tells the normalizer which side of the shop a raw value
// comes from; it only changes the fallback and a few delivery-side tokens.
type NormalizeContext string

const (
	ContextGeneric    NormalizeContext = "generic"
	ContextProduction NormalizeContext = "production"
	ContextDelivery   NormalizeContext = "delivery"
)

// ParseNormalizeContext maps unknown values to ContextGeneric
func ParseNormalizeContext(s string) NormalizeContext {
	switch NormalizeContext(strings.ToLower(strings.TrimSpace(s))) {
	case ContextProduction:
		return ContextProduction
	case ContextDelivery:
		return ContextDelivery
	default:
		return ContextGeneric
	}
}

// Fallback is the status returned when nothing in the input is recognised
func (c NormalizeContext) Fallback() Status {
	if c == ContextProduction {
		return StatusEnCours
	}
	return StatusNouveau
}

// folded is a lower-cased, accent-free, single-spaced view of a raw value
type folded struct {
	text  string
	words map[string]bool
}

func (f folded) has(subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(f.text, s) {
			return true
		}
	}
	return false
}

func (f folded) word(ws ...string) bool {
	for _, w := range ws {
		if f.words[w] {
			return true
		}
	}
	return false
}

func (f folded) slug() string {
	return strings.ReplaceAll(f.text, " ", "_")
}

type rule struct {
	status Status
	match  func(f folded) bool
}

// rules are evaluated top to bottom, first match wins. Anything mentioning
// "imprim" without being an in-progress print collapses to termine.
var rules = []rule{
	{StatusARevoir, func(f folded) bool {
		return f.has("revoir", "a corriger", "correction") || f.word("review", "rejected")
	}},
	{StatusEchecLivraison, func(f folded) bool {
		return f.has("echec") || f.word("failed", "failure", "undelivered")
	}},
	{StatusRetour, func(f folded) bool {
		return f.has("retour") || f.word("return", "returned")
	}},
	{StatusReporte, func(f folded) bool {
		return f.has("report", "postpon") || f.word("delayed", "rescheduled")
	}},
	{StatusPretLivraison, func(f folded) bool {
		return (f.has("pret") && f.has("livraison")) || f.has("ready for delivery", "ready to ship")
	}},
	{StatusLivre, func(f folded) bool {
		return f.word("livre", "livree", "delivered")
	}},
	{StatusEnLivraison, func(f folded) bool {
		return (f.has("livraison") && !f.has("pret")) || f.has("in delivery", "out for delivery") || f.word("delivering", "shipping", "shipped")
	}},
	{StatusPretImpression, func(f folded) bool {
		return (f.has("pret") && f.has("impr")) || f.has("ready to print", "ready for print")
	}},
	{StatusEnImpression, func(f folded) bool {
		return f.has("en impression", "en cours d impression", "impression en cours") || f.word("printing")
	}},
	{StatusTermine, func(f folded) bool {
		return f.has("imprim") || f.word("printed")
	}},
	{StatusTermine, func(f folded) bool {
		return f.has("termin") || f.word("fini", "finie", "finished", "done", "complete", "completed")
	}},
	{StatusEnCours, func(f folded) bool {
		return f.has("en cours", "encours", "in progress") || f.word("progress", "processing", "wip")
	}},
	{StatusNouveau, func(f folded) bool {
		return f.has("nouveau", "nouvelle") || f.word("new", "draft", "brouillon", "created")
	}},
}

// deliveryRules run after the generic rules when the value comes from the
// delivery side, where "ready" means handed over by production.
var deliveryRules = []rule{
	{StatusTermine, func(f folded) bool {
		return f.has("a livrer") || f.word("pret", "prete", "ready", "deliverable")
	}},
}

var accentStripper = runes.Remove(runes.In(unicode.Mn))

func fold(raw string) folded {
	s := strings.ToLower(strings.TrimSpace(raw))
	t := transform.Chain(norm.NFD, accentStripper, norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	text := strings.TrimRight(b.String(), " ")

	words := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		words[w] = true
	}
	return folded{text: text, words: words}
}

// Resolve maps a raw upstream status to a canonical one. recognized is false
// when no rule matched and the context fallback was returned.
func Resolve(raw string, ctx NormalizeContext) (s Status, recognized bool) {
	f := fold(raw)
	if f.text == "" {
		return ctx.Fallback(), false
	}

	if exact := Status(f.slug()); exact.IsValid() {
		return exact, true
	}

	for _, r := range rules {
		if r.match(f) {
			return r.status, true
		}
	}

	if ctx == ContextDelivery {
		for _, r := range deliveryRules {
			if r.match(f) {
				return r.status, true
			}
		}
	}

	return ctx.Fallback(), false
}

// Normalize maps any raw status to a canonical one and never fails
func Normalize(raw string, ctx NormalizeContext) Status {
	s, _ := Resolve(raw, ctx)
	return s
}

// NormalizePtr treats a nil value as empty input
func NormalizePtr(raw *string, ctx NormalizeContext) Status {
	if raw == nil {
		return ctx.Fallback()
	}
	return Normalize(*raw, ctx)
}
