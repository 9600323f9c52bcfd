package estimation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field aliases accepted from the French and English forms
var (
	fieldWidth     = []string{"largeur", "width"}
	fieldHeight    = []string{"hauteur", "height"}
	fieldUnit      = []string{"unite", "unit"}
	fieldSubstrate = []string{"support", "substrate"}
	fieldQuantity  = []string{"quantite", "quantity"}
	fieldFinishes  = []string{"finitions", "finishes"}
	fieldPages     = []string{"nombre_pages", "pages", "page_count"}
	fieldCopies    = []string{"exemplaires", "copies"}
	fieldPaper     = []string{"papier", "paper"}
	fieldColorMode = []string{"couleur", "color_mode"}
	fieldBinding   = []string{"reliure", "binding"}
)

var colorModes = map[string]string{
	"bw":            "bw",
	"nb":            "bw",
	"n_b":           "bw",
	"noir_et_blanc": "bw",
	"noir_blanc":    "bw",
	"mono":          "bw",
	"monochrome":    "bw",
	"color":         "color",
	"colour":        "color",
	"couleur":       "color",
	"couleurs":      "color",
	"quadri":        "color",
	"quadrichromie": "color",
}

// unitToMeters converts a length unit to meters
var unitToMeters = map[string]float64{
	"mm": 0.001,
	"cm": 0.01,
	"m":  1,
}

var accentStripper = runes.Remove(runes.In(unicode.Mn))

// optionKey folds an option name to the form used in the price table:
// lower case, no accents, underscores between words.
func optionKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, accentStripper, norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), "_")
}

// lookup returns the first alias present with a non-blank value
func (s FormSnapshot) lookup(aliases []string) (interface{}, bool) {
	for _, k := range aliases {
		v, ok := s[k]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// number reads a non-negative number. present is false for missing or
// blank fields; a present value that is not a number is an error.
func (s FormSnapshot) number(aliases []string) (value float64, present bool, err error) {
	raw, ok := s.lookup(aliases)
	if !ok {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case json.Number:
		value, err = v.Float64()
	case string:
		// French forms use a decimal comma
		value, err = strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s: %v", ErrInvalidInput, aliases[0], err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, true, fmt.Errorf("%w: %s must be a finite number", ErrInvalidInput, aliases[0])
	}
	if value < 0 {
		return 0, true, fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, aliases[0])
	}
	return value, true, nil
}

// option reads a folded option name
func (s FormSnapshot) option(aliases []string) (string, bool) {
	raw, ok := s.lookup(aliases)
	if !ok {
		return "", false
	}
	key := optionKey(fmt.Sprint(raw))
	return key, key != ""
}

// list reads a multi-select field given as an array or a comma-separated string
func (s FormSnapshot) list(aliases []string) []string {
	raw, ok := s.lookup(aliases)
	if !ok {
		return nil
	}

	var items []string
	switch v := raw.(type) {
	case []string:
		items = v
	case []interface{}:
		for _, it := range v {
			if it != nil {
				items = append(items, fmt.Sprint(it))
			}
		}
	case string:
		items = strings.Split(v, ",")
	default:
		items = []string{fmt.Sprint(v)}
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if k := optionKey(it); k != "" {
			out = append(out, k)
		}
	}
	return out
}
