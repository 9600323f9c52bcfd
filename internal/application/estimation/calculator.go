package estimation

import (
	"context"
	"fmt"
	"math"
	"time"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Calculator prices form snapshots from a price table
type Calculator struct {
	prices PriceTable
	now    func() time.Time
}

// NewCalculator creates a calculator over the given price table
func NewCalculator(prices PriceTable) *Calculator {
	return &Calculator{prices: prices, now: time.Now}
}

// Estimate prices the snapshot for its machine. Missing required fields
// give a partial result; present but unusable fields give ErrInvalidInput.
func (c *Calculator) Estimate(ctx context.Context, req EstimationRequest) (EstimationResult, error) {
	if err := ctx.Err(); err != nil {
		return EstimationResult{}, err
	}

	var (
		res EstimationResult
		err error
	)
	switch req.Machine {
	case domainwf.MachineRoland:
		res, err = c.roland(req.Snapshot)
	case domainwf.MachineXerox:
		res, err = c.xerox(req.Snapshot)
	default:
		return EstimationResult{}, fmt.Errorf("%w: %q", ErrUnknownMachine, req.Machine)
	}
	if err != nil {
		return EstimationResult{}, err
	}

	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	res.Value = roundCents(res.Value)
	if err := checkFinite(res.Value); err != nil {
		return EstimationResult{}, err
	}
	res.ComputedAtMs = c.now().UnixMilli()
	return res, nil
}

func (c *Calculator) roland(s FormSnapshot) (EstimationResult, error) {
	p := c.prices.Roland
	var res EstimationResult

	width, hasWidth, err := s.number(fieldWidth)
	if err != nil {
		return res, err
	}
	height, hasHeight, err := s.number(fieldHeight)
	if err != nil {
		return res, err
	}

	factor := unitToMeters["cm"]
	if unit, ok := s.option(fieldUnit); ok {
		f, known := unitToMeters[unit]
		if !known {
			return res, fmt.Errorf("%w: unknown unit %q", ErrInvalidInput, unit)
		}
		factor = f
	}

	substrate, hasSubstrate := s.option(fieldSubstrate)
	rate, known := p.Substrates[substrate]
	if hasSubstrate && !known {
		return res, fmt.Errorf("%w: unknown substrate %q", ErrInvalidInput, substrate)
	}
	if !hasSubstrate {
		rate = p.Substrates[p.DefaultSubstrate]
		res.warn(fmt.Sprintf("support manquant, tarif %s appliqué", p.DefaultSubstrate))
	}

	quantity, hasQuantity, err := s.number(fieldQuantity)
	if err != nil {
		return res, err
	}
	if !hasQuantity {
		quantity = 1
		res.warn("quantité manquante, 1 exemplaire supposé")
	}

	finishes := s.list(fieldFinishes)
	for _, f := range finishes {
		if _, ok := p.Finishes[f]; !ok {
			return res, fmt.Errorf("%w: unknown finish %q", ErrInvalidInput, f)
		}
	}

	if !hasWidth {
		res.warn("largeur manquante")
	}
	if !hasHeight {
		res.warn("hauteur manquante")
	}
	if !hasWidth || !hasHeight {
		res.IsPartial = true
		return res, nil
	}

	area := width * factor * height * factor
	value := area * rate * quantity
	for _, f := range finishes {
		fp := p.Finishes[f]
		value += (fp.PerUnit + fp.PerSquareMeter*area) * quantity
	}
	if err := checkFinite(value); err != nil {
		return res, err
	}
	if value > 0 && value < p.MinimumCharge {
		value = p.MinimumCharge
		res.warn("minimum de facturation appliqué")
	}

	res.Value = value
	res.IsPartial = !hasSubstrate || !hasQuantity
	return res, nil
}

func (c *Calculator) xerox(s FormSnapshot) (EstimationResult, error) {
	p := c.prices.Xerox
	var res EstimationResult

	pages, hasPages, err := s.number(fieldPages)
	if err != nil {
		return res, err
	}
	if hasPages && pages != math.Trunc(pages) {
		return res, fmt.Errorf("%w: page count must be whole", ErrInvalidInput)
	}

	copies, hasCopies, err := s.number(fieldCopies)
	if err != nil {
		return res, err
	}
	if !hasCopies {
		copies = 1
		res.warn("nombre d'exemplaires manquant, 1 exemplaire supposé")
	}

	paper, hasPaper := s.option(fieldPaper)
	multiplier, known := p.Papers[paper]
	if hasPaper && !known {
		return res, fmt.Errorf("%w: unknown paper %q", ErrInvalidInput, paper)
	}
	if !hasPaper {
		multiplier = p.Papers[p.DefaultPaper]
		res.warn(fmt.Sprintf("papier manquant, %s supposé", p.DefaultPaper))
	}

	mode := p.DefaultColorMode
	rawMode, hasMode := s.option(fieldColorMode)
	if hasMode {
		m, ok := colorModes[rawMode]
		if !ok {
			if _, priced := p.PerPage[rawMode]; !priced {
				return res, fmt.Errorf("%w: unknown color mode %q", ErrInvalidInput, rawMode)
			}
			m = rawMode
		}
		mode = m
	} else {
		res.warn("mode couleur manquant, noir et blanc supposé")
	}
	perPage, ok := p.PerPage[mode]
	if !ok {
		return res, fmt.Errorf("%w: color mode %q is not priced", ErrInvalidInput, mode)
	}

	binding := 0.0
	if b, ok := s.option(fieldBinding); ok {
		price, known := p.Bindings[b]
		if !known {
			return res, fmt.Errorf("%w: unknown binding %q", ErrInvalidInput, b)
		}
		binding = price
	}

	finishing := 0.0
	for _, f := range s.list(fieldFinishes) {
		price, known := p.Finishes[f]
		if !known {
			return res, fmt.Errorf("%w: unknown finish %q", ErrInvalidInput, f)
		}
		finishing += price
	}

	if !hasPages {
		res.warn("nombre de pages manquant")
		res.IsPartial = true
		return res, nil
	}

	value := pages*copies*perPage*multiplier + (binding+finishing)*copies
	if err := checkFinite(value); err != nil {
		return res, err
	}
	if value > 0 && value < p.MinimumCharge {
		value = p.MinimumCharge
		res.warn("minimum de facturation appliqué")
	}

	res.Value = value
	res.IsPartial = !hasCopies || !hasPaper || !hasMode
	return res, nil
}

func (r *EstimationResult) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// checkFinite rejects quotes that overflowed float64
func checkFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: quote out of range", ErrInvalidInput)
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
