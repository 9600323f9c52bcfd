package estimation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Finish is the price of one Roland finishing option
type Finish struct {
	PerUnit        float64 `yaml:"per_unit"`
	PerSquareMeter float64 `yaml:"per_square_meter"`
}

// RolandPrices prices large-format jobs by area
type RolandPrices struct {
	Substrates       map[string]float64 `yaml:"substrates"`
	Finishes         map[string]Finish  `yaml:"finishes"`
	DefaultSubstrate string             `yaml:"default_substrate"`
	MinimumCharge    float64            `yaml:"minimum_charge"`
}

// XeroxPrices prices digital print jobs by page
type XeroxPrices struct {
	PerPage          map[string]float64 `yaml:"per_page"`
	Papers           map[string]float64 `yaml:"papers"`
	Bindings         map[string]float64 `yaml:"bindings"`
	Finishes         map[string]float64 `yaml:"finishes"`
	DefaultPaper     string             `yaml:"default_paper"`
	DefaultColorMode string             `yaml:"default_color_mode"`
	MinimumCharge    float64            `yaml:"minimum_charge"`
}

// PriceTable holds every rate the calculator uses
type PriceTable struct {
	Roland RolandPrices `yaml:"roland"`
	Xerox  XeroxPrices  `yaml:"xerox"`
}

// DefaultPriceTable returns the built-in rates in euros
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Roland: RolandPrices{
			Substrates: map[string]float64{
				"bache":        18,
				"vinyle":       22,
				"papier":       12,
				"toile":        30,
				"microperfore": 25,
				"dibond":       45,
				"forex":        35,
			},
			Finishes: map[string]Finish{
				"oeillets":      {PerUnit: 2.5},
				"ourlet":        {PerUnit: 1.5},
				"lamination":    {PerSquareMeter: 6},
				"decoupe":       {PerSquareMeter: 4},
				"contrecollage": {PerSquareMeter: 9},
			},
			DefaultSubstrate: "bache",
			MinimumCharge:    15,
		},
		Xerox: XeroxPrices{
			PerPage: map[string]float64{
				"bw":    0.05,
				"color": 0.25,
			},
			Papers: map[string]float64{
				"standard": 1.0,
				"couche":   1.3,
				"recycle":  1.1,
				"cartonne": 1.8,
			},
			Bindings: map[string]float64{
				"none":          0,
				"agrafage":      0.5,
				"spirale":       3,
				"thermocollage": 4,
			},
			Finishes: map[string]float64{
				"pliage":         0.2,
				"plastification": 1.5,
				"rainage":        0.3,
				"perforation":    0.1,
			},
			DefaultPaper:     "standard",
			DefaultColorMode: "bw",
			MinimumCharge:    5,
		},
	}
}

// Validate checks the table is usable
func (t PriceTable) Validate() error {
	for name, rate := range t.Roland.Substrates {
		if rate < 0 {
			return fmt.Errorf("roland substrate %s: negative rate", name)
		}
	}
	if _, ok := t.Roland.Substrates[t.Roland.DefaultSubstrate]; !ok {
		return fmt.Errorf("roland default substrate %q is not priced", t.Roland.DefaultSubstrate)
	}
	for name, f := range t.Roland.Finishes {
		if f.PerUnit < 0 || f.PerSquareMeter < 0 {
			return fmt.Errorf("roland finish %s: negative rate", name)
		}
	}
	for name, rate := range t.Xerox.PerPage {
		if rate < 0 {
			return fmt.Errorf("xerox color mode %s: negative rate", name)
		}
	}
	for name, m := range t.Xerox.Papers {
		if m <= 0 {
			return fmt.Errorf("xerox paper %s: multiplier must be positive", name)
		}
	}
	if _, ok := t.Xerox.Papers[t.Xerox.DefaultPaper]; !ok {
		return fmt.Errorf("xerox default paper %q is not priced", t.Xerox.DefaultPaper)
	}
	if _, ok := t.Xerox.PerPage[t.Xerox.DefaultColorMode]; !ok {
		return fmt.Errorf("xerox default color mode %q is not priced", t.Xerox.DefaultColorMode)
	}
	if t.Roland.MinimumCharge < 0 || t.Xerox.MinimumCharge < 0 {
		return fmt.Errorf("minimum charge must not be negative")
	}
	return nil
}

// LoadPriceTable overlays the YAML file at path on the built-in rates. An
// empty path yields the defaults.
func LoadPriceTable(path string) (PriceTable, error) {
	table := DefaultPriceTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PriceTable{}, fmt.Errorf("failed to read price table %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return PriceTable{}, fmt.Errorf("failed to parse price table %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return PriceTable{}, fmt.Errorf("price table %s: %w", path, err)
	}
	return table, nil
}
