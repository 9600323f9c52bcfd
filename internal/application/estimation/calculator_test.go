package estimation

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

func estimate(t *testing.T, machine domainwf.MachineType, s FormSnapshot) (EstimationResult, error) {
	t.Helper()
	c := NewCalculator(DefaultPriceTable())
	return c.Estimate(context.Background(), EstimationRequest{Snapshot: s, Machine: machine, RequestID: 1})
}

func TestCalculator_MissingHeightIsPartial(t *testing.T) {
	res, err := estimate(t, domainwf.MachineRoland, FormSnapshot{
		"largeur":   100,
		"hauteur":   "",
		"substrate": "bache",
	})

	require.NoError(t, err)
	assert.True(t, res.IsPartial)
	assert.Equal(t, 0.0, res.Value)
	assert.Contains(t, res.Warnings, "hauteur manquante")
}

func TestCalculator_Roland(t *testing.T) {
	tests := []struct {
		name    string
		form    FormSnapshot
		want    float64
		partial bool
	}{
		{
			name: "banner in cm",
			form: FormSnapshot{"largeur": 200, "hauteur": 100, "support": "bâche", "quantite": 2},
			// 2 m² * 18 * 2
			want: 72,
		},
		{
			name: "meters and french decimal comma",
			form: FormSnapshot{"width": "1,5", "height": "2", "unit": "m", "substrate": "Vinyle", "quantity": "1"},
			// 3 m² * 22
			want: 66,
		},
		{
			name: "finishes per unit and per area",
			form: FormSnapshot{
				"largeur": 100, "hauteur": 100, "unite": "cm", "support": "bache", "quantite": 3,
				"finitions": []interface{}{"Oeillets", "lamination"},
			},
			// (1*18 + 2.5 + 6*1) * 3
			want: 79.5,
		},
		{
			name: "minimum charge",
			form: FormSnapshot{"largeur": 10, "hauteur": 10, "support": "papier", "quantite": 1},
			want: 15,
		},
		{
			name:    "missing quantity assumes one",
			form:    FormSnapshot{"largeur": 100, "hauteur": 200, "support": "bache"},
			want:    36,
			partial: true,
		},
		{
			name:    "missing substrate uses default",
			form:    FormSnapshot{"largeur": 100, "hauteur": 100, "quantite": 1},
			want:    18,
			partial: true,
		},
		{
			name:    "no dimensions at all",
			form:    FormSnapshot{},
			want:    0,
			partial: true,
		},
		{
			name:    "missing width",
			form:    FormSnapshot{"hauteur": 120, "support": "toile", "quantite": 1},
			want:    0,
			partial: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := estimate(t, domainwf.MachineRoland, tt.form)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Value, 0.001)
			assert.Equal(t, tt.partial, res.IsPartial)
			assert.NotNil(t, res.Warnings)
			assert.False(t, res.FromCache)
			assert.NotZero(t, res.ComputedAtMs)
		})
	}
}

func TestCalculator_Xerox(t *testing.T) {
	tests := []struct {
		name    string
		form    FormSnapshot
		want    float64
		partial bool
	}{
		{
			name: "colour brochure",
			form: FormSnapshot{
				"nombre_pages": 20, "exemplaires": 50, "papier": "couché", "couleur": "quadri",
				"reliure": "agrafage",
			},
			// 20*50*0.25*1.3 + 0.5*50
			want: 350,
		},
		{
			name: "black and white with finishes",
			form: FormSnapshot{
				"pages": "100", "copies": 10, "paper": "standard", "color_mode": "N&B",
				"binding": "spirale", "finishes": "pliage, perforation",
			},
			// 100*10*0.05 + (3+0.2+0.1)*10
			want: 83,
		},
		{
			name: "minimum charge",
			form: FormSnapshot{"pages": 2, "copies": 1, "paper": "standard", "color_mode": "bw"},
			want: 5,
		},
		{
			name:    "missing page count",
			form:    FormSnapshot{"exemplaires": 10, "papier": "standard", "couleur": "bw"},
			want:    0,
			partial: true,
		},
		{
			name:    "missing copies",
			form:    FormSnapshot{"pages": 200, "paper": "standard", "color_mode": "color"},
			want:    50,
			partial: true,
		},
		{
			name:    "defaults for paper and colour",
			form:    FormSnapshot{"pages": 200, "copies": 1},
			want:    10,
			partial: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := estimate(t, domainwf.MachineXerox, tt.form)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Value, 0.001)
			assert.Equal(t, tt.partial, res.IsPartial)
		})
	}
}

func TestCalculator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		machine domainwf.MachineType
		form    FormSnapshot
		want    error
	}{
		{"unknown machine", domainwf.MachineType("epson"), FormSnapshot{}, ErrUnknownMachine},
		{"negative width", domainwf.MachineRoland, FormSnapshot{"largeur": -1, "hauteur": 10}, ErrInvalidInput},
		{"unparseable height", domainwf.MachineRoland, FormSnapshot{"largeur": 1, "hauteur": "abc"}, ErrInvalidInput},
		{"NaN width", domainwf.MachineRoland, FormSnapshot{"largeur": "NaN", "hauteur": "10", "support": "bache", "quantite": 1}, ErrInvalidInput},
		{"Inf width", domainwf.MachineRoland, FormSnapshot{"largeur": "Inf", "hauteur": "10", "support": "bache", "quantite": 1}, ErrInvalidInput},
		{"infinity height", domainwf.MachineRoland, FormSnapshot{"largeur": 1, "hauteur": "infinity"}, ErrInvalidInput},
		{"float infinity", domainwf.MachineRoland, FormSnapshot{"largeur": math.Inf(1), "hauteur": 1}, ErrInvalidInput},
		{"area overflow", domainwf.MachineRoland, FormSnapshot{"largeur": "1e200", "hauteur": "1e200", "support": "bache", "quantite": 1}, ErrInvalidInput},
		{"NaN pages", domainwf.MachineXerox, FormSnapshot{"pages": "NaN"}, ErrInvalidInput},
		{"page overflow", domainwf.MachineXerox, FormSnapshot{"pages": 1e300, "copies": 1e300}, ErrInvalidInput},
		{"unknown substrate", domainwf.MachineRoland, FormSnapshot{"largeur": 1, "hauteur": 1, "support": "marbre"}, ErrInvalidInput},
		{"unknown unit", domainwf.MachineRoland, FormSnapshot{"largeur": 1, "hauteur": 1, "unite": "inch"}, ErrInvalidInput},
		{"unknown finish", domainwf.MachineRoland, FormSnapshot{"finitions": []string{"dorure"}}, ErrInvalidInput},
		{"fractional pages", domainwf.MachineXerox, FormSnapshot{"pages": 2.5}, ErrInvalidInput},
		{"unknown paper", domainwf.MachineXerox, FormSnapshot{"pages": 2, "papier": "papyrus"}, ErrInvalidInput},
		{"unknown binding", domainwf.MachineXerox, FormSnapshot{"pages": 2, "reliure": "cuir"}, ErrInvalidInput},
		{"unknown colour mode", domainwf.MachineXerox, FormSnapshot{"pages": 2, "couleur": "sepia"}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := estimate(t, tt.machine, tt.form)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCalculator_NonFiniteInputNeverEncodesAsResult(t *testing.T) {
	for _, raw := range []string{"NaN", "-Inf", "+infinity", "1e400"} {
		res, err := estimate(t, domainwf.MachineRoland, FormSnapshot{"largeur": raw, "hauteur": "10"})
		require.ErrorIs(t, err, ErrInvalidInput, raw)
		assert.Zero(t, res.Value)
	}

	res, err := estimate(t, domainwf.MachineRoland, FormSnapshot{"largeur": "1e150", "hauteur": "1e3", "support": "bache", "quantite": 1})
	require.NoError(t, err)
	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestCalculator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCalculator(DefaultPriceTable()).Estimate(ctx, EstimationRequest{Machine: domainwf.MachineRoland})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadPriceTable(t *testing.T) {
	table, err := LoadPriceTable("")
	require.NoError(t, err)
	assert.Equal(t, 18.0, table.Roland.Substrates["bache"])

	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roland:
  substrates:
    bache: 20
    adhesif: 27
  minimum_charge: 10
`), 0o644))

	table, err = LoadPriceTable(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, table.Roland.Substrates["bache"])
	assert.Equal(t, 27.0, table.Roland.Substrates["adhesif"])
	assert.Equal(t, 22.0, table.Roland.Substrates["vinyle"], "unlisted rates keep their default")
	assert.Equal(t, 10.0, table.Roland.MinimumCharge)
	assert.Equal(t, 0.25, table.Xerox.PerPage["color"])

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("xerox:\n  default_paper: papyrus\n"), 0o644))
	_, err = LoadPriceTable(bad)
	assert.Error(t, err)

	_, err = LoadPriceTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
