package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Table(t *testing.T) {
	tests := []struct {
		raw  string
		ctx  NormalizeContext
		want Status
	}{
		{"Prêt pour Livraison", ContextGeneric, StatusPretLivraison},
		{"TERMINE", ContextProduction, StatusTermine},
		{"  en_cours  ", ContextGeneric, StatusEnCours},
		{"En cours", ContextGeneric, StatusEnCours},
		{"A revoir", ContextGeneric, StatusARevoir},
		{"à revoir (client)", ContextGeneric, StatusARevoir},
		{"pret_impression", ContextProduction, StatusPretImpression},
		{"Prêt pour impression", ContextProduction, StatusPretImpression},
		{"en cours d'impression", ContextProduction, StatusEnImpression},
		{"En impression", ContextProduction, StatusEnImpression},
		{"Imprimé", ContextProduction, StatusTermine},
		{"printed", ContextProduction, StatusTermine},
		{"Terminé", ContextGeneric, StatusTermine},
		{"finished", ContextGeneric, StatusTermine},
		{"en livraison", ContextDelivery, StatusEnLivraison},
		{"Livraison", ContextDelivery, StatusEnLivraison},
		{"out for delivery", ContextDelivery, StatusEnLivraison},
		{"Livré", ContextDelivery, StatusLivre},
		{"delivered", ContextDelivery, StatusLivre},
		{"Retour client", ContextDelivery, StatusRetour},
		{"Échec de livraison", ContextDelivery, StatusEchecLivraison},
		{"echec_livraison", ContextDelivery, StatusEchecLivraison},
		{"Livraison reportée", ContextDelivery, StatusReporte},
		{"REPORTE", ContextDelivery, StatusReporte},
		{"nouveau", ContextGeneric, StatusNouveau},
		{"New", ContextGeneric, StatusNouveau},
		{"in progress", ContextProduction, StatusEnCours},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw, tt.ctx))
		})
	}
}

func TestNormalize_DeliveryReadyTokens(t *testing.T) {
	assert.Equal(t, StatusTermine, Normalize("prêt", ContextDelivery))
	assert.Equal(t, StatusTermine, Normalize("ready", ContextDelivery))
	assert.Equal(t, StatusTermine, Normalize("à livrer", ContextDelivery))

	// outside the delivery context "ready" alone means nothing
	assert.Equal(t, StatusNouveau, Normalize("ready", ContextGeneric))
	assert.Equal(t, StatusEnCours, Normalize("ready", ContextProduction))
}

func TestNormalize_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ctx  NormalizeContext
		want Status
	}{
		{"empty generic", "", ContextGeneric, StatusNouveau},
		{"empty production", "", ContextProduction, StatusEnCours},
		{"empty delivery", "", ContextDelivery, StatusNouveau},
		{"whitespace", "   \t\n", ContextProduction, StatusEnCours},
		{"unknown production", "zzz-legacy-42", ContextProduction, StatusEnCours},
		{"unknown generic", "zzz-legacy-42", ContextGeneric, StatusNouveau},
		{"punctuation only", "!!!---???", ContextGeneric, StatusNouveau},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, recognized := Resolve(tt.raw, tt.ctx)
			assert.Equal(t, tt.want, s)
			assert.False(t, recognized)
		})
	}
}

func TestNormalizePtr_Nil(t *testing.T) {
	assert.Equal(t, StatusEnCours, NormalizePtr(nil, ContextProduction))
	assert.Equal(t, StatusNouveau, NormalizePtr(nil, ContextGeneric))

	raw := "Livré"
	assert.Equal(t, StatusLivre, NormalizePtr(&raw, ContextDelivery))
}

func TestNormalize_Totality(t *testing.T) {
	inputs := []string{
		"",
		" ",
		"\x00\x01\x02",
		"\xff\xfe\xfd",
		string([]byte{0xe2, 0x28, 0xa1}),
		strings.Repeat("é", 10000),
		strings.Repeat("livraison ", 2000),
		"🖨️ imprimé ✅",
		"ÉCHEC",
		"null",
		"undefined",
		"<script>alert(1)</script>",
		"'; DROP TABLE dossiers; --",
		"́́́",
	}
	contexts := []NormalizeContext{ContextGeneric, ContextProduction, ContextDelivery, NormalizeContext("bogus")}

	for _, in := range inputs {
		for _, ctx := range contexts {
			assert.NotPanics(t, func() {
				got := Normalize(in, ctx)
				assert.True(t, got.IsValid(), "Normalize(%q, %s) = %q", in, ctx, got)
			})
		}
	}
}

func TestNormalize_LabelIdempotence(t *testing.T) {
	contexts := []NormalizeContext{ContextGeneric, ContextProduction, ContextDelivery}
	for _, s := range DisplayOrder() {
		for _, ctx := range contexts {
			assert.Equal(t, s, Normalize(s.Label(), ctx), "label %q in %s", s.Label(), ctx)
			assert.Equal(t, s, Normalize(s.String(), ctx), "slug %q in %s", s, ctx)
			assert.Equal(t, s, Normalize(string(Normalize(s.Label(), ctx)), ctx))
		}
	}
}

func TestParseNormalizeContext(t *testing.T) {
	assert.Equal(t, ContextDelivery, ParseNormalizeContext("Delivery"))
	assert.Equal(t, ContextProduction, ParseNormalizeContext(" production "))
	assert.Equal(t, ContextGeneric, ParseNormalizeContext("other"))
	assert.Equal(t, ContextGeneric, ParseNormalizeContext(""))
}
