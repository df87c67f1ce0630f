package criteria

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/suitability-cli/internal/vector"
)

// DefaultHighQualityLabel is the soil category protected as high-value
// agricultural land.
const DefaultHighQualityLabel = "Gleby Wysokiej Jakosci"

// DeriveSoilClass adds an integer field target to the soil layer holding
// SoilHighQuality where source equals label and SoilOther everywhere else.
// Labels are compared after NFC normalisation and whitespace trimming. An
// existing target field is recalculated.
func DeriveSoilClass(layer *vector.Layer, source, target, label string) error {
	if layer == nil {
		return eris.New("criteria: nil soil layer")
	}
	if err := layer.RequireField(source); err != nil {
		return eris.Wrap(err, "criteria: soil category field")
	}
	if target == "" {
		return eris.New("criteria: empty derived soil field name")
	}
	want := normalizeLabel(label)

	layer.AddField(target, vector.FieldInteger)
	err := layer.CalculateField(target, func(f *vector.Feature) (any, error) {
		s, err := layer.Text(f, source)
		if err != nil {
			return nil, err
		}
		if normalizeLabel(s) == want {
			return int64(SoilHighQuality), nil
		}
		return int64(SoilOther), nil
	})
	return eris.Wrap(err, "criteria: derive soil class")
}

func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
