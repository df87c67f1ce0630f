// Package annotate builds the value attribute table of the final
// classification raster.
package annotate

import (
	"math"

	hsluv "github.com/hsluv/hsluv-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/overlay"
	"github.com/sells-group/suitability-cli/internal/raster"
)

var descriptions = map[overlay.Class]string{
	overlay.Forest:       "forest area (forest cover or steep slope)",
	overlay.Agricultural: "agricultural area (high-quality soil)",
	overlay.Developable:  "developable area (low water table)",
	overlay.BuiltUp:      "built-up area",
}

// Unclassified is the description of every value without a named class.
const Unclassified = "unclassified"

// Describe returns the label for a final class value, truncated to
// raster.DescriptionMaxLen.
func Describe(value int) string {
	d, ok := descriptions[overlay.Class(value)]
	if !ok {
		d = Unclassified
	}
	return raster.TruncateText(d, raster.DescriptionMaxLen)
}

// hues per class on the HSLuv wheel.
var hues = map[overlay.Class]float64{
	overlay.Forest:       127,
	overlay.Agricultural: 60,
	overlay.Developable:  250,
	overlay.BuiltUp:      12,
}

// Color returns a display colour for a class value. Unclassified values are
// neutral grey.
func Color(value int) string {
	h, ok := hues[overlay.Class(value)]
	if !ok {
		return hsluv.HsluvToHex(0, 0, 70)
	}
	return hsluv.HsluvToHex(h, 75, 55)
}

// Build scans every cell of final and returns one row per distinct value,
// in ascending value order, with the cell count and description.
func Build(final *raster.Raster) (raster.AttributeTable, error) {
	if final == nil {
		return raster.AttributeTable{}, eris.New("annotate: nil raster")
	}
	hist := final.Histogram()
	table := raster.AttributeTable{Raster: final.Name}
	for _, v := range final.DistinctValues() {
		if v != math.Trunc(v) {
			return raster.AttributeTable{}, eris.Errorf("annotate: non-integer class value %v", v)
		}
		iv := int(v)
		table.Rows = append(table.Rows, raster.AttributeRow{
			Value:       iv,
			Count:       hist[v],
			Description: Describe(iv),
			Color:       Color(iv),
		})
	}
	return table, nil
}
