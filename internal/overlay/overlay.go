// Package overlay merges criterion flags into the final land-use class by
// strict priority.
package overlay

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/raster"
)

// Class is a final classification value.
type Class int

// Final classes.
const (
	Unclassified Class = 0
	Forest       Class = 1
	Agricultural Class = 2
	Developable  Class = 3
	BuiltUp      Class = 4
)

// Flags holds the criterion rasters the overlay consumes. All must be
// aligned to the same grid.
type Flags struct {
	BuiltUp     *raster.Raster
	Forest      *raster.Raster
	Soil        *raster.Raster
	Groundwater *raster.Raster
}

// Resolve applies the priority order to one cell: built-up, then forest,
// then agricultural soil, then developable groundwater. No-data never
// matches.
func Resolve(builtUp, forest, soil, groundwater float64) Class {
	switch {
	case builtUp == 1:
		return BuiltUp
	case forest == 1:
		return Forest
	case soil == 1:
		return Agricultural
	case groundwater == 1:
		return Developable
	default:
		return Unclassified
	}
}

// Combine builds the final classification raster.
func Combine(name string, f Flags) (*raster.Raster, error) {
	named := map[string]*raster.Raster{
		"built-up":    f.BuiltUp,
		"forest":      f.Forest,
		"soil":        f.Soil,
		"groundwater": f.Groundwater,
	}
	for k, r := range named {
		if r == nil {
			return nil, eris.Errorf("overlay: missing %s flag", k)
		}
	}
	if err := raster.CheckAligned(f.BuiltUp.Grid, f.Forest.Grid, f.Soil.Grid, f.Groundwater.Grid); err != nil {
		return nil, eris.Wrap(err, "overlay: combine")
	}

	out := f.BuiltUp.Map(name, func(float64) float64 { return float64(Unclassified) })
	for i := range out.Cells {
		out.Cells[i] = float64(Resolve(f.BuiltUp.Cells[i], f.Forest.Cells[i], f.Soil.Cells[i], f.Groundwater.Cells[i]))
	}
	return out, nil
}
