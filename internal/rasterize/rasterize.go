// Package rasterize converts polygon layers to rasters on a fixed grid.
package rasterize

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/vector"
)

// ErrSpatialReference is returned when the layer and grid SRIDs differ.
var ErrSpatialReference = eris.New("rasterize: spatial reference mismatch")

// CellAssignment selects which polygon value a cell receives.
type CellAssignment string

// Cell assignment rules.
const (
	// MaximumArea assigns the value of the polygon covering the largest
	// part of the cell. Ties go to the earlier feature.
	MaximumArea CellAssignment = "maximum_area"
	// CellCenter assigns the value of the first polygon containing the
	// cell centre.
	CellCenter CellAssignment = "cell_center"
	// MaximumCombinedArea sums coverage per value; ties go to the smaller
	// value.
	MaximumCombinedArea CellAssignment = "maximum_combined_area"
)

// ParseCellAssignment accepts the rule names in any case, with dashes or
// underscores.
func ParseCellAssignment(s string) (CellAssignment, error) {
	norm := CellAssignment(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch norm {
	case MaximumArea, CellCenter, MaximumCombinedArea:
		return norm, nil
	case "":
		return MaximumArea, nil
	}
	return "", eris.Errorf("rasterize: unknown cell assignment %q", s)
}

// Options configures PolygonToRaster.
type Options struct {
	Name       string         // output raster name
	Field      string         // numeric value field
	Grid       raster.Grid    // target grid
	Assignment CellAssignment // defaults to MaximumArea
}

// areaTolerance is the fraction of a cell below which two coverages are
// considered equal.
const areaTolerance = 1e-9

type candidate struct {
	value float64
	area  float64
}

// PolygonToRaster burns layer polygons into a new raster. Cells touched by
// no polygon stay no-data. Features with a null value are ignored.
func PolygonToRaster(layer *vector.Layer, opts Options) (*raster.Raster, error) {
	if layer == nil {
		return nil, eris.New("rasterize: nil layer")
	}
	if err := layer.RequireField(opts.Field); err != nil {
		return nil, eris.Wrap(err, "rasterize: value field")
	}
	if layer.SRID != 0 && opts.Grid.SRID != 0 && layer.SRID != opts.Grid.SRID {
		return nil, eris.Wrapf(ErrSpatialReference, "layer %s is SRID %d, grid is SRID %d", layer.Name, layer.SRID, opts.Grid.SRID)
	}
	assign, err := ParseCellAssignment(string(opts.Assignment))
	if err != nil {
		return nil, err
	}

	out, err := raster.New(opts.Name, opts.Grid)
	if err != nil {
		return nil, eris.Wrap(err, "rasterize: allocate output")
	}

	g := opts.Grid
	eps := areaTolerance * g.CellSize * g.CellSize
	best := make(map[int]candidate)
	combined := make(map[int]map[float64]float64)

	for i := range layer.Features {
		f := &layer.Features[i]
		v, ok, err := layer.Number(f, opts.Field)
		if err != nil {
			return nil, eris.Wrapf(err, "rasterize: %s", layer.Name)
		}
		if !ok || len(f.Geometry) == 0 {
			continue
		}

		c0, r0, c1, r1, ok := g.Span(f.Geometry.Bound())
		if !ok {
			continue
		}
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				idx := g.Index(col, row)
				switch assign {
				case CellCenter:
					if !raster.IsNoData(out.Cells[idx]) {
						continue
					}
					if planar.MultiPolygonContains(f.Geometry, g.CellCenter(col, row)) {
						out.Cells[idx] = v
					}
				case MaximumArea:
					a := coverage(f.Geometry, g.CellBound(col, row))
					if a <= eps {
						continue
					}
					if cur, seen := best[idx]; !seen || a > cur.area+eps {
						best[idx] = candidate{value: v, area: a}
					}
				case MaximumCombinedArea:
					a := coverage(f.Geometry, g.CellBound(col, row))
					if a <= eps {
						continue
					}
					m := combined[idx]
					if m == nil {
						m = make(map[float64]float64)
						combined[idx] = m
					}
					m[v] += a
				}
			}
		}
	}

	for idx, c := range best {
		out.Cells[idx] = c.value
	}
	for idx, m := range combined {
		out.Cells[idx] = pickCombined(m, eps)
	}
	return out, nil
}

func pickCombined(m map[float64]float64, eps float64) float64 {
	bestV, bestA := math.Inf(1), -1.0
	for v, a := range m {
		if a > bestA+eps || (math.Abs(a-bestA) <= eps && v < bestV) {
			bestV, bestA = v, a
		}
	}
	return bestV
}

// coverage returns the area of mp inside cell. Holes are subtracted from
// their outer ring.
func coverage(mp orb.MultiPolygon, cell orb.Bound) float64 {
	total := 0.0
	for _, p := range mp {
		if len(p) == 0 || !p.Bound().Intersects(cell) {
			continue
		}
		a := ringArea(p[0], cell)
		for _, hole := range p[1:] {
			a -= ringArea(hole, cell)
		}
		if a > 0 {
			total += a
		}
	}
	return total
}

// ringArea clips a copy of r; clip.Ring reuses its input as scratch space.
func ringArea(r orb.Ring, cell orb.Bound) float64 {
	clipped := clip.Ring(cell, r.Clone())
	if len(clipped) < 4 {
		return 0
	}
	return math.Abs(planar.Area(clipped))
}
