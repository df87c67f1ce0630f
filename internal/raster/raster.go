package raster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// NoData marks a cell without a defined value.
var NoData = math.NaN()

// IsNoData reports whether v is the no-data marker.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Raster is a named single-band grid of cell values in row-major order.
type Raster struct {
	Name  string
	Grid  Grid
	Cells []float64
}

// New allocates a raster with every cell set to no-data.
func New(name string, g Grid) (*Raster, error) {
	if err := g.Validate(); err != nil {
		return nil, eris.Wrapf(err, "raster: new %s", name)
	}
	cells := make([]float64, g.Len())
	for i := range cells {
		cells[i] = NoData
	}
	return &Raster{Name: name, Grid: g, Cells: cells}, nil
}

// FromRows builds a raster from rows listed north to south. Every row must
// have g.Cols values.
func FromRows(name string, g Grid, rows [][]float64) (*Raster, error) {
	if len(rows) != g.Rows {
		return nil, eris.Wrapf(ErrInvalidGrid, "raster: %s has %d rows, grid wants %d", name, len(rows), g.Rows)
	}
	r, err := New(name, g)
	if err != nil {
		return nil, err
	}
	for row, vals := range rows {
		if len(vals) != g.Cols {
			return nil, eris.Wrapf(ErrInvalidGrid, "raster: %s row %d has %d values, grid wants %d", name, row, len(vals), g.Cols)
		}
		copy(r.Cells[row*g.Cols:], vals)
	}
	return r, nil
}

// At returns the value at (col, row).
func (r *Raster) At(col, row int) float64 {
	return r.Cells[r.Grid.Index(col, row)]
}

// Set stores v at (col, row).
func (r *Raster) Set(col, row int, v float64) {
	r.Cells[r.Grid.Index(col, row)] = v
}

// Map returns a new raster on the same grid with fn applied to every cell.
func (r *Raster) Map(name string, fn func(v float64) float64) *Raster {
	out := &Raster{Name: name, Grid: r.Grid, Cells: make([]float64, len(r.Cells))}
	for i, v := range r.Cells {
		out.Cells[i] = fn(v)
	}
	return out
}

// Clone returns a deep copy under a new name.
func (r *Raster) Clone(name string) *Raster {
	out := &Raster{Name: name, Grid: r.Grid, Cells: make([]float64, len(r.Cells))}
	copy(out.Cells, r.Cells)
	return out
}

// Resample maps the raster onto target using the value of the source cell
// containing each target cell centre. Target cells outside the source
// extent are no-data.
func (r *Raster) Resample(name string, target Grid) (*Raster, error) {
	if r.Grid.Aligned(target) {
		return r.Clone(name), nil
	}
	if r.Grid.SRID != 0 && target.SRID != 0 && r.Grid.SRID != target.SRID {
		return nil, eris.Wrapf(ErrGridMismatch, "raster: resample %s from SRID %d to %d", r.Name, r.Grid.SRID, target.SRID)
	}
	out, err := New(name, target)
	if err != nil {
		return nil, err
	}
	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			sc, sr, ok := r.Grid.Locate(target.CellCenter(col, row))
			if !ok {
				continue
			}
			out.Set(col, row, r.At(sc, sr))
		}
	}
	return out, nil
}

// Histogram counts cells per distinct value. No-data cells are skipped.
func (r *Raster) Histogram() map[float64]int64 {
	h := make(map[float64]int64)
	for _, v := range r.Cells {
		if IsNoData(v) {
			continue
		}
		h[v]++
	}
	return h
}

// DistinctValues returns the sorted distinct values present in the raster.
func (r *Raster) DistinctValues() []float64 {
	h := r.Histogram()
	vals := make([]float64, 0, len(h))
	for v := range h {
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	return vals
}

// NoDataCount returns the number of no-data cells.
func (r *Raster) NoDataCount() int {
	n := 0
	for _, v := range r.Cells {
		if IsNoData(v) {
			n++
		}
	}
	return n
}

// Equal reports whether two rasters share a grid and hold the same cells,
// treating no-data as equal to no-data.
func (r *Raster) Equal(o *Raster) bool {
	if o == nil || !r.Grid.Aligned(o.Grid) || len(r.Cells) != len(o.Cells) {
		return false
	}
	for i, v := range r.Cells {
		w := o.Cells[i]
		if IsNoData(v) != IsNoData(w) {
			return false
		}
		if !IsNoData(v) && v != w {
			return false
		}
	}
	return true
}
