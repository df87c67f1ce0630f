// Package raster provides the in-memory raster model shared by every
// classification step: grid geometry, cells with no-data, resampling and
// the raster attribute table.
package raster

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Sentinel errors for grid validation.
var (
	ErrInvalidGrid  = eris.New("raster: invalid grid")
	ErrGridMismatch = eris.New("raster: grids are not aligned")
)

// Grid describes the geometry of a raster. MinX/MaxY is the upper-left
// corner; row 0 is the northernmost row.
type Grid struct {
	MinX     float64 `json:"min_x" yaml:"min_x"`
	MaxY     float64 `json:"max_y" yaml:"max_y"`
	CellSize float64 `json:"cell_size" yaml:"cell_size"`
	Cols     int     `json:"cols" yaml:"cols"`
	Rows     int     `json:"rows" yaml:"rows"`
	SRID     int     `json:"srid" yaml:"srid"`
}

// NewGridFromBound covers bound with square cells of the given size. The
// column and row counts are rounded up so the grid always contains bound.
func NewGridFromBound(b orb.Bound, cellSize float64, srid int) (Grid, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) {
		return Grid{}, eris.Wrapf(ErrInvalidGrid, "cell size %v", cellSize)
	}
	width := b.Max[0] - b.Min[0]
	height := b.Max[1] - b.Min[1]
	if width <= 0 || height <= 0 {
		return Grid{}, eris.Wrapf(ErrInvalidGrid, "empty extent %v", b)
	}
	g := Grid{
		MinX:     b.Min[0],
		MaxY:     b.Max[1],
		CellSize: cellSize,
		Cols:     cellCount(width, cellSize),
		Rows:     cellCount(height, cellSize),
		SRID:     srid,
	}
	return g, nil
}

// cellCount rounds width/cellSize up, tolerating floating point noise so a
// 300 wide extent at cell size 30 yields 10 cells, not 11.
func cellCount(width, cellSize float64) int {
	n := width / cellSize
	r := math.Round(n)
	if math.Abs(n-r) < 1e-9 {
		return int(r)
	}
	return int(math.Ceil(n))
}

// Validate reports whether the grid can hold cells.
func (g Grid) Validate() error {
	if g.CellSize <= 0 || math.IsNaN(g.CellSize) {
		return eris.Wrapf(ErrInvalidGrid, "cell size %v", g.CellSize)
	}
	if g.Cols <= 0 || g.Rows <= 0 {
		return eris.Wrapf(ErrInvalidGrid, "dimensions %dx%d", g.Cols, g.Rows)
	}
	return nil
}

// Len is the number of cells.
func (g Grid) Len() int {
	return g.Cols * g.Rows
}

// MaxX is the east edge of the grid.
func (g Grid) MaxX() float64 {
	return g.MinX + float64(g.Cols)*g.CellSize
}

// MinY is the south edge of the grid.
func (g Grid) MinY() float64 {
	return g.MaxY - float64(g.Rows)*g.CellSize
}

// Bound returns the grid extent.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.MinX, g.MinY()},
		Max: orb.Point{g.MaxX(), g.MaxY},
	}
}

// Index returns the row-major offset of a cell.
func (g Grid) Index(col, row int) int {
	return row*g.Cols + col
}

// CellBound returns the extent of a single cell.
func (g Grid) CellBound(col, row int) orb.Bound {
	x0 := g.MinX + float64(col)*g.CellSize
	y1 := g.MaxY - float64(row)*g.CellSize
	return orb.Bound{
		Min: orb.Point{x0, y1 - g.CellSize},
		Max: orb.Point{x0 + g.CellSize, y1},
	}
}

// CellCenter returns the centre point of a cell.
func (g Grid) CellCenter(col, row int) orb.Point {
	return orb.Point{
		g.MinX + (float64(col)+0.5)*g.CellSize,
		g.MaxY - (float64(row)+0.5)*g.CellSize,
	}
}

// Locate returns the cell containing p. Points on the east or south edge
// belong to the last column or row.
func (g Grid) Locate(p orb.Point) (col, row int, ok bool) {
	fc := (p[0] - g.MinX) / g.CellSize
	fr := (g.MaxY - p[1]) / g.CellSize
	if fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col == g.Cols && fc == float64(g.Cols) {
		col--
	}
	if row == g.Rows && fr == float64(g.Rows) {
		row--
	}
	if col >= g.Cols || row >= g.Rows {
		return 0, 0, false
	}
	return col, row, true
}

// Span returns the inclusive column and row range of cells touched by b,
// clamped to the grid. ok is false when b does not overlap the grid.
func (g Grid) Span(b orb.Bound) (c0, r0, c1, r1 int, ok bool) {
	if b.Max[0] <= g.MinX || b.Min[0] >= g.MaxX() || b.Max[1] <= g.MinY() || b.Min[1] >= g.MaxY {
		return 0, 0, 0, 0, false
	}
	c0 = clamp(int(math.Floor((b.Min[0]-g.MinX)/g.CellSize)), 0, g.Cols-1)
	c1 = clamp(int(math.Ceil((b.Max[0]-g.MinX)/g.CellSize))-1, 0, g.Cols-1)
	r0 = clamp(int(math.Floor((g.MaxY-b.Max[1])/g.CellSize)), 0, g.Rows-1)
	r1 = clamp(int(math.Ceil((g.MaxY-b.Min[1])/g.CellSize))-1, 0, g.Rows-1)
	return c0, r0, c1, r1, true
}

// WithCellSize returns a grid over the same extent with a different cell
// size. The extent grows to a whole number of cells when needed.
func (g Grid) WithCellSize(cellSize float64) (Grid, error) {
	out, err := NewGridFromBound(g.Bound(), cellSize, g.SRID)
	if err != nil {
		return Grid{}, eris.Wrap(err, "raster: resize grid")
	}
	return out, nil
}

// Aligned reports whether two grids describe exactly the same cells.
func (g Grid) Aligned(o Grid) bool {
	return g == o
}

// CheckAligned returns ErrGridMismatch unless every grid is aligned with
// the first.
func CheckAligned(grids ...Grid) error {
	for i := 1; i < len(grids); i++ {
		if !grids[0].Aligned(grids[i]) {
			return eris.Wrapf(ErrGridMismatch, "%+v vs %+v", grids[0], grids[i])
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
