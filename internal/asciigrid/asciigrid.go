// Package asciigrid reads and writes rasters in the Esri ASCII grid format.
package asciigrid

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/raster"
)

// DefaultNoData is written for no-data cells when the raster has none set.
const DefaultNoData = -9999

// ErrMalformed is returned for headers or bodies that do not parse.
var ErrMalformed = eris.New("asciigrid: malformed grid")

// ReadFile opens path and decodes it. The raster is named after the file
// unless name is set.
func ReadFile(path, name string, srid int) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "asciigrid: open %s", path)
	}
	defer func() { _ = f.Close() }()

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	r, err := Read(f, name, srid)
	if err != nil {
		return nil, eris.Wrapf(err, "asciigrid: read %s", path)
	}
	return r, nil
}

// Read decodes an Esri ASCII grid. Both the corner and centre forms of the
// origin header are accepted.
func Read(rd io.Reader, name string, srid int) (*raster.Raster, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64, 6)
	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, eris.Wrapf(ErrMalformed, "header %s has no value", tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(ErrMalformed, "header %s: %v", tok, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "asciigrid: scan header")
	}

	g, noData, err := gridFromHeader(header, srid)
	if err != nil {
		return nil, err
	}

	out, err := raster.New(name, g)
	if err != nil {
		return nil, err
	}

	i := 0
	parse := func(tok string) error {
		if i >= len(out.Cells) {
			return eris.Wrapf(ErrMalformed, "more than %d values", len(out.Cells))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(ErrMalformed, "value %d: %v", i, err)
		}
		if noData != nil && v == *noData {
			v = raster.NoData
		}
		out.Cells[i] = v
		i++
		return nil
	}

	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "asciigrid: scan values")
	}
	if i != len(out.Cells) {
		return nil, eris.Wrapf(ErrMalformed, "got %d values, want %d", i, len(out.Cells))
	}
	return out, nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

func gridFromHeader(h map[string]float64, srid int) (raster.Grid, *float64, error) {
	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := h[k]; !ok {
			return raster.Grid{}, nil, eris.Wrapf(ErrMalformed, "missing %s", k)
		}
	}
	for _, k := range []string{"ncols", "nrows"} {
		if v := h[k]; v <= 0 || v != math.Trunc(v) || v > math.MaxInt32 {
			return raster.Grid{}, nil, eris.Wrapf(ErrMalformed, "%s %v is not a positive integer", k, v)
		}
	}
	g := raster.Grid{
		Cols:     int(h["ncols"]),
		Rows:     int(h["nrows"]),
		CellSize: h["cellsize"],
		SRID:     srid,
	}

	var minX, minY float64
	xc, okXC := h["xllcorner"]
	yc, okYC := h["yllcorner"]
	xm, okXM := h["xllcenter"]
	ym, okYM := h["yllcenter"]
	switch {
	case okXC && okYC:
		minX, minY = xc, yc
	case okXM && okYM:
		minX, minY = xm-g.CellSize/2, ym-g.CellSize/2
	default:
		return raster.Grid{}, nil, eris.Wrap(ErrMalformed, "missing lower-left origin")
	}
	g.MinX = minX
	g.MaxY = minY + float64(g.Rows)*g.CellSize

	if err := g.Validate(); err != nil {
		return raster.Grid{}, nil, err
	}

	var noData *float64
	if v, ok := h["nodata_value"]; ok {
		noData = &v
	}
	return g, noData, nil
}

// WriteFile encodes r to path, creating parent directories.
func WriteFile(path string, r *raster.Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "asciigrid: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "asciigrid: create %s", path)
	}
	if err := Write(f, r); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "asciigrid: write %s", path)
	}
	return eris.Wrapf(f.Close(), "asciigrid: close %s", path)
}

// Write encodes r with a corner origin and DefaultNoData.
func Write(w io.Writer, r *raster.Raster) error {
	bw := bufio.NewWriter(w)
	g := r.Grid
	fmt.Fprintf(bw, "ncols %d\n", g.Cols)
	fmt.Fprintf(bw, "nrows %d\n", g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\n", formatFloat(g.MinX))
	fmt.Fprintf(bw, "yllcorner %s\n", formatFloat(g.MinY()))
	fmt.Fprintf(bw, "cellsize %s\n", formatFloat(g.CellSize))
	fmt.Fprintf(bw, "NODATA_value %d\n", DefaultNoData)

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if col > 0 {
				_ = bw.WriteByte(' ')
			}
			v := r.At(col, row)
			if raster.IsNoData(v) {
				_, _ = bw.WriteString(strconv.Itoa(DefaultNoData))
				continue
			}
			_, _ = bw.WriteString(formatFloat(v))
		}
		_ = bw.WriteByte('\n')
	}
	return eris.Wrap(bw.Flush(), "asciigrid: flush")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
