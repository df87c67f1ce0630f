package asciigrid

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/suitability-cli/internal/raster"
)

const sampleGrid = `ncols 3
nrows 2
xllcorner 100
yllcorner 200
cellsize 10
NODATA_value -9999
1 2.5 -9999
60 61 0
`

func TestRead_Corner(t *testing.T) {
	r, err := Read(strings.NewReader(sampleGrid), "slope", 2180)
	require.NoError(t, err)

	assert.Equal(t, "slope", r.Name)
	assert.Equal(t, 3, r.Grid.Cols)
	assert.Equal(t, 2, r.Grid.Rows)
	assert.Equal(t, 100.0, r.Grid.MinX)
	assert.Equal(t, 220.0, r.Grid.MaxY)
	assert.Equal(t, 2180, r.Grid.SRID)
	assert.Equal(t, 2.5, r.At(1, 0))
	assert.True(t, raster.IsNoData(r.At(2, 0)))
	assert.Equal(t, 61.0, r.At(1, 1))
}

func TestRead_Center(t *testing.T) {
	src := "NCOLS 1\nNROWS 1\nXLLCENTER 5\nYLLCENTER 5\nCELLSIZE 10\n7\n"
	r, err := Read(strings.NewReader(src), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Grid.MinX)
	assert.Equal(t, 10.0, r.Grid.MaxY)
	assert.Equal(t, 7.0, r.At(0, 0))
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing ncols", "nrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1\n"},
		{"missing origin", "ncols 1\nnrows 1\ncellsize 1\n1\n"},
		{"too few values", "ncols 2\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1\n"},
		{"too many values", "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n"},
		{"bad value", "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\nabc\n"},
		{"bad header", "ncols x\n"},
		{"fractional ncols", "ncols 2.5\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n"},
		{"fractional nrows", "ncols 1\nnrows 1.9\nxllcorner 0\nyllcorner 0\ncellsize 1\n1\n"},
		{"zero ncols", "ncols 0\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n"},
		{"negative nrows", "ncols 1\nnrows -3\nxllcorner 0\nyllcorner 0\ncellsize 1\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.src), "x", 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	r, err := Read(strings.NewReader(sampleGrid), "slope", 2180)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, r))
	assert.Contains(t, buf.String(), "NODATA_value -9999")

	back, err := Read(&buf, "slope", 2180)
	require.NoError(t, err)
	assert.True(t, r.Equal(back))
}

func TestWriteFile_ReadFile(t *testing.T) {
	r, err := Read(strings.NewReader(sampleGrid), "slope", 2180)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "reclass_slope.asc")
	require.NoError(t, WriteFile(path, r))

	back, err := ReadFile(path, "", 2180)
	require.NoError(t, err)
	assert.Equal(t, "reclass_slope", back.Name)
	assert.True(t, r.Grid.Aligned(back.Grid))
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.asc"), "", 0)
	assert.Error(t, err)
}
