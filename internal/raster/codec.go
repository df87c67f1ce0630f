package raster

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// EncodeCells packs cell values as gzip-compressed little-endian float64s.
// No-data survives as NaN.
func EncodeCells(cells []float64) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := binary.Write(zw, binary.LittleEndian, cells); err != nil {
		return nil, eris.Wrap(err, "raster: encode cells")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "raster: close gzip writer")
	}
	return buf.Bytes(), nil
}

// DecodeCells reverses EncodeCells. n is the expected number of cells.
func DecodeCells(data []byte, n int) ([]float64, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "raster: open gzip reader")
	}
	defer func() { _ = zr.Close() }()

	cells := make([]float64, n)
	if err := binary.Read(zr, binary.LittleEndian, cells); err != nil {
		return nil, eris.Wrapf(err, "raster: decode %d cells", n)
	}
	// Trailing bytes mean the stored grid does not match the payload.
	if extra, _ := io.Copy(io.Discard, zr); extra > 0 {
		return nil, eris.Wrapf(ErrInvalidGrid, "raster: %d trailing bytes after %d cells", extra, n)
	}
	return cells, nil
}
