package vector

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

// square returns a clockwise closed ring (shapefile outer ring order).
func square(x0, y0, size float64) []shp.Point {
	return []shp.Point{
		{X: x0, Y: y0},
		{X: x0, Y: y0 + size},
		{X: x0 + size, Y: y0 + size},
		{X: x0 + size, Y: y0},
		{X: x0, Y: y0},
	}
}

func reversed(pts []shp.Point) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

type testRecord struct {
	parts [][]shp.Point
	attrs []any
}

func writeShapefile(t *testing.T, dir string, fields []shp.Field, records []testRecord) string {
	t.Helper()
	path := filepath.Join(dir, "layer.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for _, rec := range records {
		poly := shp.Polygon(*shp.NewPolyLine(rec.parts))
		n := w.Write(&poly)
		for i, v := range rec.attrs {
			require.NoError(t, w.WriteAttribute(int(n), i, v))
		}
	}
	w.Close()
	// go-shp names the attribute file "<base>dbf"; readers expect "<base>.dbf".
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func TestReadShapefile(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir,
		[]shp.Field{shp.NumberField("numer", 4), shp.StringField("klasa", 40)},
		[]testRecord{
			{parts: [][]shp.Point{square(0, 0, 10)}, attrs: []any{1, "Gleby Wysokiej Jakosci"}},
			{parts: [][]shp.Point{square(10, 0, 10)}, attrs: []any{3, "Inne"}},
		})

	layer, err := ReadShapefile(path, ReadOptions{SRID: 2180})
	require.NoError(t, err)

	assert.Equal(t, "layer", layer.Name)
	assert.Equal(t, 2180, layer.SRID)
	require.Len(t, layer.Features, 2)
	assert.Equal(t, int64(1), layer.Features[0].FID)
	assert.Equal(t, FieldInteger, layer.Fields[layer.FieldIndex("NUMER")].Type)

	v, ok, err := layer.Number(&layer.Features[1], "numer")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	s, err := layer.Text(&layer.Features[0], "klasa")
	require.NoError(t, err)
	assert.Equal(t, "Gleby Wysokiej Jakosci", s)

	b, ok := layer.Bound()
	require.True(t, ok)
	assert.Equal(t, orb.Point{0, 0}, b.Min)
	assert.Equal(t, orb.Point{20, 10}, b.Max)
}

func TestReadShapefile_HoleAssignedToOuter(t *testing.T) {
	dir := t.TempDir()
	hole := reversed(square(2, 2, 2))
	path := writeShapefile(t, dir,
		[]shp.Field{shp.NumberField("id", 4)},
		[]testRecord{{parts: [][]shp.Point{square(0, 0, 10), hole}, attrs: []any{7}}})

	layer, err := ReadShapefile(path, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, layer.Features, 1)
	geom := layer.Features[0].Geometry
	require.Len(t, geom, 1)
	assert.Len(t, geom[0], 2)
}

func TestReadShapefile_CodePage(t *testing.T) {
	dir := t.TempDir()
	encoded, err := charmap.Windows1250.NewEncoder().String("Łąka")
	require.NoError(t, err)

	path := writeShapefile(t, dir,
		[]shp.Field{shp.StringField("nazwa", 20)},
		[]testRecord{{parts: [][]shp.Point{square(0, 0, 1)}, attrs: []any{encoded}}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layer.cpg"), []byte("1250"), 0o644))

	layer, err := ReadShapefile(path, ReadOptions{})
	require.NoError(t, err)
	s, err := layer.Text(&layer.Features[0], "nazwa")
	require.NoError(t, err)
	assert.Equal(t, "Łąka", s)
}

func TestReadShapefile_Missing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "none.shp"), ReadOptions{})
	assert.Error(t, err)
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"UTF-8", "1250", "ANSI 1250", "windows-1250", " 1252\n"} {
		_, err := LookupEncoding(name)
		assert.NoError(t, err, name)
	}
	_, err := LookupEncoding("klingon")
	assert.Error(t, err)
	_, err = LookupEncoding("")
	assert.Error(t, err)
}

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"OBJECTID": 1, "area": 2.5, "name": "a"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"OBJECTID": 2, "area": 3, "name": null},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[20,0],[30,0],[30,10],[20,10],[20,0]]]]}},
    {"type": "Feature", "properties": {"OBJECTID": 3},
     "geometry": {"type": "Point", "coordinates": [1,1]}}
  ]
}`

func TestDecodeGeoJSON(t *testing.T) {
	layer, err := DecodeGeoJSON([]byte(sampleGeoJSON), "PTLZ", 2180)
	require.NoError(t, err)

	require.Len(t, layer.Features, 2)
	assert.Equal(t, []Field{
		{Name: "OBJECTID", Type: FieldInteger},
		{Name: "area", Type: FieldFloat},
		{Name: "name", Type: FieldString},
	}, layer.Fields)

	assert.Equal(t, int64(1), layer.Features[0].Attributes["OBJECTID"])
	assert.Equal(t, 3.0, layer.Features[1].Attributes["area"])
	assert.Nil(t, layer.Features[1].Attributes["name"])

	s, err := layer.Text(&layer.Features[1], "name")
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestDecodeGeoJSON_Invalid(t *testing.T) {
	_, err := DecodeGeoJSON([]byte("{"), "x", 0)
	assert.Error(t, err)
}

func TestOpen_Dispatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forest.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sampleGeoJSON), 0o644))

	layer, err := Open(path, ReadOptions{SRID: 2180})
	require.NoError(t, err)
	assert.Equal(t, "forest", layer.Name)

	_, err = Open(filepath.Join(dir, "x.gpkg"), ReadOptions{})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLayer_FieldsAndFID(t *testing.T) {
	layer := &Layer{
		Name:   "soil",
		Fields: []Field{{Name: "klasa", Type: FieldString}},
		Features: []Feature{
			{FID: 1, Attributes: map[string]any{"klasa": "x"}},
			{FID: 2, Attributes: map[string]any{"klasa": "12"}},
		},
	}

	assert.True(t, layer.HasField("FID"))
	assert.True(t, layer.HasField("KLASA"))
	assert.NoError(t, layer.RequireField("klasa"))
	assert.True(t, errors.Is(layer.RequireField("numer"), ErrFieldNotFound))

	v, ok, err := layer.Number(&layer.Features[1], "fid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, _, err = layer.Number(&layer.Features[0], "klasa")
	assert.True(t, errors.Is(err, ErrNotNumeric))

	v, ok, err = layer.Number(&layer.Features[1], "klasa")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)
}

func TestLayer_AddAndCalculateField(t *testing.T) {
	layer := &Layer{
		Name:     "soil",
		Fields:   []Field{{Name: "klasa", Type: FieldString}},
		Features: []Feature{{FID: 1, Attributes: map[string]any{"klasa": "x"}}, {FID: 2}},
	}

	assert.Error(t, layer.CalculateField("klasa_num", func(*Feature) (any, error) { return int64(1), nil }))

	layer.AddField("klasa_num", FieldInteger)
	layer.AddField("KLASA_NUM", FieldInteger)
	assert.Len(t, layer.Fields, 2)

	require.NoError(t, layer.CalculateField("klasa_num", func(f *Feature) (any, error) { return f.FID * 10, nil }))
	assert.Equal(t, int64(10), layer.Features[0].Attributes["klasa_num"])
	assert.Equal(t, int64(20), layer.Features[1].Attributes["klasa_num"])

	err := layer.CalculateField("klasa_num", func(*Feature) (any, error) { return nil, errors.New("boom") })
	assert.Error(t, err)
}

func TestWKBRoundTrip(t *testing.T) {
	mp := orb.MultiPolygon{{
		{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
	}}

	data, err := EncodeWKB(mp)
	require.NoError(t, err)
	back, err := DecodeWKB(data)
	require.NoError(t, err)
	assert.Equal(t, mp, back)

	edata, err := EncodeEWKB(mp, 2180)
	require.NoError(t, err)
	back, srid, err := DecodeEWKB(edata)
	require.NoError(t, err)
	assert.Equal(t, 2180, srid)
	assert.Equal(t, mp, back)
}

func TestAssembleRings_OpenAndDegenerate(t *testing.T) {
	mp := assembleRings([]orb.Ring{
		{{0, 0}, {0, 1}, {1, 1}},
		{{5, 5}, {6, 6}},
	})
	require.Len(t, mp, 1)
	assert.True(t, mp[0][0].Closed())
}
