package vector

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReadGeoJSON loads Polygon and MultiPolygon features from a GeoJSON
// FeatureCollection. Coordinates are taken as-is in opts.SRID.
func ReadGeoJSON(path string, opts ReadOptions) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}
	layer, err := DecodeGeoJSON(data, layerName(path, opts.Name), opts.SRID)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: decode %s", path)
	}
	return layer, nil
}

// DecodeGeoJSON builds a layer from FeatureCollection bytes. The field
// schema is the sorted union of property keys; a key whose values are all
// whole numbers is an Integer field, all numbers a Float field, anything
// else a String field.
func DecodeGeoJSON(data []byte, name string, srid int) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "vector: unmarshal feature collection")
	}

	layer := &Layer{Name: name, SRID: srid}
	layer.Fields = inferFields(fc.Features)

	var skipped int
	for i, f := range fc.Features {
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			skipped++
			continue
		}

		feat := Feature{
			FID:        int64(i) + 1,
			Geometry:   mp,
			Attributes: make(map[string]any, len(layer.Fields)),
		}
		for _, fd := range layer.Fields {
			feat.Attributes[fd.Name] = convertProperty(f.Properties[fd.Name], fd.Type)
		}
		layer.Features = append(layer.Features, feat)
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped non-polygon features",
			zap.String("layer", name),
			zap.Int("skipped", skipped),
		)
	}
	return layer, nil
}

func inferFields(features []*geojson.Feature) []Field {
	types := make(map[string]FieldType)
	for _, f := range features {
		for k, v := range f.Properties {
			types[k] = widen(types[k], valueType(v))
		}
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, k := range names {
		t := types[k]
		if t == "" {
			t = FieldString
		}
		fields = append(fields, Field{Name: k, Type: t})
	}
	return fields
}

func valueType(v any) FieldType {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return FieldInteger
		}
		return FieldFloat
	default:
		return FieldString
	}
}

// widen merges two observed types; "" means only nulls seen so far.
func widen(a, b FieldType) FieldType {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	case a == FieldString || b == FieldString:
		return FieldString
	default:
		return FieldFloat
	}
}

func convertProperty(v any, typ FieldType) any {
	if v == nil {
		return nil
	}
	switch typ {
	case FieldInteger:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case FieldFloat:
		if f, ok := v.(float64); ok {
			return f
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return nil
	}
}

// Open reads a vector file, choosing the reader by extension.
func Open(path string, opts ReadOptions) (*Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, opts)
	case ".geojson", ".json":
		return ReadGeoJSON(path, opts)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
}
