package vector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ReadOptions configures how a vector file is loaded.
type ReadOptions struct {
	Name     string // layer name; defaults to the file's base name
	SRID     int    // spatial reference stamped on the layer
	Encoding string // DBF code page; empty = read the .cpg sidecar
}

// ReadShapefile loads polygon features and their DBF attributes. Records
// with null or non-polygon shapes are skipped.
func ReadShapefile(path string, opts ReadOptions) (*Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	dec, err := dbfDecoder(path, opts.Encoding)
	if err != nil {
		return nil, err
	}

	layer := &Layer{Name: layerName(path, opts.Name), SRID: opts.SRID}

	shpFields := reader.Fields()
	for _, f := range shpFields {
		name := strings.TrimRight(f.String(), "\x00")
		layer.Fields = append(layer.Fields, Field{Name: name, Type: dbfFieldType(f)})
	}

	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		rings, ok := shapeRings(shape)
		if !ok {
			skipped++
			continue
		}
		geom := assembleRings(rings)
		if len(geom) == 0 {
			skipped++
			continue
		}

		feat := Feature{
			FID:        int64(n) + 1,
			Geometry:   geom,
			Attributes: make(map[string]any, len(layer.Fields)),
		}
		for i, f := range layer.Fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if dec != nil && raw != "" {
				if s, derr := dec.String(raw); derr == nil {
					raw = s
				}
			}
			feat.Attributes[f.Name] = parseDBFValue(raw, f.Type)
		}
		layer.Features = append(layer.Features, feat)
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped shapefile records",
			zap.String("layer", layer.Name),
			zap.Int("skipped", skipped),
		)
	}

	return layer, nil
}

func shapeRings(shape shp.Shape) ([]orb.Ring, bool) {
	var parts []int32
	var points []shp.Point
	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	default:
		return nil, false
	}
	if len(parts) == 0 || len(points) == 0 {
		return nil, false
	}

	rings := make([]orb.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		rings = append(rings, ring)
	}
	return rings, len(rings) > 0
}

func dbfFieldType(f shp.Field) FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return FieldInteger
		}
		return FieldFloat
	case 'F':
		return FieldFloat
	default:
		return FieldString
	}
}

// parseDBFValue converts a trimmed DBF cell. Empty or unparsable numeric
// cells (e.g. overflow asterisks) are null.
func parseDBFValue(raw string, typ FieldType) any {
	if raw == "" {
		return nil
	}
	switch typ {
	case FieldInteger:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return int64(f)
		}
		return nil
	case FieldFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return nil
	default:
		return raw
	}
}

// dbfDecoder resolves the attribute code page from an explicit name or the
// .cpg sidecar file. A nil decoder leaves bytes untouched.
func dbfDecoder(shpPath, name string) (*encoding.Decoder, error) {
	if name == "" {
		cpg := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".cpg"
		data, err := os.ReadFile(cpg)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, eris.Wrapf(err, "vector: read %s", cpg)
		}
		name = string(data)
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder(), nil
}

// LookupEncoding maps a code page label as found in .cpg files ("UTF-8",
// "1250", "ANSI 1250", "windows-1250") to an encoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	label = strings.TrimPrefix(label, "ansi ")
	if label == "" {
		return nil, eris.New("vector: empty encoding name")
	}
	if _, err := strconv.Atoi(label); err == nil {
		label = "windows-" + label
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: unknown encoding %q", name)
	}
	return enc, nil
}

func layerName(path, name string) string {
	if name != "" {
		return name
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
