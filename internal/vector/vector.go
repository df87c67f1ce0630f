// Package vector holds polygon feature layers and their readers.
package vector

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// FieldFID is the virtual field holding each feature's 1-based record
// number. It resolves to a real field when the layer defines one.
const FieldFID = "FID"

// Sentinel errors.
var (
	ErrFieldNotFound       = eris.New("vector: field not found")
	ErrNotNumeric          = eris.New("vector: field value is not numeric")
	ErrUnsupportedFormat   = eris.New("vector: unsupported format")
	ErrUnsupportedGeometry = eris.New("vector: unsupported geometry")
)

// FieldType is the storage type of an attribute field.
type FieldType string

// Field types.
const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
)

// Field defines one attribute column.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Feature is a polygon with attributes.
type Feature struct {
	FID        int64
	Geometry   orb.MultiPolygon
	Attributes map[string]any
}

// Layer is an ordered set of polygon features sharing one field schema.
type Layer struct {
	Name     string
	SRID     int
	Fields   []Field
	Features []Feature
}

// FieldIndex returns the index of name in l.Fields, ignoring case.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// HasField reports whether name resolves to a real or the virtual FID field.
func (l *Layer) HasField(name string) bool {
	return l.FieldIndex(name) >= 0 || strings.EqualFold(name, FieldFID)
}

// RequireField returns ErrFieldNotFound unless the field exists.
func (l *Layer) RequireField(name string) error {
	if !l.HasField(name) {
		return eris.Wrapf(ErrFieldNotFound, "layer %s has no field %q", l.Name, name)
	}
	return nil
}

// Value returns the raw attribute value of a feature. The virtual FID field
// yields the record number.
func (l *Layer) Value(f *Feature, name string) (any, error) {
	idx := l.FieldIndex(name)
	if idx < 0 {
		if strings.EqualFold(name, FieldFID) {
			return f.FID, nil
		}
		return nil, eris.Wrapf(ErrFieldNotFound, "layer %s has no field %q", l.Name, name)
	}
	return f.Attributes[l.Fields[idx].Name], nil
}

// Number returns a numeric attribute. ok is false for null values.
func (l *Layer) Number(f *Feature, name string) (v float64, ok bool, err error) {
	raw, err := l.Value(f, name)
	if err != nil {
		return 0, false, err
	}
	switch x := raw.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case int64:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		n, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, false, eris.Wrapf(ErrNotNumeric, "layer %s field %s fid %d: %q", l.Name, name, f.FID, x)
		}
		return n, true, nil
	default:
		return 0, false, eris.Wrapf(ErrNotNumeric, "layer %s field %s fid %d: %T", l.Name, name, f.FID, raw)
	}
}

// Text returns an attribute formatted as a string; null is "".
func (l *Layer) Text(f *Feature, name string) (string, error) {
	raw, err := l.Value(f, name)
	if err != nil {
		return "", err
	}
	switch x := raw.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", eris.Errorf("vector: layer %s field %s: unexpected %T", l.Name, name, raw)
	}
}

// AddField defines a field. An existing field of the same name is
// redefined with the new type and keeps its values.
func (l *Layer) AddField(name string, typ FieldType) {
	if idx := l.FieldIndex(name); idx >= 0 {
		l.Fields[idx].Type = typ
		return
	}
	l.Fields = append(l.Fields, Field{Name: name, Type: typ})
}

// CalculateField sets name on every feature to the value returned by fn.
func (l *Layer) CalculateField(name string, fn func(f *Feature) (any, error)) error {
	idx := l.FieldIndex(name)
	if idx < 0 {
		return eris.Wrapf(ErrFieldNotFound, "layer %s has no field %q", l.Name, name)
	}
	key := l.Fields[idx].Name
	for i := range l.Features {
		f := &l.Features[i]
		v, err := fn(f)
		if err != nil {
			return eris.Wrapf(err, "vector: calculate %s on fid %d", key, f.FID)
		}
		if f.Attributes == nil {
			f.Attributes = make(map[string]any, len(l.Fields))
		}
		f.Attributes[key] = v
	}
	return nil
}

// Bound is the combined extent of all features.
func (l *Layer) Bound() (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, f := range l.Features {
		if len(f.Geometry) == 0 {
			continue
		}
		fb := f.Geometry.Bound()
		if !found {
			b = fb
			found = true
			continue
		}
		b = b.Union(fb)
	}
	return b, found
}
