package workspace

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/vector"
)

func encodeFields(fields []vector.Field) ([]byte, error) {
	if fields == nil {
		fields = []vector.Field{}
	}
	data, err := json.Marshal(fields)
	return data, eris.Wrap(err, "workspace: marshal fields")
}

func decodeFields(data []byte) ([]vector.Field, error) {
	var fields []vector.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "workspace: unmarshal fields")
	}
	return fields, nil
}

func encodeAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	return data, eris.Wrap(err, "workspace: marshal attributes")
}

// decodeAttributes restores attribute values with the Go types the readers
// produce: int64 for integer fields, float64 for float fields.
func decodeAttributes(data []byte, fields []vector.Field) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "workspace: unmarshal attributes")
	}

	types := make(map[string]vector.FieldType, len(fields))
	for _, f := range fields {
		types[strings.ToLower(f.Name)] = f.Type
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if types[strings.ToLower(k)] == vector.FieldInteger {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, eris.Wrapf(err, "workspace: attribute %s", k)
		}
		out[k] = f
	}
	return out, nil
}
