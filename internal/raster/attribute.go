package raster

// DescriptionMaxLen is the width of the attribute table text field.
const DescriptionMaxLen = 100

// AttributeRow describes one distinct cell value.
type AttributeRow struct {
	Value       int    `json:"value" yaml:"value"`
	Count       int64  `json:"count" yaml:"count"`
	Description string `json:"description" yaml:"description"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
}

// AttributeTable is the value attribute table attached to a categorical
// raster. Rows are sorted by Value and hold each value once.
type AttributeTable struct {
	Raster string         `json:"raster" yaml:"raster"`
	Rows   []AttributeRow `json:"rows" yaml:"rows"`
}

// Lookup returns the row for value.
func (t *AttributeTable) Lookup(value int) (AttributeRow, bool) {
	for _, r := range t.Rows {
		if r.Value == value {
			return r, true
		}
	}
	return AttributeRow{}, false
}

// TruncateText cuts s to at most n runes.
func TruncateText(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
