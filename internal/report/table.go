package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/suitability-cli/internal/raster"
)

// Format selects an attribute table rendering.
type Format string

// Table formats.
const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatYAML, FormatXLSX:
		return Format(s), nil
	}
	return "", eris.Errorf("report: unknown format %q", s)
}

var tableHeader = []string{"VALUE", "COUNT", "DESCRIPTION", "COLOR"}

// WriteTableText writes the attribute table as aligned columns.
func WriteTableText(out io.Writer, t raster.AttributeTable) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tableHeader[0], tableHeader[1], tableHeader[2], tableHeader[3])
	_, _ = fmt.Fprintln(w, "-----\t-----\t-----------\t-----")
	var total int64
	for _, r := range t.Rows {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", r.Value, r.Count, r.Description, r.Color)
		total += r.Count
	}
	_, _ = fmt.Fprintf(w, "\t%d\ttotal cells\t\n", total)
	return eris.Wrap(w.Flush(), "report: flush table")
}

// WriteTableYAML writes the attribute table as YAML.
func WriteTableYAML(out io.Writer, t raster.AttributeTable) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return eris.Wrap(err, "report: encode table")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

// WriteTableXLSX writes the attribute table to a one-sheet workbook at path.
// The sheet is named after the raster.
func WriteTableXLSX(path string, t raster.AttributeTable) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(t.Raster))
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range tableHeader {
		header.AddCell().SetString(h)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.Value)
		row.AddCell().SetInt64(r.Count)
		row.AddCell().SetString(r.Description)
		row.AddCell().SetString(r.Color)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// ReadTableXLSX reads a workbook written by WriteTableXLSX.
func ReadTableXLSX(path string) (raster.AttributeTable, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return raster.AttributeTable{}, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return raster.AttributeTable{}, eris.Errorf("xlsx: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	t := raster.AttributeTable{Raster: sheet.Name}
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		cells := rowToStrings(row)
		if len(cells) < 3 {
			return t, eris.Errorf("xlsx: row %d has %d cells", i+1, len(cells))
		}
		value, err := strconv.Atoi(cells[0])
		if err != nil {
			return t, eris.Wrapf(err, "xlsx: row %d value", i+1)
		}
		count, err := strconv.ParseInt(cells[1], 10, 64)
		if err != nil {
			return t, eris.Wrapf(err, "xlsx: row %d count", i+1)
		}
		r := raster.AttributeRow{Value: value, Count: count, Description: cells[2]}
		if len(cells) > 3 {
			r.Color = cells[3]
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// sheetName fits name to the 31 character limit of sheet names.
func sheetName(name string) string {
	if name == "" {
		return "attributes"
	}
	return raster.TruncateText(name, 31)
}
