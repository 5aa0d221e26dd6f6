package registry

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/news-pipeline/internal/model"
)

// XLSXOptions selects the sheet holding the registry.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// Header aliases, compared case-insensitively.
var columnAliases = map[string]string{
	"link":     "link",
	"url":      "link",
	"homepage": "link",
	"source":   "source",
	"name":     "source",
	"note":     "note",
	"notes":    "note",
	"active":   "active",
	"enabled":  "active",
}

// ReadXLSX reads homepages from a sheet whose first row names the columns.
// A link column is required; source, note and active are optional.
func ReadXLSX(path string, opts XLSXOptions) ([]model.Homepage, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open xlsx")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := headerColumns(rowToStrings(sheet.Rows[0]))
	if _, ok := cols["link"]; !ok {
		return nil, eris.Errorf("registry: sheet %q has no link column", sheet.Name)
	}

	var out []model.Homepage
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		h := model.Homepage{
			URL:    cell(cells, cols, "link"),
			Source: cell(cells, cols, "source"),
			Note:   cell(cells, cols, "note"),
			Active: parseActive(cell(cells, cols, "active")),
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func headerColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func cell(cells []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("registry: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("registry: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}
