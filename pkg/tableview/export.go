package tableview

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteCSV serializes the projection to comma-separated values: a header
// row of the visible column display labels, then one record per visible
// table row. Non-primitive cell values are already JSON-stringified by
// the projection; they pass through as-is.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Label
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, cell := range row.Cells {
			record[i] = cell.Text
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// RenderText writes the projection as an aligned text table. Booleans
// render as check marks so they read differently from arbitrary strings;
// identity keys render bracketed to stand out the way a monospace/code
// style would in a richer medium.
func RenderText(w io.Writer, t Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	labels := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = strings.ToUpper(c.Label)
	}
	fmt.Fprintln(tw, strings.Join(labels, "\t"))

	for _, row := range t.Rows {
		parts := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			parts[i] = cellText(cell)
		}
		fmt.Fprintln(tw, strings.Join(parts, "\t"))

		// Expanded detail lines (expandable mode).
		if len(row.Details) > 0 {
			for _, col := range t.Columns {
				props, ok := row.Details[col.EntityColumn]
				if !ok {
					continue
				}
				for _, p := range props {
					fmt.Fprintf(tw, "  %s.%s\t%s\n", col.EntityColumn, p.Name, cellText(cellFor(p.Value, nil)))
				}
			}
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if t.Page > 0 && t.TotalRows > PageSize {
		fmt.Fprintf(w, "page %d/%d (%d rows)\n", t.Page, t.Pages(), t.TotalRows)
	}
	return nil
}

func cellText(c Cell) string {
	switch c.Kind {
	case CellEmpty:
		return ""
	case CellBool:
		if c.Text == "true" {
			return "✓"
		}
		return "✗"
	case CellID:
		return "[" + c.Text + "]"
	default:
		return c.Text
	}
}
