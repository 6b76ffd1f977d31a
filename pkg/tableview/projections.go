package tableview

import (
	"sort"

	"github.com/konnektr-io/twx-cli/pkg/resultset"
)

// valueColumn is the synthetic column name for rows that are bare
// scalars rather than objects.
const valueColumn = "(value)"

// Simple builds the fallback projection: one column per distinct
// top-level key across all rows, sorted for determinism, with nested
// values rendered as JSON text. Bare scalar rows land in a synthetic
// value column.
func Simple(rows []resultset.Value, opts Options) Table {
	keySet := map[string]bool{}
	hasBare := false
	for _, row := range rows {
		obj, ok := row.(*resultset.Object)
		if !ok {
			hasBare = true
			continue
		}
		for _, k := range obj.Keys() {
			keySet[k] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]Column, 0, len(keys)+1)
	if hasBare {
		columns = append(columns, Column{Path: valueColumn, Label: valueColumn})
	}
	for _, k := range keys {
		columns = append(columns, Column{
			Path:     k,
			Label:    k,
			Identity: k == resultset.FieldTwinID || k == resultset.FieldRelationshipID,
		})
	}

	out := Table{Mode: ModeSimple, Columns: columns}
	keysPerRow := rowKeys(rows, nil)
	for i, row := range rows {
		cells := make([]Cell, len(columns))
		obj, isObj := row.(*resultset.Object)
		for ci, col := range columns {
			switch {
			case col.Path == valueColumn:
				if isObj {
					cells[ci] = emptyCell(nil)
				} else {
					cells[ci] = cellFor(row, nil)
				}
			case isObj:
				if v, ok := obj.Get(col.Path); ok {
					c := cellFor(v, nil)
					if col.Identity && c.Kind == CellText {
						c.Kind = CellID
					}
					cells[ci] = c
				} else {
					cells[ci] = emptyCell(nil)
				}
			default:
				cells[ci] = emptyCell(nil)
			}
		}
		out.Rows = append(out.Rows, Row{Key: keysPerRow[i], Cells: cells, Source: row})
	}
	return out
}

// FlatColumns builds the flattened projection: for each entity column,
// one physical column per distinct property key observed for that column
// across all rows, grouped contiguously by entity column and sorted
// within each group. Non-entity top-level keys follow as plain columns.
// A row missing a given entity or property renders an empty cell, never
// a missing column.
func FlatColumns(rows []resultset.Value, entityColumns []string, opts Options) Table {
	props, plain := columnUniverse(rows, entityColumns)

	var columns []Column
	for _, c := range entityColumns {
		modelID := firstModelFor(rows, c)
		for _, p := range props[c] {
			columns = append(columns, Column{
				Path:         c + "." + p,
				Label:        c + "." + opts.propertyLabel(modelID, p),
				EntityColumn: c,
				Property:     p,
			})
		}
	}
	for _, k := range plain {
		columns = append(columns, Column{Path: k, Label: k})
	}

	out := Table{Mode: ModeFlat, Columns: columns}
	out.Rows = buildEntityRows(rows, entityColumns, columns)
	return out
}

// Grouped builds the grouped projection: the same column universe as
// FlatColumns, but each entity-column group is independently collapsible.
// A collapsed group renders as a single summary column showing the
// entity's identity key.
func Grouped(rows []resultset.Value, entityColumns []string, collapsed map[string]bool, opts Options) Table {
	props, plain := columnUniverse(rows, entityColumns)

	var columns []Column
	for _, c := range entityColumns {
		modelID := firstModelFor(rows, c)
		if collapsed[c] {
			columns = append(columns, Column{
				Path:         c,
				Label:        opts.groupLabel(c, modelID),
				EntityColumn: c,
				Summary:      true,
				Identity:     true,
			})
			continue
		}
		for _, p := range props[c] {
			columns = append(columns, Column{
				Path:         c + "." + p,
				Label:        c + "." + opts.propertyLabel(modelID, p),
				EntityColumn: c,
				Property:     p,
			})
		}
	}
	for _, k := range plain {
		columns = append(columns, Column{Path: k, Label: k})
	}

	out := Table{Mode: ModeGrouped, Columns: columns}
	out.Rows = buildEntityRows(rows, entityColumns, columns)
	return out
}

// ExpandableRows builds the row-expansion projection: one base column per
// entity column showing the identity key. Expanding a row (tracked by its
// stable key) reveals the full flattened property set inline without
// altering the column schema of other rows.
func ExpandableRows(rows []resultset.Value, entityColumns []string, expanded map[string]bool, opts Options) Table {
	columns := make([]Column, 0, len(entityColumns))
	for _, c := range entityColumns {
		modelID := firstModelFor(rows, c)
		columns = append(columns, Column{
			Path:         c,
			Label:        opts.groupLabel(c, modelID),
			EntityColumn: c,
			Summary:      true,
			Identity:     true,
		})
	}

	out := Table{Mode: ModeExpandable, Columns: columns}
	keysPerRow := rowKeys(rows, entityColumns)
	for i, row := range rows {
		cells := make([]Cell, len(columns))
		for ci, col := range columns {
			ent := entityAt(row, col.EntityColumn)
			if ent == nil {
				cells[ci] = emptyCell(nil)
				continue
			}
			cells[ci] = idCell(ent.ID, ent)
		}
		r := Row{Key: keysPerRow[i], Cells: cells, Source: row}
		if expanded[r.Key] {
			r.Details = map[string][]resultset.Property{}
			for _, c := range entityColumns {
				if ent := entityAt(row, c); ent != nil {
					r.Details[c] = ent.Properties()
				}
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

// buildEntityRows fills cells for the flat and grouped projections, whose
// columns mix per-property, summary, and plain columns.
func buildEntityRows(rows []resultset.Value, entityColumns []string, columns []Column) []Row {
	keysPerRow := rowKeys(rows, entityColumns)
	out := make([]Row, 0, len(rows))
	for i, row := range rows {
		// Classify each entity column once per row.
		entities := map[string]*resultset.Entity{}
		for _, c := range entityColumns {
			entities[c] = entityAt(row, c)
		}

		cells := make([]Cell, len(columns))
		for ci, col := range columns {
			switch {
			case col.Summary:
				ent := entities[col.EntityColumn]
				if ent == nil {
					cells[ci] = emptyCell(nil)
				} else {
					cells[ci] = idCell(ent.ID, ent)
				}
			case col.EntityColumn != "":
				ent := entities[col.EntityColumn]
				if ent == nil {
					cells[ci] = emptyCell(nil)
					break
				}
				cells[ci] = propertyCell(ent, col.Property)
			default:
				obj, ok := row.(*resultset.Object)
				if !ok {
					cells[ci] = emptyCell(nil)
					break
				}
				if v, ok := obj.Get(col.Path); ok {
					cells[ci] = cellFor(v, nil)
				} else {
					cells[ci] = emptyCell(nil)
				}
			}
		}
		out = append(out, Row{Key: keysPerRow[i], Cells: cells, Source: row})
	}
	return out
}

// propertyCell renders one entity property, keeping the entity reference
// on the cell for inspector hand-off even when the property is absent.
func propertyCell(ent *resultset.Entity, property string) Cell {
	obj, ok := ent.Value.(*resultset.Object)
	if !ok {
		return emptyCell(ent)
	}
	v, ok := obj.Get(property)
	if !ok {
		return emptyCell(ent)
	}
	return cellFor(v, ent)
}
