// Package tableview builds tabular projections over a query result
// sequence. Four independent projections share the same inputs: a simple
// one-column-per-key table, a flattened per-property table, a grouped
// table with collapsible entity-column groups, and an expandable-rows
// table. Projections are deterministic: the same results and options
// always produce the same column set and row ordering.
package tableview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/konnektr-io/twx-cli/pkg/dtdl"
	"github.com/konnektr-io/twx-cli/pkg/resultset"
)

// PageSize is the fixed number of rows shown per table page. Paging
// re-slices an already-built projection; it never rebuilds it.
const PageSize = 50

// Mode identifies which projection built a table.
type Mode string

const (
	ModeSimple     Mode = "simple"
	ModeFlat       Mode = "flat"
	ModeGrouped    Mode = "grouped"
	ModeExpandable Mode = "expandable"
)

// Options control label derivation for all projections.
type Options struct {
	// DisplayNames switches column labels from raw property names to the
	// model-defined display names. Lookup misses fall back to raw names.
	DisplayNames bool

	// Models is the read-only model cache consulted for display names.
	// May be nil, which behaves like an always-missing cache.
	Models dtdl.Lookup
}

// CellKind distinguishes how a cell value renders.
type CellKind int

const (
	// CellEmpty is a missing value: the row lacks the entity or property
	// backing this column.
	CellEmpty CellKind = iota
	// CellText is a plain scalar.
	CellText
	// CellBool renders as a binary indicator, distinct from text.
	CellBool
	// CellID renders an identity key in a code/monospace style.
	CellID
	// CellJSON is a nested value rendered as its JSON text form.
	CellJSON
)

// Cell is one table cell.
type Cell struct {
	Kind CellKind
	Text string
	// Value is the raw backing value, nil for empty cells.
	Value resultset.Value
	// Entity is set on cells belonging to an entity column; it reports
	// which classified entity (and raw payload) a click on this cell
	// refers to, for inspector hand-off.
	Entity *resultset.Entity
}

// Column describes one column of a projection.
type Column struct {
	// Path identifies where in a row the value lives, e.g.
	// "twin.temperature". Plain top-level keys have no dot.
	Path string
	// Label is the display label derived per Options.
	Label string
	// EntityColumn is the top-level row key this column belongs to, or
	// "" for plain scalar columns.
	EntityColumn string
	// Property is the property name within the entity, "" for identity
	// or summary columns.
	Property string
	// Summary marks the single stand-in column of a collapsed group.
	Summary bool
	// Identity marks columns holding an entity identity key.
	Identity bool
}

// Row is one projected table row.
type Row struct {
	// Key is a stable identity for the row: derived from the entity
	// identity keys it contains, so the same logical row keeps its key
	// across rebuilds with different options.
	Key   string
	Cells []Cell
	// Source is the raw result row backing this table row.
	Source resultset.Value
	// Details carries the flattened property sets revealed for an
	// expanded row (expandable mode only), keyed by entity column.
	Details map[string][]resultset.Property
}

// Table is a fully built projection.
type Table struct {
	Mode    Mode
	Columns []Column
	Rows    []Row

	// TotalRows is the unpaged row count; set by Page.
	TotalRows int
	// Page is the 1-based page number; 0 means unpaged.
	Page int
}

// Page returns the fixed-size page slice of t. Pages are 1-based and
// clamped into range; paging never re-runs projection building.
func (t Table) PageSlice(page int) Table {
	total := len(t.Rows)
	if page < 1 {
		page = 1
	}
	lastPage := (total + PageSize - 1) / PageSize
	if lastPage < 1 {
		lastPage = 1
	}
	if page > lastPage {
		page = lastPage
	}
	start := (page - 1) * PageSize
	end := start + PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	out := t
	out.Rows = t.Rows[start:end]
	out.TotalRows = total
	out.Page = page
	return out
}

// Pages returns the number of pages the unpaged table spans.
func (t Table) Pages() int {
	total := t.TotalRows
	if total == 0 {
		total = len(t.Rows)
	}
	pages := (total + PageSize - 1) / PageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

// cellFor renders a property or plain value into a cell.
func cellFor(v resultset.Value, ent *resultset.Entity) Cell {
	switch t := v.(type) {
	case bool:
		return Cell{Kind: CellBool, Text: fmt.Sprintf("%t", t), Value: v, Entity: ent}
	case nil:
		return Cell{Kind: CellText, Text: "", Value: v, Entity: ent}
	case *resultset.Object, []resultset.Value:
		return Cell{Kind: CellJSON, Text: resultset.JSONString(v), Value: v, Entity: ent}
	default:
		return Cell{Kind: CellText, Text: resultset.JSONString(v), Value: v, Entity: ent}
	}
}

func emptyCell(ent *resultset.Entity) Cell {
	return Cell{Kind: CellEmpty, Entity: ent}
}

func idCell(id string, ent *resultset.Entity) Cell {
	return Cell{Kind: CellID, Text: id, Value: resultset.Value(id), Entity: ent}
}

// rowKeys derives a stable key per row from the identity keys of the
// entities it contains, in entity-column order. Rows without entities key
// by position; duplicate keys are disambiguated by suffix so per-row view
// state (expansion flags) stays well-defined.
func rowKeys(rows []resultset.Value, entityColumns []string) []string {
	keys := make([]string, len(rows))
	seen := map[string]int{}
	for i, row := range rows {
		var parts []string
		if obj, ok := row.(*resultset.Object); ok {
			if self := resultset.Classify(row); self.IsEntity() {
				parts = append(parts, self.ID)
			}
			for _, c := range entityColumns {
				if v, ok := obj.Get(c); ok {
					if ent := resultset.Classify(v); ent.IsEntity() {
						parts = append(parts, c+":"+ent.ID)
					}
				}
			}
		}
		key := strings.Join(parts, "|")
		if key == "" {
			key = fmt.Sprintf("row-%d", i)
		}
		if n := seen[key]; n > 0 {
			seen[key] = n + 1
			key = fmt.Sprintf("%s#%d", key, n)
		} else {
			seen[key] = 1
		}
		keys[i] = key
	}
	return keys
}

// propertyLabel resolves the display label of one entity property,
// walking the model's extends chain. Raw mode and lookup misses return
// the raw name.
func (o Options) propertyLabel(modelID, name string) string {
	if !o.DisplayNames || o.Models == nil || modelID == "" {
		return name
	}
	visited := map[string]bool{}
	if label, ok := resolvePropertyLabel(o.Models, modelID, name, visited); ok {
		return label
	}
	return name
}

func resolvePropertyLabel(models dtdl.Lookup, modelID, name string, visited map[string]bool) (string, bool) {
	if visited[modelID] {
		return "", false
	}
	visited[modelID] = true
	m, err := models.Lookup(modelID)
	if err != nil {
		return "", false
	}
	for _, p := range m.Properties {
		if p.Name == name {
			if p.DisplayName != "" {
				return p.DisplayName, true
			}
			return p.Name, true
		}
	}
	for _, parent := range m.Extends {
		if label, ok := resolvePropertyLabel(models, parent, name, visited); ok {
			return label, ok
		}
	}
	return "", false
}

// groupLabel resolves the label for an entity-column group: the model's
// display name in display mode when resolvable, otherwise the column key.
func (o Options) groupLabel(column string, modelID string) string {
	if !o.DisplayNames || o.Models == nil || modelID == "" {
		return column
	}
	m, err := o.Models.Lookup(modelID)
	if err != nil || m.DisplayName == "" {
		return column
	}
	return m.DisplayName
}

// entityAt classifies the value under an entity column of a row,
// returning nil when the row lacks the column or it holds a non-entity.
func entityAt(row resultset.Value, column string) *resultset.Entity {
	obj, ok := row.(*resultset.Object)
	if !ok {
		return nil
	}
	v, ok := obj.Get(column)
	if !ok {
		return nil
	}
	ent := resultset.Classify(v)
	if !ent.IsEntity() {
		return nil
	}
	return &ent
}

// columnUniverse computes, per entity column, the sorted union of
// property keys observed across all rows, plus the sorted list of
// non-entity top-level keys. No column is dropped because one row lacks
// it, and no column appears that no row populates.
func columnUniverse(rows []resultset.Value, entityColumns []string) (map[string][]string, []string) {
	entitySet := map[string]bool{}
	for _, c := range entityColumns {
		entitySet[c] = true
	}

	propsPerColumn := map[string]map[string]bool{}
	plainSet := map[string]bool{}

	for _, row := range rows {
		obj, ok := row.(*resultset.Object)
		if !ok {
			continue
		}
		for _, key := range obj.Keys() {
			if entitySet[key] {
				ent := entityAt(row, key)
				if ent == nil {
					continue
				}
				set := propsPerColumn[key]
				if set == nil {
					set = map[string]bool{}
					propsPerColumn[key] = set
				}
				for _, p := range ent.Properties() {
					set[p.Name] = true
				}
				continue
			}
			plainSet[key] = true
		}
	}

	props := make(map[string][]string, len(propsPerColumn))
	for c, set := range propsPerColumn {
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		props[c] = names
	}

	plain := make([]string, 0, len(plainSet))
	for k := range plainSet {
		plain = append(plain, k)
	}
	sort.Strings(plain)

	return props, plain
}

// firstModelFor finds the model hint of the first entity observed under a
// column, used for display-name derivation.
func firstModelFor(rows []resultset.Value, column string) string {
	for _, row := range rows {
		if ent := entityAt(row, column); ent != nil && ent.Model != "" {
			return ent.Model
		}
	}
	return ""
}
