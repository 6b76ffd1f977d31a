// Package explorer coordinates query results with their display: it owns
// the view state of one result set (view mode, table layout, display
// options, paging), re-derives table projections when results or options
// change, and manages the graph model's lifecycle across result changes.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/konnektr-io/twx-cli/pkg/dtdl"
	"github.com/konnektr-io/twx-cli/pkg/graphview"
	"github.com/konnektr-io/twx-cli/pkg/logging"
	"github.com/konnektr-io/twx-cli/pkg/resultset"
	"github.com/konnektr-io/twx-cli/pkg/tableview"
)

// Selection is one entity or row handed off for inspection.
type Selection struct {
	// Entity is the classified entity behind the selection, nil when a
	// plain row was selected.
	Entity *resultset.Entity
	// Row is the raw result value backing the selection.
	Row resultset.Value
}

// InspectFunc receives selections. Nil means selections are dropped.
type InspectFunc func(Selection)

// ViewState is the display state of the current result set. It resets on
// every result change and is never persisted.
type ViewState struct {
	View      resultset.View
	TableMode tableview.Mode
	Layout    graphview.Layout

	// DisplayNames switches column labels to model display names.
	DisplayNames bool

	// Collapsed tracks collapsed entity-column groups (grouped mode).
	Collapsed map[string]bool
	// Expanded tracks expanded row keys (expandable mode).
	Expanded map[string]bool

	// Page is the 1-based table page.
	Page int
}

// Coordinator owns one result set and its view state. One coordinator per
// open query; no cross-query sharing.
type Coordinator struct {
	mu sync.Mutex

	models    dtdl.Lookup
	inspector InspectFunc
	log       logging.Logger

	rows     []resultset.Value
	analysis resultset.Analysis
	state    ViewState

	graph    *graphview.Model
	graphKey string

	// table is the unpaged projection for the current mode and options.
	table tableview.Table
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInspector sets the selection hand-off callback.
func WithInspector(fn InspectFunc) Option {
	return func(c *Coordinator) { c.inspector = fn }
}

// WithDisplayNames enables display-name labels from the start.
func WithDisplayNames(on bool) Option {
	return func(c *Coordinator) { c.state.DisplayNames = on }
}

// New creates a coordinator. The model lookup may be nil, which behaves
// like an always-missing cache.
func New(models dtdl.Lookup, log logging.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &Coordinator{
		models: models,
		log:    log,
		state: ViewState{
			View:      resultset.ViewTable,
			TableMode: tableview.ModeSimple,
			Layout:    graphview.LayoutForce,
			Collapsed: map[string]bool{},
			Expanded:  map[string]bool{},
			Page:      1,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetResults installs a new result batch: analysis re-runs, the view mode
// resets to the recommendation, paging and collapse flags reset. The
// graph model is rebuilt only when the set of twin identities actually
// changed; rebuilding invalidates the old model so in-flight expansions
// against it are discarded on arrival.
func (c *Coordinator) SetResults(raws []json.RawMessage) {
	rows := resultset.DecodeRows(raws)
	analysis := resultset.Analyze(rows)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows = rows
	c.analysis = analysis

	displayNames := c.state.DisplayNames
	c.state = ViewState{
		View:         analysis.RecommendedView,
		TableMode:    defaultTableMode(analysis.Shape),
		Layout:       c.state.Layout,
		DisplayNames: displayNames,
		Collapsed:    map[string]bool{},
		Expanded:     map[string]bool{},
		Page:         1,
	}

	key := graphview.ResultKey(rows)
	if key != c.graphKey || c.graph == nil {
		if c.graph != nil {
			c.graph.Invalidate()
		}
		c.graph = graphview.Build(rows)
		c.graphKey = key
		c.log.Debug("graph rebuilt",
			logging.F("nodes", c.graph.NodeCount()),
			logging.F("edges", c.graph.EdgeCount()))
	}

	c.rebuildTableLocked()
	c.log.Debug("results installed",
		logging.F("rows", len(rows)),
		logging.F("shape", analysis.Shape.String()),
		logging.F("view", string(analysis.RecommendedView)))
}

// defaultTableMode picks the table layout for a freshly analyzed batch.
func defaultTableMode(shape resultset.Shape) tableview.Mode {
	if shape == resultset.ShapeNestedEntities {
		return tableview.ModeGrouped
	}
	return tableview.ModeSimple
}

// Analysis returns the analysis of the current result batch.
func (c *Coordinator) Analysis() resultset.Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysis
}

// State returns a snapshot of the view state. Flag maps are copied.
func (c *Coordinator) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	out.Collapsed = copyFlags(c.state.Collapsed)
	out.Expanded = copyFlags(c.state.Expanded)
	return out
}

func copyFlags(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Rows returns the decoded rows of the current batch.
func (c *Coordinator) Rows() []resultset.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// SetViewMode switches between table, graph, and raw display.
func (c *Coordinator) SetViewMode(view resultset.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.View = view
}

// SetTableMode switches the table projection. Only the projection
// rebuilds; analysis and the graph are untouched.
func (c *Coordinator) SetTableMode(mode tableview.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.TableMode == mode {
		return
	}
	c.state.TableMode = mode
	c.state.Page = 1
	c.rebuildTableLocked()
}

// SetDisplayNames toggles display-name labels and rebuilds only the
// active projection.
func (c *Coordinator) SetDisplayNames(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.DisplayNames == on {
		return
	}
	c.state.DisplayNames = on
	c.rebuildTableLocked()
}

// ToggleColumn flips the collapse flag of an entity-column group
// (grouped mode).
func (c *Coordinator) ToggleColumn(column string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Collapsed[column] = !c.state.Collapsed[column]
	if c.state.TableMode == tableview.ModeGrouped {
		c.rebuildTableLocked()
	}
}

// ToggleRow flips the expansion flag of a row by its stable key
// (expandable mode).
func (c *Coordinator) ToggleRow(rowKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Expanded[rowKey] = !c.state.Expanded[rowKey]
	if c.state.TableMode == tableview.ModeExpandable {
		c.rebuildTableLocked()
	}
}

// SetPage moves to a table page. Paging re-slices the built projection,
// it never rebuilds it.
func (c *Coordinator) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 {
		page = 1
	}
	c.state.Page = page
}

// Table returns the current page of the active projection.
func (c *Coordinator) Table() tableview.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.PageSlice(c.state.Page)
}

// rebuildTableLocked re-runs only the active projection function.
// Caller must hold c.mu.
func (c *Coordinator) rebuildTableLocked() {
	opts := tableview.Options{DisplayNames: c.state.DisplayNames, Models: c.models}
	switch c.state.TableMode {
	case tableview.ModeFlat:
		c.table = tableview.FlatColumns(c.rows, c.analysis.EntityColumns, opts)
	case tableview.ModeGrouped:
		c.table = tableview.Grouped(c.rows, c.analysis.EntityColumns, c.state.Collapsed, opts)
	case tableview.ModeExpandable:
		c.table = tableview.ExpandableRows(c.rows, c.analysis.EntityColumns, c.state.Expanded, opts)
	default:
		c.table = tableview.Simple(c.rows, opts)
	}
}

// Graph returns the live graph model. Callers share the coordinator's
// instance; the model carries its own synchronization.
func (c *Coordinator) Graph() *graphview.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}

// ApplyLayout runs a layout strategy on the current graph. Returns false
// when a node has been manually positioned and relayout is suppressed.
func (c *Coordinator) ApplyLayout(layout graphview.Layout, vp graphview.Viewport) bool {
	c.mu.Lock()
	c.state.Layout = layout
	graph := c.graph
	c.mu.Unlock()
	if graph == nil {
		return false
	}
	return graph.ApplyLayout(layout, vp)
}

// ExpandNode expands one node of the current graph. The fetch runs
// without holding the coordinator lock; if the result set changes while
// the fetch is in flight the superseded model discards the merge.
func (c *Coordinator) ExpandNode(ctx context.Context, nodeID string, src graphview.NeighborSource) error {
	c.mu.Lock()
	graph := c.graph
	log := c.log
	c.mu.Unlock()
	if graph == nil {
		return fmt.Errorf("no graph to expand")
	}
	return graph.ExpandNode(ctx, nodeID, src, log)
}

// AutoFetchRelationships runs the once-per-result-set relationship
// backfill on the current graph.
func (c *Coordinator) AutoFetchRelationships(ctx context.Context, src graphview.RelationshipBatchSource) (int, error) {
	c.mu.Lock()
	graph := c.graph
	c.mu.Unlock()
	if graph == nil {
		return 0, nil
	}
	return graph.AutoFetchRelationships(ctx, src)
}

// SelectRow hands the row with the given stable key to the inspector.
func (c *Coordinator) SelectRow(rowKey string) error {
	c.mu.Lock()
	var source resultset.Value
	found := false
	for _, row := range c.table.Rows {
		if row.Key == rowKey {
			source = row.Source
			found = true
			break
		}
	}
	inspector := c.inspector
	c.mu.Unlock()

	if !found {
		return fmt.Errorf("row %q not in the current projection", rowKey)
	}
	if inspector != nil {
		inspector(Selection{Row: source})
	}
	return nil
}

// SelectEntity hands a classified entity to the inspector, as reported by
// an entity-column cell.
func (c *Coordinator) SelectEntity(ent resultset.Entity) {
	c.mu.Lock()
	inspector := c.inspector
	c.mu.Unlock()
	if inspector != nil {
		inspector(Selection{Entity: &ent, Row: ent.Value})
	}
}

// ExportCurrentTable serializes the current page of the active projection
// as CSV: visible column labels as the header, one record per visible row.
func (c *Coordinator) ExportCurrentTable(w io.Writer) error {
	c.mu.Lock()
	table := c.table.PageSlice(c.state.Page)
	c.mu.Unlock()
	return tableview.WriteCSV(w, table)
}
