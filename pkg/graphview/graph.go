// Package graphview builds and incrementally grows the node/edge model
// behind the graph visualization. Nodes are twins keyed by their identity,
// edges are relationships keyed by relationship id; both accumulate
// idempotently so repeated or concurrent merges from multiple queries
// converge to the same graph. A generation token guards against stale
// asynchronous responses mutating a graph that has since been replaced.
package graphview

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/konnektr-io/twx-cli/pkg/resultset"
)

// generation is the process-wide token source. Each built graph captures
// a fresh value; invalidating a graph advances its stored token so that
// in-flight operations holding the old token are discarded on arrival.
var generation atomic.Uint64

// DefaultNodeSize is the initial render size of a node.
const DefaultNodeSize = 10

// Node is one twin in the graph.
type Node struct {
	ID       string
	Label    string
	Model    string
	X, Y     float64
	Size     float64
	Color    string
	Expanded bool
	// Payload is the source twin value, kept for inspector hand-off.
	Payload resultset.Value
}

// Edge is one relationship between two present nodes.
type Edge struct {
	ID      string
	Source  string
	Target  string
	Label   string
	Payload resultset.Value
}

// Model is the mutable graph. Created fresh when the top-level result set
// changes, mutated in place by expansion and auto-fetch, and replaced
// (never patched) when results change again.
type Model struct {
	mu    sync.Mutex
	token uint64

	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string

	pinned      bool
	autoFetched bool
}

// Build creates a graph from a result sequence. Every twin-classified
// value across all rows becomes a node, deduplicated by identity key.
// Every relationship-classified value becomes an edge, but only when both
// endpoints are already present as nodes from this same batch;
// relationships with a missing endpoint are dropped.
func Build(rows []resultset.Value) *Model {
	m := &Model{
		token: generation.Add(1),
		nodes: map[string]*Node{},
		edges: map[string]*Edge{},
	}

	entities := collectEntities(rows)
	for _, ent := range entities {
		if ent.Kind == resultset.KindTwin {
			m.addNodeLocked(ent)
		}
	}
	for _, ent := range entities {
		if ent.Kind == resultset.KindRelationship {
			m.addEdgeLocked(ent)
		}
	}
	return m
}

// collectEntities classifies each row itself, each top-level field, and
// the elements of top-level arrays. Deeper nesting is not walked; query
// projections put entities at the row surface.
func collectEntities(rows []resultset.Value) []resultset.Entity {
	var out []resultset.Entity
	appendIfEntity := func(v resultset.Value) {
		if ent := resultset.Classify(v); ent.IsEntity() {
			out = append(out, ent)
		}
	}
	for _, row := range rows {
		appendIfEntity(row)
		obj, ok := row.(*resultset.Object)
		if !ok {
			continue
		}
		for _, key := range obj.Keys() {
			v, _ := obj.Get(key)
			appendIfEntity(v)
			if arr, ok := v.([]resultset.Value); ok {
				for _, item := range arr {
					appendIfEntity(item)
				}
			}
		}
	}
	return out
}

// Token returns the generation token captured at build time. Callers
// starting an asynchronous operation capture it and pass it back to the
// merge methods, which discard the merge when the token no longer
// matches.
func (m *Model) Token() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Invalidate retires the graph: subsequent merges carrying the old token
// are silently discarded. The coordinator calls this when the result set
// changes while operations may still be in flight.
func (m *Model) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = generation.Add(1)
}

// addNodeLocked inserts a twin node; re-adding an existing id is a no-op,
// not an error. Caller holds no lock during Build (single-owner); the
// exported merge paths lock.
func (m *Model) addNodeLocked(ent resultset.Entity) bool {
	if _, exists := m.nodes[ent.ID]; exists {
		return false
	}
	m.nodes[ent.ID] = &Node{
		ID:      ent.ID,
		Label:   ent.ID,
		Model:   ent.Model,
		Size:    DefaultNodeSize,
		Color:   ColorFor(ent.Model),
		Payload: ent.Value,
	}
	m.nodeOrder = append(m.nodeOrder, ent.ID)
	return true
}

// addEdgeLocked inserts a relationship edge when both endpoints exist.
// Duplicate edge ids are silently skipped, which makes repeated and
// incremental population from multiple queries idempotent.
func (m *Model) addEdgeLocked(ent resultset.Entity) bool {
	if _, exists := m.edges[ent.ID]; exists {
		return false
	}
	if _, ok := m.nodes[ent.SourceID]; !ok {
		return false
	}
	if _, ok := m.nodes[ent.TargetID]; !ok {
		return false
	}
	m.edges[ent.ID] = &Edge{
		ID:      ent.ID,
		Source:  ent.SourceID,
		Target:  ent.TargetID,
		Label:   ent.Model,
		Payload: ent.Value,
	}
	m.edgeOrder = append(m.edgeOrder, ent.ID)
	return true
}

// MergeTwins adds twin-classified values as nodes. Values that do not
// classify as twins are ignored. The merge is discarded when token is
// stale. Returns the number of nodes added.
func (m *Model) MergeTwins(token uint64, values []resultset.Value) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.token {
		return 0
	}
	added := 0
	for _, v := range values {
		ent := resultset.Classify(v)
		if ent.Kind != resultset.KindTwin {
			continue
		}
		if m.addNodeLocked(ent) {
			added++
		}
	}
	return added
}

// MergeRelationships adds relationship-classified values as edges,
// subject to the endpoint rule and edge-id dedup. The merge is discarded
// when token is stale. Returns the number of edges added. Merging the
// same payload twice yields exactly one edge per relationship id, so
// concurrent expansions converge regardless of arrival order.
func (m *Model) MergeRelationships(token uint64, values []resultset.Value) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.token {
		return 0
	}
	added := 0
	for _, v := range values {
		ent := resultset.Classify(v)
		if ent.Kind != resultset.KindRelationship {
			continue
		}
		if m.addEdgeLocked(ent) {
			added++
		}
	}
	return added
}

// HasNode reports whether a node id is present.
func (m *Model) HasNode(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[id]
	return ok
}

// NodeCount returns the number of nodes.
func (m *Model) NodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// EdgeCount returns the number of edges.
func (m *Model) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

// Nodes returns node snapshots in insertion order.
func (m *Model) Nodes() []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.nodeOrder))
	for _, id := range m.nodeOrder {
		out = append(out, *m.nodes[id])
	}
	return out
}

// Edges returns edge snapshots in insertion order.
func (m *Model) Edges() []Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Edge, 0, len(m.edgeOrder))
	for _, id := range m.edgeOrder {
		out = append(out, *m.edges[id])
	}
	return out
}

// NodeIDs returns node ids in insertion order.
func (m *Model) NodeIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.nodeOrder))
	copy(out, m.nodeOrder)
	return out
}

// Node returns a snapshot of one node.
func (m *Model) Node(id string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// MoveNode records a manual reposition and pins the graph: automatic
// re-layout is suppressed until ClearPinned.
func (m *Model) MoveNode(id string, x, y float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not in graph", id)
	}
	n.X, n.Y = x, y
	m.pinned = true
	return nil
}

// Pinned reports whether manual positioning suppresses automatic layout.
func (m *Model) Pinned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned
}

// ClearPinned re-enables automatic layout; the explicit reset the user
// performs to get positions recomputed again.
func (m *Model) ClearPinned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = false
}

// ResultKey identifies a result set by the sorted list of twin identity
// keys it contains. The coordinator rebuilds the graph when the key
// changes and keeps the existing graph when it does not.
func ResultKey(rows []resultset.Value) string {
	ids := map[string]bool{}
	for _, ent := range collectEntities(rows) {
		if ent.Kind == resultset.KindTwin {
			ids[ent.ID] = true
		}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}
