package graphview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/konnektr-io/twx-cli/pkg/logging"
	"github.com/konnektr-io/twx-cli/pkg/resultset"
)

// NeighborSource supplies the neighborhood of a twin: its relationships in
// both directions and individual twins by identity key. The command layer
// adapts the configured backend to this interface.
type NeighborSource interface {
	// Relationships returns the raw relationship payloads where the twin
	// is either endpoint.
	Relationships(ctx context.Context, twinID string) ([]json.RawMessage, error)

	// Twin returns the raw twin payload for one identity key.
	Twin(ctx context.Context, twinID string) (json.RawMessage, error)
}

// RelationshipBatchSource supplies all relationships among a set of twins,
// used for populating edges between already-displayed nodes.
type RelationshipBatchSource interface {
	RelationshipsAmong(ctx context.Context, twinIDs []string) ([]json.RawMessage, error)
}

// ExpandNode fetches the relationships of one node and merges the missing
// neighbor twins plus the connecting edges into the graph. Expanding an
// already-expanded node is a no-op. Individual neighbor fetch failures are
// logged and skipped; an error is returned only when the relationship
// fetch itself fails or every neighbor fetch fails.
func (m *Model) ExpandNode(ctx context.Context, nodeID string, src NeighborSource, log logging.Logger) error {
	if log == nil {
		log = logging.NewNopLogger()
	}
	token := m.Token()

	m.mu.Lock()
	node, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("node %q not in graph", nodeID)
	}
	if node.Expanded {
		m.mu.Unlock()
		return nil
	}
	node.Expanded = true
	m.mu.Unlock()

	raws, err := src.Relationships(ctx, nodeID)
	if err != nil {
		// Leave the node expandable so the user can retry.
		m.mu.Lock()
		if n, ok := m.nodes[nodeID]; ok {
			n.Expanded = false
		}
		m.mu.Unlock()
		return fmt.Errorf("fetching relationships of %s: %w", nodeID, err)
	}

	rels := decodeRaw(raws)

	// Neighbor twins are fetched only for endpoints not already displayed,
	// and only after the relationship fetch has completed.
	missing := m.missingEndpoints(nodeID, rels)
	failures := 0
	var twins []resultset.Value
	for _, id := range missing {
		raw, err := src.Twin(ctx, id)
		if err != nil {
			failures++
			log.Warn("skipping unreachable neighbor",
				logging.F("twin_id", id), logging.Err(err))
			continue
		}
		v, err := resultset.Decode(raw)
		if err != nil {
			failures++
			log.Warn("skipping undecodable neighbor",
				logging.F("twin_id", id), logging.Err(err))
			continue
		}
		twins = append(twins, v)
	}

	m.MergeTwins(token, twins)
	m.MergeRelationships(token, rels)

	if len(missing) > 0 && failures == len(missing) {
		return fmt.Errorf("expanding %s: all %d neighbor fetches failed", nodeID, failures)
	}
	return nil
}

// missingEndpoints lists, in relationship order and deduplicated, the
// endpoint ids of rels that are not yet nodes, excluding the node being
// expanded.
func (m *Model) missingEndpoints(nodeID string, rels []resultset.Value) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || id == nodeID || seen[id] {
			return
		}
		seen[id] = true
		if _, ok := m.nodes[id]; !ok {
			out = append(out, id)
		}
	}
	for _, v := range rels {
		ent := resultset.Classify(v)
		if ent.Kind != resultset.KindRelationship {
			continue
		}
		add(ent.SourceID)
		add(ent.TargetID)
	}
	return out
}

// AutoFetchRelationships populates the edges among all currently displayed
// nodes. It runs at most once per graph lifetime; RetryAutoFetch re-arms
// it after a failure. Returns the number of edges added.
func (m *Model) AutoFetchRelationships(ctx context.Context, src RelationshipBatchSource) (int, error) {
	m.mu.Lock()
	if m.autoFetched {
		m.mu.Unlock()
		return 0, nil
	}
	m.autoFetched = true
	token := m.token
	ids := make([]string, len(m.nodeOrder))
	copy(ids, m.nodeOrder)
	m.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	raws, err := src.RelationshipsAmong(ctx, ids)
	if err != nil {
		m.mu.Lock()
		m.autoFetched = false
		m.mu.Unlock()
		return 0, fmt.Errorf("fetching relationships among %d twins: %w", len(ids), err)
	}

	return m.MergeRelationships(token, decodeRaw(raws)), nil
}

// RetryAutoFetch re-arms AutoFetchRelationships after an explicit retry.
func (m *Model) RetryAutoFetch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoFetched = false
}

// decodeRaw decodes raw payloads, dropping the undecodable ones; the
// classify step downstream ignores anything that is not an entity anyway.
func decodeRaw(raws []json.RawMessage) []resultset.Value {
	out := make([]resultset.Value, 0, len(raws))
	for _, raw := range raws {
		v, err := resultset.Decode(raw)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
