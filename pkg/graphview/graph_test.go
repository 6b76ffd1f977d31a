package graphview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektr-io/twx-cli/pkg/logging"
	"github.com/konnektr-io/twx-cli/pkg/resultset"
)

func twinJSON(id string) string {
	return fmt.Sprintf(`{"$dtId":%q,"$metadata":{"$model":"dtmi:example:Room;1"}}`, id)
}

func relJSON(id, source, target string) string {
	return fmt.Sprintf(`{"$relationshipId":%q,"$sourceId":%q,"$targetId":%q,"$relationshipName":"contains"}`, id, source, target)
}

func decode(t *testing.T, raws ...string) []resultset.Value {
	t.Helper()
	out := make([]resultset.Value, 0, len(raws))
	for _, raw := range raws {
		v, err := resultset.Decode([]byte(raw))
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestBuild_NodesAreUniqueByIdentity(t *testing.T) {
	// The same twin returned by two rows (and once nested under a column)
	// yields exactly one node.
	rows := decode(t,
		twinJSON("t1"),
		twinJSON("t1"),
		`{"twin": `+twinJSON("t1")+`, "other": `+twinJSON("t2")+`}`,
	)

	g := Build(rows)
	assert.Equal(t, 2, g.NodeCount())
	assert.True(t, g.HasNode("t1"))
	assert.True(t, g.HasNode("t2"))
}

func TestBuild_EdgeRequiresBothEndpoints(t *testing.T) {
	// Ten twins and their interconnecting relationships in one result:
	// edges appear only where both endpoints are present.
	rows := decode(t,
		`{"twin": `+twinJSON("a")+`, "rel": `+relJSON("r1", "a", "b")+`}`,
		`{"twin": `+twinJSON("b")+`, "rel": `+relJSON("r2", "b", "ghost")+`}`,
	)

	g := Build(rows)
	assert.Equal(t, 2, g.NodeCount())
	require.Equal(t, 1, g.EdgeCount())
	edge := g.Edges()[0]
	assert.Equal(t, "r1", edge.ID)
	assert.Equal(t, "a", edge.Source)
	assert.Equal(t, "b", edge.Target)
}

func TestBuild_ArrayElementsCollected(t *testing.T) {
	rows := decode(t,
		`{"twins": [`+twinJSON("a")+`,`+twinJSON("b")+`], "rels": [`+relJSON("r1", "a", "b")+`]}`,
	)

	g := Build(rows)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
}

func TestMergeRelationships_Idempotent(t *testing.T) {
	g := Build(decode(t, twinJSON("a"), twinJSON("b")))
	rels := decode(t, relJSON("r1", "a", "b"))

	assert.Equal(t, 1, g.MergeRelationships(g.Token(), rels))
	assert.Equal(t, 0, g.MergeRelationships(g.Token(), rels), "duplicate edge ids are skipped")
	assert.Equal(t, 1, g.EdgeCount())
}

func TestMerge_StaleTokenDiscarded(t *testing.T) {
	g := Build(decode(t, twinJSON("a"), twinJSON("b")))
	stale := g.Token()

	// The result set changes while a fetch is in flight.
	g.Invalidate()

	added := g.MergeRelationships(stale, decode(t, relJSON("r1", "a", "b")))
	assert.Zero(t, added)
	assert.Zero(t, g.EdgeCount(), "stale responses must not mutate the graph")

	assert.Zero(t, g.MergeTwins(stale, decode(t, twinJSON("c"))))
	assert.Equal(t, 2, g.NodeCount())
}

type fakeSource struct {
	rels      map[string][]json.RawMessage
	twins     map[string]json.RawMessage
	relErr    error
	twinErr   map[string]error
	relCalls  int
	twinCalls []string
}

func (f *fakeSource) Relationships(_ context.Context, twinID string) ([]json.RawMessage, error) {
	f.relCalls++
	if f.relErr != nil {
		return nil, f.relErr
	}
	return f.rels[twinID], nil
}

func (f *fakeSource) Twin(_ context.Context, twinID string) (json.RawMessage, error) {
	f.twinCalls = append(f.twinCalls, twinID)
	if err := f.twinErr[twinID]; err != nil {
		return nil, err
	}
	raw, ok := f.twins[twinID]
	if !ok {
		return nil, errors.New("not found")
	}
	return raw, nil
}

func TestExpandNode(t *testing.T) {
	g := Build(decode(t, twinJSON("a")))
	src := &fakeSource{
		rels: map[string][]json.RawMessage{
			"a": {
				json.RawMessage(relJSON("r1", "a", "b")),
				json.RawMessage(relJSON("r2", "c", "a")),
			},
		},
		twins: map[string]json.RawMessage{
			"b": json.RawMessage(twinJSON("b")),
			"c": json.RawMessage(twinJSON("c")),
		},
	}

	require.NoError(t, g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger()))
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())

	node, ok := g.Node("a")
	require.True(t, ok)
	assert.True(t, node.Expanded)

	// Expanding again is a no-op: no second round of fetches.
	require.NoError(t, g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger()))
	assert.Equal(t, 1, src.relCalls)
	assert.Equal(t, 3, g.NodeCount())
}

func TestExpandNode_PartialNeighborFailureSkips(t *testing.T) {
	g := Build(decode(t, twinJSON("a")))
	src := &fakeSource{
		rels: map[string][]json.RawMessage{
			"a": {
				json.RawMessage(relJSON("r1", "a", "b")),
				json.RawMessage(relJSON("r2", "a", "c")),
			},
		},
		twins:   map[string]json.RawMessage{"b": json.RawMessage(twinJSON("b"))},
		twinErr: map[string]error{"c": errors.New("boom")},
	}

	require.NoError(t, g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger()),
		"one failed neighbor does not fail the expansion")
	assert.True(t, g.HasNode("b"))
	assert.False(t, g.HasNode("c"))
	assert.Equal(t, 1, g.EdgeCount(), "edge to the missing neighbor is dropped")
}

func TestExpandNode_AllNeighborFailuresError(t *testing.T) {
	g := Build(decode(t, twinJSON("a")))
	src := &fakeSource{
		rels: map[string][]json.RawMessage{
			"a": {json.RawMessage(relJSON("r1", "a", "b"))},
		},
		twinErr: map[string]error{"b": errors.New("boom")},
	}

	err := g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestExpandNode_RelationshipFetchFailureIsRetryable(t *testing.T) {
	g := Build(decode(t, twinJSON("a")))
	src := &fakeSource{relErr: errors.New("down")}

	require.Error(t, g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger()))

	node, _ := g.Node("a")
	assert.False(t, node.Expanded, "a failed expansion stays retryable")

	src.relErr = nil
	src.rels = map[string][]json.RawMessage{"a": nil}
	require.NoError(t, g.ExpandNode(context.Background(), "a", src, logging.NewNopLogger()))
	assert.Equal(t, 2, src.relCalls)
}

type fakeBatch struct {
	raws  []json.RawMessage
	err   error
	calls int
}

func (f *fakeBatch) RelationshipsAmong(_ context.Context, _ []string) ([]json.RawMessage, error) {
	f.calls++
	return f.raws, f.err
}

func TestAutoFetchRelationships_OncePerLifetime(t *testing.T) {
	g := Build(decode(t, twinJSON("a"), twinJSON("b")))
	src := &fakeBatch{raws: []json.RawMessage{json.RawMessage(relJSON("r1", "a", "b"))}}

	added, err := g.AutoFetchRelationships(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = g.AutoFetchRelationships(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 1, src.calls)

	g.RetryAutoFetch()
	_, err = g.AutoFetchRelationships(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestAutoFetchRelationships_FailureReArms(t *testing.T) {
	g := Build(decode(t, twinJSON("a")))
	src := &fakeBatch{err: errors.New("down")}

	_, err := g.AutoFetchRelationships(context.Background(), src)
	require.Error(t, err)

	src.err = nil
	_, err = g.AutoFetchRelationships(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestApplyLayout_ScatterIsDeterministic(t *testing.T) {
	build := func() *Model {
		return Build(decode(t, twinJSON("a"), twinJSON("b"), twinJSON("c")))
	}
	vp := Viewport{Width: 800, Height: 600}

	g1, g2 := build(), build()
	require.True(t, g1.ApplyLayout(LayoutScatter, vp))
	require.True(t, g2.ApplyLayout(LayoutScatter, vp))

	n1, n2 := g1.Nodes(), g2.Nodes()
	for i := range n1 {
		assert.Equal(t, n1[i].X, n2[i].X)
		assert.Equal(t, n1[i].Y, n2[i].Y)
	}
}

func TestApplyLayout_CircleSpacesNodes(t *testing.T) {
	g := Build(decode(t, twinJSON("a"), twinJSON("b"), twinJSON("c"), twinJSON("d")))
	require.True(t, g.ApplyLayout(LayoutCircle, Viewport{Width: 400, Height: 400}))

	positions := map[[2]float64]bool{}
	for _, n := range g.Nodes() {
		positions[[2]float64{n.X, n.Y}] = true
	}
	assert.Len(t, positions, 4, "all nodes get distinct positions")
}

func TestApplyLayout_PinnedSuppressesRelayout(t *testing.T) {
	g := Build(decode(t, twinJSON("a"), twinJSON("b")))
	require.True(t, g.ApplyLayout(LayoutCircle, Viewport{Width: 400, Height: 400}))

	require.NoError(t, g.MoveNode("a", 5, 5))
	assert.False(t, g.ApplyLayout(LayoutCircle, Viewport{Width: 400, Height: 400}),
		"manual positioning suppresses automatic re-layout")
	node, _ := g.Node("a")
	assert.Equal(t, 5.0, node.X)

	g.ClearPinned()
	assert.True(t, g.ApplyLayout(LayoutCircle, Viewport{Width: 400, Height: 400}))
	node, _ = g.Node("a")
	assert.NotEqual(t, 5.0, node.X)
}

func TestApplyLayout_ForceFitsViewport(t *testing.T) {
	rows := decode(t,
		`{"a": `+twinJSON("a")+`, "b": `+twinJSON("b")+`, "r": `+relJSON("r1", "a", "b")+`}`,
		`{"a": `+twinJSON("c")+`}`,
	)
	g := Build(rows)
	vp := Viewport{Width: 500, Height: 400}
	require.True(t, g.ApplyLayout(LayoutForce, vp))

	for _, n := range g.Nodes() {
		assert.GreaterOrEqual(t, n.X, 0.0)
		assert.LessOrEqual(t, n.X, vp.Width)
		assert.GreaterOrEqual(t, n.Y, 0.0)
		assert.LessOrEqual(t, n.Y, vp.Height)
	}
}

func TestColorFor_StablePerModel(t *testing.T) {
	assert.Equal(t, ColorFor("dtmi:example:Room;1"), ColorFor("dtmi:example:Room;1"))
	assert.NotEmpty(t, ColorFor(""))
}

func TestResultKey(t *testing.T) {
	a := decode(t, twinJSON("a"), twinJSON("b"))
	b := decode(t, twinJSON("b"), twinJSON("a"))
	c := decode(t, twinJSON("a"), twinJSON("c"))

	assert.Equal(t, ResultKey(a), ResultKey(b), "key depends on the twin set, not row order")
	assert.NotEqual(t, ResultKey(a), ResultKey(c))
}
