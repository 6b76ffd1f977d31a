package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/explorer"
	"github.com/konnektr-io/twx-cli/pkg/graphview"
)

// Graph command flags.
var (
	graphLayout   string
	graphExpand   []string
	graphAutoRels bool
	graphFormat   string
)

// graphViewport is the drawable area layouts target in CLI mode.
var graphViewport = graphview.Viewport{Width: 1000, Height: 700}

// GraphCommandDeps holds the dependencies for graph commands.
type GraphCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	OpenBackend BackendOpener
}

// DefaultGraphDeps returns the default dependencies for production use.
func DefaultGraphDeps() *GraphCommandDeps {
	return &GraphCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenBackend: defaultOpenBackend,
	}
}

// NewGraphCommand creates the graph command with its subcommands.
func NewGraphCommand(deps *GraphCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultGraphDeps()
	}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and export graph views of query results",
	}

	cmd.AddCommand(newGraphBuildCommand(deps))

	return cmd
}

func newGraphBuildCommand(deps *GraphCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <query>",
		Short: "Run a query and build its graph model",
		Long: `Run a query, build the graph model from the twins and relationships in
the results, and print or export it.

Every twin in the results becomes a node; every relationship whose both
endpoints are present becomes an edge. Nodes can be expanded with their
stored neighbors, and --auto-rels backfills relationships among the
displayed twins.

Examples:
  # Summarize the graph of a query
  twx graph build "MATCH (t:Twin)-[r]->(u:Twin) RETURN t, r, u"

  # Expand two nodes and lay the result out as a circle
  twx graph build "..." --expand room-1 --expand room-2 --layout circle

  # Export for Graphviz
  twx graph build "..." --format dot > graph.dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphBuild(cmd.Context(), deps, cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVar(&graphLayout, "layout", "force", "Layout strategy: circle, force, scatter")
	cmd.Flags().StringArrayVar(&graphExpand, "expand", nil, "Expand the node with this id (repeatable)")
	cmd.Flags().BoolVar(&graphAutoRels, "auto-rels", false, "Backfill relationships among displayed twins")
	cmd.Flags().StringVar(&graphFormat, "format", "text", "Export format: text, json, dot")

	return cmd
}

func runGraphBuild(ctx context.Context, deps *GraphCommandDeps, out io.Writer, query string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	backend, conn, err := deps.OpenBackend(ctx, cfg, ConnectionName)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	rows, err := backend.ExecuteQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("executing query on %q: %w", conn.Name, err)
	}

	coord := explorer.New(nil, commandLogger(cfg))
	coord.SetResults(rows)

	src := &backendGraphSource{backend: backend}
	for _, nodeID := range graphExpand {
		if err := coord.ExpandNode(ctx, nodeID, src); err != nil {
			return fmt.Errorf("expanding %q: %w", nodeID, err)
		}
	}
	if graphAutoRels {
		if _, err := coord.AutoFetchRelationships(ctx, src); err != nil {
			return fmt.Errorf("fetching relationships: %w", err)
		}
	}

	coord.ApplyLayout(graphview.Layout(graphLayout), graphViewport)

	switch graphFormat {
	case "json":
		return writeGraphJSON(out, coord.Graph())
	case "dot":
		return writeGraphDOT(out, coord.Graph())
	case "text":
		return writeGraphSummary(out, coord.Graph())
	default:
		return fmt.Errorf("unknown graph format %q (must be text, json, or dot)", graphFormat)
	}
}

// backendGraphSource adapts a client.Backend to the neighbor and
// relationship-batch sources graph expansion needs.
type backendGraphSource struct {
	backend client.Backend
}

func (s *backendGraphSource) Relationships(ctx context.Context, twinID string) ([]json.RawMessage, error) {
	return s.backend.QueryRelationships(ctx, twinID, client.DirectionAll)
}

func (s *backendGraphSource) Twin(ctx context.Context, twinID string) (json.RawMessage, error) {
	return s.backend.GetTwin(ctx, twinID)
}

// RelationshipsAmong fetches the outgoing relationships of each twin; the
// graph drops any edge whose other endpoint is not displayed.
func (s *backendGraphSource) RelationshipsAmong(ctx context.Context, twinIDs []string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, id := range twinIDs {
		rels, err := s.backend.QueryRelationships(ctx, id, client.DirectionOutgoing)
		if err != nil {
			return nil, err
		}
		out = append(out, rels...)
	}
	return out, nil
}

// writeGraphSummary prints a node/edge listing of the graph.
func writeGraphSummary(out io.Writer, g *graphview.Model) error {
	if g == nil {
		fmt.Fprintln(out, "0 nodes, 0 edges")
		return nil
	}
	nodes := g.Nodes()
	edges := g.Edges()
	fmt.Fprintf(out, "%d nodes, %d edges\n", len(nodes), len(edges))
	for _, n := range nodes {
		if n.Model != "" {
			fmt.Fprintf(out, "  [%s] %s\n", n.ID, n.Model)
		} else {
			fmt.Fprintf(out, "  [%s]\n", n.ID)
		}
	}
	for _, e := range edges {
		fmt.Fprintf(out, "  [%s] -%s-> [%s]\n", e.Source, e.Label, e.Target)
	}
	return nil
}

// graphExport is the JSON export shape.
type graphExport struct {
	Nodes []graphExportNode `json:"nodes"`
	Edges []graphExportEdge `json:"edges"`
}

type graphExportNode struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Model string  `json:"model,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

type graphExportEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

func writeGraphJSON(out io.Writer, g *graphview.Model) error {
	export := graphExport{Nodes: []graphExportNode{}, Edges: []graphExportEdge{}}
	if g != nil {
		for _, n := range g.Nodes() {
			export.Nodes = append(export.Nodes, graphExportNode{
				ID: n.ID, Label: n.Label, Model: n.Model, X: n.X, Y: n.Y, Color: n.Color,
			})
		}
		for _, e := range g.Edges() {
			export.Edges = append(export.Edges, graphExportEdge{
				ID: e.ID, Source: e.Source, Target: e.Target, Label: e.Label,
			})
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

func writeGraphDOT(out io.Writer, g *graphview.Model) error {
	fmt.Fprintln(out, "digraph twins {")
	if g != nil {
		for _, n := range g.Nodes() {
			fmt.Fprintf(out, "  %q [label=%q];\n", n.ID, n.Label)
		}
		for _, e := range g.Edges() {
			fmt.Fprintf(out, "  %q -> %q [label=%q];\n", e.Source, e.Target, e.Label)
		}
	}
	_, err := fmt.Fprintln(out, "}")
	return err
}
