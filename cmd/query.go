package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/konnektr-io/twx-cli/client"
	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/dtdl"
	"github.com/konnektr-io/twx-cli/pkg/explorer"
	"github.com/konnektr-io/twx-cli/pkg/resultset"
	"github.com/konnektr-io/twx-cli/pkg/tableview"
)

// Query command flags.
var (
	queryFile         string
	queryView         string
	queryTableMode    string
	queryPage         int
	queryDisplayNames bool
	queryNoModels     bool
)

// QueryCommandDeps holds the dependencies for the query command.
type QueryCommandDeps struct {
	LoadConfig  func() (*config.CLIConfig, error)
	OpenBackend BackendOpener
}

// DefaultQueryDeps returns the default dependencies for production use.
func DefaultQueryDeps() *QueryCommandDeps {
	return &QueryCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenBackend: defaultOpenBackend,
	}
}

// NewQueryCommand creates the query command.
func NewQueryCommand(deps *QueryCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultQueryDeps()
	}

	cmd := &cobra.Command{
		Use:   "query [query-text]",
		Short: "Execute a query and render the results",
		Long: `Execute a query against the active connection and render the results.

The query language is the backend's own: twin-graph SQL for adt
connections, Cypher for age and neo4j connections. The result shape is
analyzed and the best-fitting view is picked automatically; force a view
with --view.

Examples:
  # Query twins and show them as a table
  twx query "SELECT * FROM digitaltwins WHERE IS_OF_MODEL('dtmi:example:Room;1')"

  # Cypher against an AGE or Neo4j connection
  twx query "MATCH (t:Twin)-[r]->(u:Twin) RETURN t, r, u"

  # Read the query from a file, emit CSV
  twx query --file report.sql --output csv

  # Force the grouped table projection with model display names
  twx query "..." --table-mode grouped --display-names

  # Page through large results (50 rows per page)
  twx query "..." --page 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryText(args)
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), deps, cmd.OutOrStdout(), query)
		},
	}

	cmd.Flags().StringVarP(&queryFile, "file", "f", "", "Read the query from a file instead of an argument")
	cmd.Flags().StringVar(&queryView, "view", "", "Force a view: table, graph, raw (default: recommended)")
	cmd.Flags().StringVar(&queryTableMode, "table-mode", "", "Force a table projection: simple, flat, grouped, expandable")
	cmd.Flags().IntVar(&queryPage, "page", 1, "Table page (50 rows per page)")
	cmd.Flags().BoolVar(&queryDisplayNames, "display-names", false, "Label columns with model display names")
	cmd.Flags().BoolVar(&queryNoModels, "no-models", false, "Skip loading model definitions")

	return cmd
}

// queryText resolves the query from the argument or --file.
func queryText(args []string) (string, error) {
	if queryFile != "" {
		data, err := os.ReadFile(queryFile)
		if err != nil {
			return "", fmt.Errorf("reading query file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("no query given: pass it as an argument or via --file")
}

func runQuery(ctx context.Context, deps *QueryCommandDeps, out io.Writer, query string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}
	format, err := outputFormat(cfg)
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

	if format == config.OutputFormatJSON {
		return writeJSON(out, rows)
	}

	coord := explorer.New(loadModels(ctx, deps, cfg, backend), commandLogger(cfg),
		explorer.WithDisplayNames(queryDisplayNames || cfg.DisplayNames))
	coord.SetResults(rows)

	if queryView != "" {
		coord.SetViewMode(resultset.View(queryView))
	}
	if queryTableMode != "" {
		coord.SetTableMode(tableview.Mode(queryTableMode))
	}
	coord.SetPage(queryPage)

	if format == config.OutputFormatCSV {
		return coord.ExportCurrentTable(out)
	}

	switch coord.State().View {
	case resultset.ViewGraph:
		return writeGraphSummary(out, coord.Graph())
	case resultset.ViewRaw:
		return writeJSON(out, rows)
	default:
		return tableview.RenderText(out, coord.Table())
	}
}

// loadModels fills the display-name cache from the backend's model
// listing. Failures degrade to raw names; a query must never fail because
// models could not be listed.
func loadModels(ctx context.Context, deps *QueryCommandDeps, cfg *config.CLIConfig, backend client.Backend) dtdl.Lookup {
	if queryNoModels {
		return nil
	}
	raws, err := backend.ListModels(ctx)
	if err != nil {
		commandLogger(cfg).Debug("model listing failed, using raw names")
		return nil
	}
	return dtdl.LoadStore(raws)
}

// writeJSON pretty-prints raw result rows as one JSON array.
func writeJSON(out io.Writer, rows []json.RawMessage) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
