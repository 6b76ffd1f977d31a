package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/konnektr-io/twx-cli/pkg/logging"
)

// Neo4jBackend runs queries against a Neo4j database over Bolt. It uses
// the same storage convention as the AGE backend (Twin label, dtId/model
// vertex properties, relId/sourceId/targetId edge properties) and
// normalizes driver values onto the shared wire shape.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	log      logging.Logger
}

// Neo4jOptions configures a Neo4jBackend.
type Neo4jOptions struct {
	// URI is the Bolt endpoint, e.g. neo4j://localhost:7687.
	URI string

	// Username and Password authenticate against the server.
	Username string
	Password string

	// Database selects the database; empty uses the server default.
	Database string

	// Logger receives diagnostics. Nil means silent.
	Logger logging.Logger
}

// NewNeo4jBackend connects to a Neo4j server and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, opts Neo4jOptions) (*Neo4jBackend, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("URI is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		if strings.Contains(err.Error(), "authentication") {
			return nil, fmt.Errorf("verifying connectivity: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("verifying connectivity: %w", err)
	}

	return &Neo4jBackend{driver: driver, database: opts.Database, log: log}, nil
}

// run executes a cypher query and returns one normalized JSON value per
// record: the bare value for single-column records, a column-keyed object
// otherwise.
func (b *Neo4jBackend) run(ctx context.Context, cypher string, params map[string]interface{}) ([]json.RawMessage, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: b.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteWrite(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
	if err != nil {
		var usageErr *neo4j.UsageError
		if errors.As(err, &usageErr) {
			return nil, &QueryError{Query: cypher, Message: err.Error()}
		}
		if neo4j.IsNeo4jError(err) && strings.Contains(err.Error(), "SyntaxError") {
			return nil, &QueryError{Query: cypher, Message: err.Error()}
		}
		return nil, fmt.Errorf("running query: %w", err)
	}

	out := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		var value interface{}
		if len(record.Keys) == 1 {
			value = normalizeNeo4jValue(record.Values[0])
		} else {
			row := make(map[string]interface{}, len(record.Keys))
			for i, key := range record.Keys {
				row[key] = normalizeNeo4jValue(record.Values[i])
			}
			value = row
		}
		raw, err := json.Marshal(value)
		if err != nil {
			b.log.Warn("skipping unencodable result row", logging.Err(err))
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

// normalizeNeo4jValue maps driver types onto the shared wire shape.
func normalizeNeo4jValue(v interface{}) interface{} {
	switch t := v.(type) {
	case neo4j.Node:
		return neo4jNodeToWire(t)
	case neo4j.Relationship:
		return neo4jRelToWire(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeNeo4jValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeNeo4jValue(val)
		}
		return out
	default:
		return v
	}
}

func neo4jNodeToWire(node neo4j.Node) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range node.Props {
		if k == "dtId" || k == "model" {
			continue
		}
		out[k] = normalizeNeo4jValue(v)
	}

	dtID, _ := node.Props["dtId"].(string)
	if dtID == "" {
		dtID = node.ElementId
	}
	out["$dtId"] = dtID

	model, _ := node.Props["model"].(string)
	out["$metadata"] = map[string]interface{}{"$model": model}
	return out
}

func neo4jRelToWire(rel neo4j.Relationship) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range rel.Props {
		if k == "relId" || k == "sourceId" || k == "targetId" {
			continue
		}
		out[k] = normalizeNeo4jValue(v)
	}

	relID, _ := rel.Props["relId"].(string)
	if relID == "" {
		relID = rel.ElementId
	}
	out["$relationshipId"] = relID
	out["$sourceId"], _ = rel.Props["sourceId"].(string)
	out["$targetId"], _ = rel.Props["targetId"].(string)
	out["$relationshipName"] = rel.Type
	return out
}

func (b *Neo4jBackend) ExecuteQuery(ctx context.Context, query string) ([]json.RawMessage, error) {
	return b.run(ctx, query, nil)
}

func (b *Neo4jBackend) GetTwin(ctx context.Context, twinID string) (json.RawMessage, error) {
	rows, err := b.run(ctx,
		"MATCH (t:Twin {dtId: $id}) RETURN t",
		map[string]interface{}{"id": twinID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("twin %s: %w", twinID, ErrNotFound)
	}
	return rows[0], nil
}

func (b *Neo4jBackend) CreateTwin(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error) {
	props := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &props); err != nil {
			return nil, fmt.Errorf("parsing twin body: %w", err)
		}
	}
	model := ""
	if meta, ok := props["$metadata"].(map[string]interface{}); ok {
		model, _ = meta["$model"].(string)
	}
	delete(props, "$metadata")
	delete(props, "$dtId")
	delete(props, "$etag")
	props["dtId"] = twinID
	props["model"] = model

	rows, err := b.run(ctx,
		"MERGE (t:Twin {dtId: $id}) SET t = $props RETURN t",
		map[string]interface{}{"id": twinID, "props": props})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("creating twin %s returned no row", twinID)
	}
	return rows[0], nil
}

func (b *Neo4jBackend) UpdateTwin(ctx context.Context, twinID string, patch []PatchOp) error {
	if _, err := b.GetTwin(ctx, twinID); err != nil {
		return err
	}
	sets := map[string]interface{}{}
	var removes []string
	for _, op := range patch {
		prop := strings.TrimPrefix(op.Path, "/")
		if prop == "" || strings.Contains(prop, "/") {
			return fmt.Errorf("unsupported patch path %q: only top-level properties", op.Path)
		}
		switch op.Op {
		case "add", "replace":
			sets[prop] = op.Value
		case "remove":
			removes = append(removes, prop)
		default:
			return fmt.Errorf("unsupported patch op %q", op.Op)
		}
	}

	cypher := "MATCH (t:Twin {dtId: $id})"
	params := map[string]interface{}{"id": twinID}
	if len(sets) > 0 {
		cypher += " SET t += $sets"
		params["sets"] = sets
	}
	for _, prop := range removes {
		cypher += " REMOVE t." + cypherIdent(prop)
	}
	cypher += " RETURN t"

	_, err := b.run(ctx, cypher, params)
	return err
}

func (b *Neo4jBackend) DeleteTwin(ctx context.Context, twinID string) error {
	if _, err := b.GetTwin(ctx, twinID); err != nil {
		return err
	}
	_, err := b.run(ctx,
		"MATCH (t:Twin {dtId: $id}) DETACH DELETE t",
		map[string]interface{}{"id": twinID})
	return err
}

func (b *Neo4jBackend) QueryRelationships(ctx context.Context, twinID string, dir Direction) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if dir == DirectionOutgoing || dir == DirectionAll || dir == "" {
		rows, err := b.run(ctx,
			"MATCH (s:Twin {dtId: $id})-[r]->() RETURN r",
			map[string]interface{}{"id": twinID})
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	if dir == DirectionIncoming || dir == DirectionAll {
		rows, err := b.run(ctx,
			"MATCH ()-[r]->(t:Twin {dtId: $id}) RETURN r",
			map[string]interface{}{"id": twinID})
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (b *Neo4jBackend) CreateRelationship(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error) {
	if relID == "" {
		relID = newRelationshipID()
	}
	rows, err := b.run(ctx,
		fmt.Sprintf("MATCH (s:Twin {dtId: $source}), (t:Twin {dtId: $target}) "+
			"CREATE (s)-[r:%s {relId: $relId, sourceId: $source, targetId: $target}]->(t) RETURN r",
			cypherIdent(name)),
		map[string]interface{}{"source": sourceID, "target": targetID, "relId": relID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("relationship endpoints %s or %s: %w", sourceID, targetID, ErrNotFound)
	}
	return rows[0], nil
}

func (b *Neo4jBackend) DeleteRelationship(ctx context.Context, sourceID, relID string) error {
	_, err := b.run(ctx,
		"MATCH (s:Twin {dtId: $source})-[r]->() WHERE r.relId = $relId DELETE r",
		map[string]interface{}{"source": sourceID, "relId": relID})
	return err
}

func (b *Neo4jBackend) ListModels(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := b.run(ctx, "MATCH (m:TwxModel) RETURN m.document ORDER BY m.id", nil)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		// Documents are stored as JSON strings on model nodes.
		var text string
		if err := json.Unmarshal(row, &text); err != nil {
			b.log.Warn("skipping malformed model document", logging.Err(err))
			continue
		}
		out = append(out, json.RawMessage(text))
	}
	return out, nil
}

func (b *Neo4jBackend) UploadModels(ctx context.Context, models []json.RawMessage) error {
	for _, doc := range models {
		var header struct {
			ID string `json:"@id"`
		}
		if err := json.Unmarshal(doc, &header); err != nil || header.ID == "" {
			return fmt.Errorf("model document missing @id")
		}
		_, err := b.run(ctx,
			"MERGE (m:TwxModel {id: $id}) SET m.document = $doc",
			map[string]interface{}{"id": header.ID, "doc": string(doc)})
		if err != nil {
			return fmt.Errorf("storing model %s: %w", header.ID, err)
		}
	}
	return nil
}

func (b *Neo4jBackend) DeleteModel(ctx context.Context, modelID string) error {
	rows, err := b.run(ctx,
		"MATCH (m:TwxModel {id: $id}) WITH m, m.id AS deleted DELETE m RETURN deleted",
		map[string]interface{}{"id": modelID})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("model %s: %w", modelID, ErrNotFound)
	}
	return nil
}

func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}
