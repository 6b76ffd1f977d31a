package client

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/konnektr-io/twx-cli/pkg/logging"
)

// AGEBackend runs queries against an Apache AGE graph in PostgreSQL.
//
// Storage convention: twins are vertices labeled Twin whose properties
// hold the twin's user properties plus dtId and model; relationships are
// edges labeled by relationship name whose properties hold relId,
// sourceId, and targetId (denormalized so edges can be reported without a
// join). Everything this backend writes follows the convention, and
// normalization maps it back onto the shared wire shape ($dtId,
// $metadata.$model, $relationshipId, ...).
type AGEBackend struct {
	pool  *pgxpool.Pool
	graph string
	log   logging.Logger
}

// AGEOptions configures an AGEBackend.
type AGEOptions struct {
	// ConnString is a PostgreSQL connection string.
	ConnString string

	// Graph is the AGE graph name.
	Graph string

	// Logger receives diagnostics. Nil means silent.
	Logger logging.Logger
}

const createModelsTable = `
CREATE TABLE IF NOT EXISTS twx_models (
	id       TEXT PRIMARY KEY,
	document JSONB NOT NULL
)`

// NewAGEBackend opens a connection pool, loads the AGE extension on every
// connection, and ensures the model table exists.
func NewAGEBackend(ctx context.Context, opts AGEOptions) (*AGEBackend, error) {
	if opts.ConnString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if opts.Graph == "" {
		return nil, fmt.Errorf("graph name is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	poolConfig, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LOAD 'age'"); err != nil {
			return fmt.Errorf("loading age extension: %w", err)
		}
		if _, err := conn.Exec(ctx, `SET search_path = ag_catalog, "$user", public`); err != nil {
			return fmt.Errorf("setting search path: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, createModelsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating model table: %w", err)
	}

	return &AGEBackend{pool: pool, graph: opts.Graph, log: log}, nil
}

// runCypher executes a cypher query and returns each result row as
// normalized JSON. The query must return a single value per row.
func (b *AGEBackend) runCypher(ctx context.Context, cypher string) ([]json.RawMessage, error) {
	sql := fmt.Sprintf(
		"SELECT result::text FROM ag_catalog.cypher(%s, %s) AS (result ag_catalog.agtype)",
		quoteLiteral(b.graph), dollarQuote(cypher),
	)

	rows, err := b.pool.Query(ctx, sql)
	if err != nil {
		return nil, &QueryError{Query: cypher, Message: err.Error()}
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		normalized, err := normalizeAgtype(text)
		if err != nil {
			b.log.Warn("skipping unparseable result row", logging.Err(err))
			continue
		}
		out = append(out, normalized)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

func (b *AGEBackend) ExecuteQuery(ctx context.Context, query string) ([]json.RawMessage, error) {
	return b.runCypher(ctx, query)
}

func (b *AGEBackend) GetTwin(ctx context.Context, twinID string) (json.RawMessage, error) {
	rows, err := b.runCypher(ctx, fmt.Sprintf(
		"MATCH (t:Twin) WHERE t.dtId = %s RETURN t", quoteCypher(twinID)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("twin %s: %w", twinID, ErrNotFound)
	}
	return rows[0], nil
}

func (b *AGEBackend) CreateTwin(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error) {
	props, err := twinToAgeProps(twinID, body)
	if err != nil {
		return nil, err
	}
	rows, err := b.runCypher(ctx, fmt.Sprintf(
		"MERGE (t:Twin {dtId: %s}) SET t = %s RETURN t",
		quoteCypher(twinID), props))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("creating twin %s returned no row", twinID)
	}
	return rows[0], nil
}

func (b *AGEBackend) UpdateTwin(ctx context.Context, twinID string, patch []PatchOp) error {
	if _, err := b.GetTwin(ctx, twinID); err != nil {
		return err
	}
	var clauses []string
	for _, op := range patch {
		prop := strings.TrimPrefix(op.Path, "/")
		if prop == "" || strings.Contains(prop, "/") {
			return fmt.Errorf("unsupported patch path %q: only top-level properties", op.Path)
		}
		switch op.Op {
		case "add", "replace":
			lit, err := cypherLiteral(op.Value)
			if err != nil {
				return fmt.Errorf("encoding patch value for %s: %w", op.Path, err)
			}
			clauses = append(clauses, fmt.Sprintf("SET t.%s = %s", cypherIdent(prop), lit))
		case "remove":
			clauses = append(clauses, fmt.Sprintf("REMOVE t.%s", cypherIdent(prop)))
		default:
			return fmt.Errorf("unsupported patch op %q", op.Op)
		}
	}
	if len(clauses) == 0 {
		return nil
	}
	_, err := b.runCypher(ctx, fmt.Sprintf(
		"MATCH (t:Twin) WHERE t.dtId = %s %s RETURN t",
		quoteCypher(twinID), strings.Join(clauses, " ")))
	return err
}

func (b *AGEBackend) DeleteTwin(ctx context.Context, twinID string) error {
	if _, err := b.GetTwin(ctx, twinID); err != nil {
		return err
	}
	_, err := b.runCypher(ctx, fmt.Sprintf(
		"MATCH (t:Twin) WHERE t.dtId = %s DETACH DELETE t", quoteCypher(twinID)))
	return err
}

func (b *AGEBackend) QueryRelationships(ctx context.Context, twinID string, dir Direction) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if dir == DirectionOutgoing || dir == DirectionAll || dir == "" {
		rows, err := b.runCypher(ctx, fmt.Sprintf(
			"MATCH (s:Twin)-[r]->() WHERE s.dtId = %s RETURN r", quoteCypher(twinID)))
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	if dir == DirectionIncoming || dir == DirectionAll {
		rows, err := b.runCypher(ctx, fmt.Sprintf(
			"MATCH ()-[r]->(t:Twin) WHERE t.dtId = %s RETURN r", quoteCypher(twinID)))
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (b *AGEBackend) CreateRelationship(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error) {
	if relID == "" {
		relID = newRelationshipID()
	}
	rows, err := b.runCypher(ctx, fmt.Sprintf(
		"MATCH (s:Twin), (t:Twin) WHERE s.dtId = %s AND t.dtId = %s "+
			"CREATE (s)-[r:%s {relId: %s, sourceId: %s, targetId: %s}]->(t) RETURN r",
		quoteCypher(sourceID), quoteCypher(targetID),
		cypherIdent(name),
		quoteCypher(relID), quoteCypher(sourceID), quoteCypher(targetID)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("relationship endpoints %s or %s: %w", sourceID, targetID, ErrNotFound)
	}
	return rows[0], nil
}

func (b *AGEBackend) DeleteRelationship(ctx context.Context, sourceID, relID string) error {
	_, err := b.runCypher(ctx, fmt.Sprintf(
		"MATCH (s:Twin)-[r]->() WHERE s.dtId = %s AND r.relId = %s DELETE r",
		quoteCypher(sourceID), quoteCypher(relID)))
	return err
}

func (b *AGEBackend) ListModels(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := b.pool.Query(ctx, "SELECT document FROM twx_models ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc json.RawMessage
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning model row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (b *AGEBackend) UploadModels(ctx context.Context, models []json.RawMessage) error {
	for _, doc := range models {
		var header struct {
			ID string `json:"@id"`
		}
		if err := json.Unmarshal(doc, &header); err != nil || header.ID == "" {
			return fmt.Errorf("model document missing @id")
		}
		_, err := b.pool.Exec(ctx, `
			INSERT INTO twx_models (id, document) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`,
			header.ID, []byte(doc))
		if err != nil {
			return fmt.Errorf("storing model %s: %w", header.ID, err)
		}
	}
	return nil
}

func (b *AGEBackend) DeleteModel(ctx context.Context, modelID string) error {
	tag, err := b.pool.Exec(ctx, "DELETE FROM twx_models WHERE id = $1", modelID)
	if err != nil {
		return fmt.Errorf("deleting model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("model %s: %w", modelID, ErrNotFound)
	}
	return nil
}

func (b *AGEBackend) Close(context.Context) error {
	b.pool.Close()
	return nil
}

// agtypeSuffix matches the type annotations AGE appends to composite
// values, e.g. {...}::vertex.
var agtypeSuffix = regexp.MustCompile(`::(vertex|edge|path|numeric)`)

// agEntity is the decoded form of an AGE vertex or edge.
type agEntity struct {
	ID         int64                  `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties"`
	StartID    *int64                 `json:"start_id"`
	EndID      *int64                 `json:"end_id"`
}

// normalizeAgtype converts one agtype result value into the shared wire
// shape. Vertices become twins, edges become relationships, everything
// else passes through as JSON.
func normalizeAgtype(text string) (json.RawMessage, error) {
	cleaned := stripAgtypeSuffixes(text)

	var v interface{}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("parsing agtype value: %w", err)
	}
	return json.Marshal(normalizeValue(v))
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if ent, ok := asEntity(t); ok {
			if ent.StartID != nil && ent.EndID != nil {
				return edgeToWire(ent)
			}
			return vertexToWire(ent)
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// asEntity recognizes the {id, label, properties} shape of vertices and
// edges.
func asEntity(m map[string]interface{}) (agEntity, bool) {
	if _, ok := m["id"]; !ok {
		return agEntity{}, false
	}
	if _, ok := m["label"]; !ok {
		return agEntity{}, false
	}
	rawProps, ok := m["properties"].(map[string]interface{})
	if !ok {
		return agEntity{}, false
	}

	var ent agEntity
	if id, ok := m["id"].(float64); ok {
		ent.ID = int64(id)
	}
	ent.Label, _ = m["label"].(string)
	ent.Properties = rawProps
	if sid, ok := m["start_id"].(float64); ok {
		v := int64(sid)
		ent.StartID = &v
	}
	if eid, ok := m["end_id"].(float64); ok {
		v := int64(eid)
		ent.EndID = &v
	}
	return ent, true
}

func vertexToWire(ent agEntity) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range ent.Properties {
		if k == "dtId" || k == "model" {
			continue
		}
		out[k] = normalizeValue(v)
	}

	dtID, _ := ent.Properties["dtId"].(string)
	if dtID == "" {
		dtID = strconv.FormatInt(ent.ID, 10)
	}
	out["$dtId"] = dtID

	model, _ := ent.Properties["model"].(string)
	out["$metadata"] = map[string]interface{}{"$model": model}
	return out
}

func edgeToWire(ent agEntity) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range ent.Properties {
		if k == "relId" || k == "sourceId" || k == "targetId" {
			continue
		}
		out[k] = normalizeValue(v)
	}

	relID, _ := ent.Properties["relId"].(string)
	if relID == "" {
		relID = strconv.FormatInt(ent.ID, 10)
	}
	out["$relationshipId"] = relID
	out["$sourceId"], _ = ent.Properties["sourceId"].(string)
	out["$targetId"], _ = ent.Properties["targetId"].(string)
	out["$relationshipName"] = ent.Label
	return out
}

// stripAgtypeSuffixes removes ::vertex style annotations outside string
// literals.
func stripAgtypeSuffixes(s string) string {
	var sb strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
		}
		if !inString && c == ':' && i+1 < len(s) && s[i+1] == ':' {
			if loc := agtypeSuffix.FindStringIndex(s[i:]); loc != nil && loc[0] == 0 {
				i += loc[1] - 1
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// twinToAgeProps converts a twin body in wire shape into a cypher map
// literal following the storage convention.
func twinToAgeProps(twinID string, body json.RawMessage) (string, error) {
	props := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &props); err != nil {
			return "", fmt.Errorf("parsing twin body: %w", err)
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

	return cypherLiteral(props)
}

// cypherLiteral renders a Go value as a cypher literal. JSON and cypher
// literal syntax agree for everything but map keys, which cypher writes
// bare.
func cypherLiteral(v interface{}) (string, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val, err := cypherLiteral(t[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, cypherIdent(k)+": "+val)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			val, err := cypherLiteral(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, val)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

var identPattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// cypherIdent sanitizes a name for use as a cypher identifier (labels,
// property names).
func cypherIdent(name string) string {
	cleaned := identPattern.ReplaceAllString(name, "_")
	if cleaned == "" {
		cleaned = "_"
	}
	return cleaned
}

// quoteCypher renders a string as a single-quoted cypher string literal.
func quoteCypher(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

// quoteLiteral renders a string as a single-quoted SQL literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// dollarQuote wraps a query in dollar quoting, picking a tag that does not
// collide with the query text.
func dollarQuote(s string) string {
	tag := "$q$"
	for i := 0; strings.Contains(s, tag); i++ {
		tag = fmt.Sprintf("$q%d$", i)
	}
	return tag + s + tag
}

