// Package dtdl holds a pre-loaded cache of DTDL interface definitions and
// answers display-name and definition lookups for the display layer. It
// parses just enough of DTDL v2/v3 to serve the explorer: property and
// relationship contents, display names (including localized forms), and
// single-level extends resolution. Full schema validation is out of scope.
package dtdl

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/language"
)

// ErrModelNotFound is the sentinel returned by Lookup for unknown model
// ids. Callers degrade to raw identifiers instead of treating this as a
// failure.
var ErrModelNotFound = errors.New("model not found")

// Lookup is the narrow read-only interface the display pipeline consumes.
// A Store is safe for concurrent lookups once loaded.
type Lookup interface {
	Lookup(modelID string) (*Model, error)
}

// PropertyDef describes one Property content of an interface.
type PropertyDef struct {
	Name        string
	DisplayName string
	Schema      string
	Writable    bool
}

// RelationshipDef describes one Relationship content of an interface.
type RelationshipDef struct {
	Name        string
	DisplayName string
	Target      string
}

// Model is a parsed DTDL interface.
type Model struct {
	ID            string
	DisplayName   string
	Description   string
	Extends       []string
	Properties    []PropertyDef
	Relationships []RelationshipDef
}

// localizedString resolves a DTDL displayName/description value, which may
// be a plain string or a map of language tag to string. Localized maps
// prefer the closest English variant; the first key (sorted) is the
// fallback so the choice is deterministic.
func localizedString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		tags := make([]language.Tag, 0, len(keys))
		for _, k := range keys {
			tags = append(tags, language.Make(k))
		}
		key := keys[0]
		matcher := language.NewMatcher(tags)
		if _, idx, conf := matcher.Match(language.English); conf > language.No && idx < len(keys) {
			key = keys[idx]
		}
		if s, ok := t[key].(string); ok {
			return s
		}
		return ""
	default:
		return ""
	}
}

// stringOrList normalizes DTDL fields that may be a single string or an
// array of strings (extends, @type).
func stringOrList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasType(v any, want string) bool {
	for _, s := range stringOrList(v) {
		if s == want {
			return true
		}
	}
	return false
}

// Parse parses one DTDL interface document. It also accepts the model
// envelope returned by model-list APIs ({"id": ..., "model": {...}}).
func Parse(raw []byte) (*Model, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing model JSON: %w", err)
	}

	// Unwrap an API envelope when present.
	if inner, ok := doc["model"].(map[string]any); ok {
		if _, hasID := doc["@id"]; !hasID {
			doc = inner
		}
	}

	id, _ := doc["@id"].(string)
	if id == "" {
		return nil, fmt.Errorf("model document has no @id")
	}

	m := &Model{
		ID:          id,
		DisplayName: localizedString(doc["displayName"]),
		Description: localizedString(doc["description"]),
		Extends:     stringOrList(doc["extends"]),
	}

	contents, _ := doc["contents"].([]any)
	for _, c := range contents {
		content, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name, _ := content["name"].(string)
		if name == "" {
			continue
		}
		switch {
		case hasType(content["@type"], "Property"):
			writable, _ := content["writable"].(bool)
			m.Properties = append(m.Properties, PropertyDef{
				Name:        name,
				DisplayName: localizedString(content["displayName"]),
				Schema:      schemaName(content["schema"]),
				Writable:    writable,
			})
		case hasType(content["@type"], "Relationship"):
			target, _ := content["target"].(string)
			m.Relationships = append(m.Relationships, RelationshipDef{
				Name:        name,
				DisplayName: localizedString(content["displayName"]),
				Target:      target,
			})
		}
	}

	return m, nil
}

// schemaName flattens a DTDL schema reference to a printable name.
// Complex schemas (objects, maps, enums) reduce to their @type.
func schemaName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		types := stringOrList(t["@type"])
		if len(types) > 0 {
			return types[0]
		}
	}
	return ""
}
