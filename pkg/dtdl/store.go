package dtdl

import (
	"encoding/json"
	"sort"
)

// Store is the pre-loaded model cache. It is populated once from a model
// listing and read-only afterwards, which makes concurrent lookups safe
// without locking.
type Store struct {
	models map[string]*Model
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{models: map[string]*Model{}}
}

// LoadStore parses a batch of raw model documents into a store. Documents
// that fail to parse are skipped; a partially loaded cache is more useful
// than none, and the display layer degrades to raw ids for misses anyway.
func LoadStore(raws []json.RawMessage) *Store {
	s := NewStore()
	for _, raw := range raws {
		m, err := Parse(raw)
		if err != nil {
			continue
		}
		s.models[m.ID] = m
	}
	return s
}

// Add parses and registers one model document.
func (s *Store) Add(raw json.RawMessage) error {
	m, err := Parse(raw)
	if err != nil {
		return err
	}
	s.models[m.ID] = m
	return nil
}

// Lookup returns the model for id, or ErrModelNotFound.
func (s *Store) Lookup(modelID string) (*Model, error) {
	if m, ok := s.models[modelID]; ok {
		return m, nil
	}
	return nil, ErrModelNotFound
}

// Len returns the number of loaded models.
func (s *Store) Len() int {
	return len(s.models)
}

// Models returns all loaded models sorted by id.
func (s *Store) Models() []*Model {
	out := make([]*Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DisplayName returns the model's display name, falling back to the raw
// model id when the model is unknown or carries no display name.
func (s *Store) DisplayName(modelID string) string {
	m, err := s.Lookup(modelID)
	if err != nil || m.DisplayName == "" {
		return modelID
	}
	return m.DisplayName
}

// PropertyDisplayName resolves a property's display name on the model or,
// failing that, on its extends chain (cycle-safe). The second return is
// false when no definition was found; callers then show the raw name.
func (s *Store) PropertyDisplayName(modelID, property string) (string, bool) {
	visited := map[string]bool{}
	return s.propertyDisplayName(modelID, property, visited)
}

func (s *Store) propertyDisplayName(modelID, property string, visited map[string]bool) (string, bool) {
	if visited[modelID] {
		return "", false
	}
	visited[modelID] = true

	m, err := s.Lookup(modelID)
	if err != nil {
		return "", false
	}
	for _, p := range m.Properties {
		if p.Name == property {
			if p.DisplayName != "" {
				return p.DisplayName, true
			}
			return p.Name, true
		}
	}
	for _, parent := range m.Extends {
		if name, ok := s.propertyDisplayName(parent, property, visited); ok {
			return name, ok
		}
	}
	return "", false
}

// RelationshipDefs returns the relationship definitions for a model,
// including inherited ones.
func (s *Store) RelationshipDefs(modelID string) []RelationshipDef {
	visited := map[string]bool{}
	var out []RelationshipDef
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		m, err := s.Lookup(id)
		if err != nil {
			return
		}
		out = append(out, m.Relationships...)
		for _, parent := range m.Extends {
			walk(parent)
		}
	}
	walk(modelID)
	return out
}
