// Package client provides backends for executing twin-graph queries and
// CRUD operations. Three backends implement the same interface: the REST
// digital-twins API, an Apache AGE graph in PostgreSQL, and a Neo4j
// database. Every backend returns raw JSON payloads in the same wire
// shape (system fields like $dtId and $relationshipId), so the layers
// above never care which backend produced a result.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Direction selects which relationships of a twin to fetch.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionAll      Direction = "all"
)

// PatchOp is one JSON Patch operation applied to a twin.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Backend is the operation surface shared by all graph backends.
type Backend interface {
	// ExecuteQuery runs a query in the backend's native language and
	// returns the raw result rows. All result pages are drained.
	ExecuteQuery(ctx context.Context, query string) ([]json.RawMessage, error)

	// GetTwin fetches one twin by identity key.
	GetTwin(ctx context.Context, twinID string) (json.RawMessage, error)

	// CreateTwin creates or replaces a twin.
	CreateTwin(ctx context.Context, twinID string, body json.RawMessage) (json.RawMessage, error)

	// UpdateTwin applies a JSON Patch to a twin.
	UpdateTwin(ctx context.Context, twinID string, patch []PatchOp) error

	// DeleteTwin removes a twin.
	DeleteTwin(ctx context.Context, twinID string) error

	// QueryRelationships returns the relationships of a twin in the given
	// direction. Incoming relationships are normalized to carry the same
	// system fields as outgoing ones.
	QueryRelationships(ctx context.Context, twinID string, dir Direction) ([]json.RawMessage, error)

	// CreateRelationship creates a relationship from source to target. An
	// empty relID gets a generated one. Returns the created payload.
	CreateRelationship(ctx context.Context, sourceID, targetID, name, relID string) (json.RawMessage, error)

	// DeleteRelationship removes one relationship of a source twin.
	DeleteRelationship(ctx context.Context, sourceID, relID string) error

	// ListModels returns the full model definitions known to the backend.
	ListModels(ctx context.Context) ([]json.RawMessage, error)

	// UploadModels registers model definitions.
	UploadModels(ctx context.Context, models []json.RawMessage) error

	// DeleteModel removes one model by id.
	DeleteModel(ctx context.Context, modelID string) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Default connection settings.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// newRelationshipID generates an identity key for relationships created
// without one.
func newRelationshipID() string {
	return uuid.NewString()
}
