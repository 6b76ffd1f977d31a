package resultset

// Recognized system field names in the twin wire format. Twins carry an
// identity field and a metadata block naming their model; relationships
// carry their own identity plus the ids of both endpoints.
const (
	FieldTwinID           = "$dtId"
	FieldMetadata         = "$metadata"
	FieldModel            = "$model"
	FieldETag             = "$etag"
	FieldRelationshipID   = "$relationshipId"
	FieldSourceID         = "$sourceId"
	FieldTargetID         = "$targetId"
	FieldRelationshipName = "$relationshipName"
)

// Kind is the classification of one result value.
type Kind int

const (
	// KindScalar is a non-object value (string, number, bool, null).
	KindScalar Kind = iota
	// KindUnknown is an object or array that carries none of the
	// recognized twin or relationship markers. Aggregation results and
	// projected sub-documents land here; they are displayable but not
	// nodeable in the graph.
	KindUnknown
	// KindTwin is an object carrying a twin identity and model metadata.
	KindTwin
	// KindRelationship is an object carrying a relationship identity and
	// both endpoint ids.
	KindRelationship
)

func (k Kind) String() string {
	switch k {
	case KindTwin:
		return "twin"
	case KindRelationship:
		return "relationship"
	case KindUnknown:
		return "unknown"
	default:
		return "scalar"
	}
}

// Property is one named value from an entity's property bag.
type Property struct {
	Name  string
	Value Value
}

// Entity is the classified view over part of a result row. Classification
// is a pure function of the value's shape and the recognized system field
// names: the same value always classifies the same way.
type Entity struct {
	Kind Kind

	// ID is the identity key: the twin id for twins, the relationship id
	// for relationships. Empty for scalars and unknowns.
	ID string

	// Model is the model/type hint used for coloring and labeling: the
	// metadata model id for twins, the relationship name for
	// relationships. May be empty.
	Model string

	// SourceID and TargetID are set for relationships only.
	SourceID string
	TargetID string

	// Value is the raw classified value, retained for inspector hand-off.
	Value Value
}

// IsEntity reports whether the classification found a twin or relationship.
func (e Entity) IsEntity() bool {
	return e.Kind == KindTwin || e.Kind == KindRelationship
}

// Classify determines whether a result value is twin-like,
// relationship-like, or opaque. It is total over arbitrary JSON input:
// values that match neither marker set degrade to KindUnknown or
// KindScalar, never an error.
func Classify(v Value) Entity {
	obj, ok := v.(*Object)
	if !ok {
		if _, isArr := v.([]Value); isArr {
			return Entity{Kind: KindUnknown, Value: v}
		}
		return Entity{Kind: KindScalar, Value: v}
	}

	// Relationship markers take precedence: a relationship payload never
	// carries twin metadata, but checking it first keeps the decision
	// independent of any extra fields a backend might attach.
	relID := obj.String(FieldRelationshipID)
	sourceID := obj.String(FieldSourceID)
	targetID := obj.String(FieldTargetID)
	if relID != "" && sourceID != "" && targetID != "" {
		return Entity{
			Kind:     KindRelationship,
			ID:       relID,
			Model:    obj.String(FieldRelationshipName),
			SourceID: sourceID,
			TargetID: targetID,
			Value:    v,
		}
	}

	twinID := obj.String(FieldTwinID)
	if twinID != "" {
		if model := metadataModel(obj); model != "" {
			return Entity{Kind: KindTwin, ID: twinID, Model: model, Value: v}
		}
	}

	return Entity{Kind: KindUnknown, Value: v}
}

// metadataModel extracts $metadata.$model from a twin-shaped object.
func metadataModel(obj *Object) string {
	meta, ok := obj.Get(FieldMetadata)
	if !ok {
		return ""
	}
	metaObj, ok := meta.(*Object)
	if !ok {
		return ""
	}
	return metaObj.String(FieldModel)
}

// isSystemField reports whether name is one of the recognized identity or
// metadata fields excluded from property bags.
func isSystemField(name string) bool {
	switch name {
	case FieldTwinID, FieldMetadata, FieldETag,
		FieldRelationshipID, FieldSourceID, FieldTargetID, FieldRelationshipName:
		return true
	default:
		return false
	}
}

// Properties returns the entity's fields minus the recognized system and
// identity fields, in the source document's key order. It is pure:
// repeated calls on an unmodified value yield the same ordered list.
func (e Entity) Properties() []Property {
	obj, ok := e.Value.(*Object)
	if !ok {
		return nil
	}
	props := make([]Property, 0, obj.Len())
	for _, k := range obj.Keys() {
		if isSystemField(k) {
			continue
		}
		v, _ := obj.Get(k)
		props = append(props, Property{Name: k, Value: v})
	}
	return props
}

// PropertyNames returns just the names from Properties.
func (e Entity) PropertyNames() []string {
	props := e.Properties()
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}
	return names
}
