package resultset

// Shape classifies the structure of a whole result batch.
type Shape int

const (
	// ShapeEmpty is a result with no rows.
	ShapeEmpty Shape = iota
	// ShapeScalar is a result where every row is a bare scalar.
	ShapeScalar
	// ShapeFlatObject is a result where every row is an object whose
	// values are all scalars (system metadata aside).
	ShapeFlatObject
	// ShapeNestedEntities is a result where at least one row has an
	// object-valued field classifying as a twin or relationship.
	ShapeNestedEntities
	// ShapeMixed is everything else: heterogeneous rows, nested
	// non-entity objects, arrays.
	ShapeMixed
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeScalar:
		return "scalar"
	case ShapeFlatObject:
		return "flat"
	case ShapeNestedEntities:
		return "entities"
	default:
		return "mixed"
	}
}

// View is a display mode recommendation.
type View string

const (
	ViewTable View = "table"
	ViewGraph View = "graph"
	ViewRaw   View = "raw"
)

// Analysis is the result of inspecting a result batch.
type Analysis struct {
	Shape           Shape
	RecommendedView View

	// EntityColumns lists the top-level row keys whose value classifies
	// as a twin or relationship in at least one row, de-duplicated, in
	// first-seen order across all rows.
	EntityColumns []string

	// HasRelationships is true when any relationship-classified value
	// was seen anywhere in the batch.
	HasRelationships bool
}

// Analyze inspects a result sequence and classifies its shape, recommends
// a default view, and discovers the entity columns. It tolerates
// heterogeneous rows: different keys and shapes from row to row are
// expected, and unclassifiable values degrade to scalar/unknown rather
// than aborting analysis of the rest of the batch.
func Analyze(rows []Value) Analysis {
	if len(rows) == 0 {
		return Analysis{Shape: ShapeEmpty, RecommendedView: ViewTable}
	}

	allScalar := true
	allFlat := true
	hasEntities := false
	hasRelationship := false

	var entityColumns []string
	seenColumn := map[string]bool{}

	for _, row := range rows {
		obj, isObj := row.(*Object)
		if !isObj {
			allFlat = false
			if !IsScalar(row) {
				allScalar = false
			}
			continue
		}
		allScalar = false

		// A row that is itself a twin or relationship (e.g. a bare
		// SELECT over the twin collection) contributes to the
		// relationship census but has no entity columns.
		if rowEntity := Classify(row); rowEntity.IsEntity() {
			hasEntities = true
			if rowEntity.Kind == KindRelationship {
				hasRelationship = true
			}
		}

		for _, key := range obj.Keys() {
			v, _ := obj.Get(key)
			if IsScalar(v) {
				continue
			}
			// Recognized system metadata does not disqualify a row
			// from the flat shape.
			if key == FieldMetadata {
				continue
			}
			ent := Classify(v)
			if ent.IsEntity() {
				hasEntities = true
				if ent.Kind == KindRelationship {
					hasRelationship = true
				}
				if !seenColumn[key] {
					seenColumn[key] = true
					entityColumns = append(entityColumns, key)
				}
			}
			allFlat = false
		}
	}

	a := Analysis{
		EntityColumns:    entityColumns,
		HasRelationships: hasRelationship,
	}

	switch {
	case allScalar:
		a.Shape = ShapeScalar
		a.RecommendedView = ViewTable
	case allFlat:
		a.Shape = ShapeFlatObject
		a.RecommendedView = ViewTable
	case hasEntities:
		a.Shape = ShapeNestedEntities
		if hasRelationship {
			a.RecommendedView = ViewGraph
		} else {
			a.RecommendedView = ViewTable
		}
	default:
		a.Shape = ShapeMixed
		a.RecommendedView = ViewTable
	}

	return a
}
