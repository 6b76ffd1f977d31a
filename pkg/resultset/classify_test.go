package resultset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw string) Value {
	t.Helper()
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	return v
}

const twinJSON = `{
	"$dtId": "t1",
	"$etag": "W/\"abc\"",
	"name": "Boiler Room",
	"temp": 21.5,
	"$metadata": {"$model": "dtmi:example:Room;1"}
}`

const relJSON = `{
	"$relationshipId": "r1",
	"$sourceId": "t1",
	"$targetId": "t2",
	"$relationshipName": "contains",
	"since": "2024-01-01"
}`

func TestClassify_Twin(t *testing.T) {
	e := Classify(mustDecode(t, twinJSON))

	assert.Equal(t, KindTwin, e.Kind)
	assert.Equal(t, "t1", e.ID)
	assert.Equal(t, "dtmi:example:Room;1", e.Model)
	assert.True(t, e.IsEntity())
}

func TestClassify_Relationship(t *testing.T) {
	e := Classify(mustDecode(t, relJSON))

	assert.Equal(t, KindRelationship, e.Kind)
	assert.Equal(t, "r1", e.ID)
	assert.Equal(t, "t1", e.SourceID)
	assert.Equal(t, "t2", e.TargetID)
	assert.Equal(t, "contains", e.Model)
}

func TestClassify_Degradation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"scalar string", `"hello"`, KindScalar},
		{"scalar number", `42`, KindScalar},
		{"null", `null`, KindScalar},
		{"array", `[1,2,3]`, KindUnknown},
		{"aggregation result", `{"COUNT": 12}`, KindUnknown},
		{"twin id without metadata", `{"$dtId": "t1", "name": "x"}`, KindUnknown},
		{"relationship missing target", `{"$relationshipId": "r1", "$sourceId": "t1"}`, KindUnknown},
		{"empty object", `{}`, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(mustDecode(t, tt.raw))
			assert.Equal(t, tt.want, e.Kind)
			assert.Empty(t, e.ID, "non-entities carry no identity key")
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	v := mustDecode(t, twinJSON)
	first := Classify(v)
	second := Classify(v)

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Model, second.Model)
}

func TestProperties_ExcludesSystemFieldsKeepsOrder(t *testing.T) {
	e := Classify(mustDecode(t, twinJSON))
	props := e.Properties()

	require.Len(t, props, 2)
	assert.Equal(t, "name", props[0].Name)
	assert.Equal(t, "Boiler Room", props[0].Value)
	assert.Equal(t, "temp", props[1].Name)

	// Pure: repeated calls yield the same ordered list.
	assert.Equal(t, props, e.Properties())
}

func TestProperties_Relationship(t *testing.T) {
	e := Classify(mustDecode(t, relJSON))

	assert.Equal(t, []string{"since"}, e.PropertyNames())
}

func TestProperties_NonObject(t *testing.T) {
	e := Classify(Value("scalar"))
	assert.Nil(t, e.Properties())
}
