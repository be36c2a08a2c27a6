package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_DropsEmptyValues(t *testing.T) {
	m := Manifest{
		"name":        "demo",
		"description": "",
		"keywords":    []any{},
		"contributors": []any{
			"",
		},
		"tags":    []string{""},
		"notes":   nil,
		"db_query": `{"$and":[{"metapath":"Corpus,guardian,RawData"}]}`,
	}

	reduced := Reduce(m)

	assert.Equal(t, "demo", reduced["name"])
	assert.Equal(t, `{"$and":[{"metapath":"Corpus,guardian,RawData"}]}`, reduced["db_query"])
	assert.NotContains(t, reduced, "description")
	assert.NotContains(t, reduced, "keywords")
	assert.NotContains(t, reduced, "contributors")
	assert.NotContains(t, reduced, "tags")
	assert.NotContains(t, reduced, "notes")
}

func TestReduce_DropsBuilderFields(t *testing.T) {
	m := Manifest{
		"name":             "demo",
		"builder_form_row": "x",
		"builder_":         "y",
	}

	reduced := Reduce(m)

	assert.Equal(t, Manifest{"name": "demo"}, reduced)
}

func TestReduce_Idempotent(t *testing.T) {
	m := Manifest{
		"name":         "demo",
		"description":  "",
		"builder_meta": "x",
		"sources":      []any{"a", "b"},
	}

	once := Reduce(m)
	twice := Reduce(once)

	assert.Equal(t, once, twice)
}

func TestReduce_KeepsSingleNonEmptyListEntry(t *testing.T) {
	m := Manifest{"name": "demo", "sources": []any{"a"}}

	reduced := Reduce(m)

	assert.Equal(t, []any{"a"}, reduced["sources"])
}

func TestManifest_IDRoundTrip(t *testing.T) {
	m := Manifest{"name": "demo"}
	assert.Empty(t, m.ID())

	m.SetID("abc123")
	assert.Equal(t, "abc123", m.ID())

	m.ClearID()
	assert.Empty(t, m.ID())
}

func TestManifest_Validate(t *testing.T) {
	assert.ErrorIs(t, Manifest{}.Validate(), ErrNameRequired)
	assert.NoError(t, Manifest{"name": "demo"}.Validate())
}

func TestManifest_Query(t *testing.T) {
	m := Manifest{"name": "demo", "db_query": `{"$and":[{"metapath":"Corpus"}]}`}
	assert.Equal(t, `{"$and":[{"metapath":"Corpus"}]}`, m.Query())

	decoded := Manifest{"name": "demo", "db_query": map[string]any{
		"$and": []any{map[string]any{"metapath": "Corpus"}},
	}}
	assert.JSONEq(t, `{"$and":[{"metapath":"Corpus"}]}`, decoded.Query())

	assert.Empty(t, Manifest{"name": "demo"}.Query())
}

func TestManifest_CloneIsDeep(t *testing.T) {
	m := Manifest{
		"name": "demo",
		"content": []Version{
			{Number: 1, Date: "20240101000000", Name: "20240101000000_v1_demo", Zipfile: []byte{1, 2}},
		},
		"sources": []any{"a"},
	}

	clone := m.Clone()
	clone["name"] = "other"
	clone.Versions()[0].Zipfile[0] = 9
	clone["sources"].([]any)[0] = "b"

	assert.Equal(t, "demo", m.Name())
	assert.Equal(t, byte(1), m.Versions()[0].Zipfile[0])
	assert.Equal(t, "a", m["sources"].([]any)[0])
}

func TestManifest_MarshalCanonical(t *testing.T) {
	m := Manifest{"name": "demo", "zeta": "z", "alpha": "a"}

	first, err := m.MarshalCanonical()
	require.NoError(t, err)
	second, err := m.MarshalCanonical()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `{"alpha":"a","name":"demo","zeta":"z"}`, string(first))
}
