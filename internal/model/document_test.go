package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentAccessors(t *testing.T) {
	doc := Document{
		IDField:              "b1",
		FieldTitle:           "Dune",
		FieldEstablishedYear: int32(1965),
		FieldBooks:           []any{"x", 3, "y"},
	}

	assert.Equal(t, "b1", doc.ID())
	assert.Equal(t, "Dune", doc.String(FieldTitle))
	assert.Equal(t, "", doc.String(FieldEstablishedYear))

	year, ok := doc.Number(FieldEstablishedYear)
	assert.True(t, ok)
	assert.Equal(t, 1965.0, year)

	_, ok = doc.Number(FieldTitle)
	assert.False(t, ok)

	assert.Equal(t, []string{"x", "y"}, doc.IDs(FieldBooks))
	assert.Nil(t, doc.IDs(FieldTitle))
}

func TestDocumentNumberFromJSON(t *testing.T) {
	var doc Document
	assert.NoError(t, json.Unmarshal([]byte(`{"establishedYear":1901}`), &doc))
	year, ok := doc.Number(FieldEstablishedYear)
	assert.True(t, ok)
	assert.Equal(t, 1901.0, year)
}

func TestDocumentClone(t *testing.T) {
	doc := Document{FieldBooks: []any{"a"}, "nested": map[string]any{"k": "v"}}
	cp := doc.Clone()

	cp[FieldBooks] = append(cp[FieldBooks].([]any), "b")
	cp["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, []string{"a"}, doc.IDs(FieldBooks))
	assert.Equal(t, "v", doc["nested"].(map[string]any)["k"])
	assert.Nil(t, Document(nil).Clone())
}

func TestMutationEventRefs(t *testing.T) {
	moved := MutationEvent{
		Kind:   KindBook,
		ID:     "b1",
		Op:     OpUpdate,
		Before: Document{FieldAuthorID: "a1", FieldPublisherID: "p1"},
		After:  Document{FieldAuthorID: "a2", FieldPublisherID: "p1"},
	}

	assert.True(t, moved.RefChanged(FieldAuthorID))
	assert.False(t, moved.RefChanged(FieldPublisherID))
	assert.Equal(t, []string{"a1", "a2"}, moved.Refs(FieldAuthorID))
	assert.Equal(t, []string{"p1"}, moved.Refs(FieldPublisherID))

	created := MutationEvent{Kind: KindBook, Op: OpCreate, After: Document{FieldAuthorID: "a1"}}
	assert.True(t, created.RefChanged(FieldAuthorID))
	assert.Len(t, created.Snapshots(), 1)

	same := Document{FieldAuthorID: "a1", FieldPublisherID: "p1"}
	stalled := MutationEvent{Kind: KindBook, Op: OpUpdate, Before: same, After: same.Clone(), Interrupted: true}
	assert.True(t, stalled.RefChanged(FieldPublisherID))
}

func TestIsGenre(t *testing.T) {
	assert.True(t, IsGenre("FICTION"))
	assert.False(t, IsGenre("fiction"))
	assert.Equal(t, "books", Collection(KindBook))
}
