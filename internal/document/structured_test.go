package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

func structuredDescriptor(t *testing.T) *index.IndexDescriptor {
	t.Helper()
	d, err := index.New("films", index.IndexTypeStructured,
		index.Model{Name: "hf/e5-base-v2", Dimension: 3},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 100},
		[]index.Field{
			{Name: "title", Type: index.FieldTypeText,
				Features: []index.FieldFeature{index.FeatureLexicalSearch, index.FeatureFilter}},
			{Name: "plot", Type: index.FieldTypeText,
				Features: []index.FieldFeature{index.FeatureLexicalSearch}},
			{Name: "year", Type: index.FieldTypeInt,
				Features: []index.FieldFeature{index.FeatureFilter}},
			{Name: "rating", Type: index.FieldTypeFloat},
			{Name: "poster", Type: index.FieldTypeImagePointer},
		},
		[]index.TensorField{{Name: "plot"}},
	)
	require.NoError(t, err)
	return d
}

func TestStructuredToBackend_RoutesStorageFields(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	backend, err := translator.ToBackend(Document{
		"_id":    "doc1",
		"title":  "Alien",
		"plot":   "A crew encounters something",
		"year":   1979,
		"rating": 8.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "doc1", backend.ID)
	assert.Equal(t, "doc1", backend.Fields["id"])
	assert.Equal(t, "Alien", backend.Fields["lexical_title"])
	assert.Equal(t, "Alien", backend.Fields["filter_title"])
	assert.Equal(t, "A crew encounters something", backend.Fields["lexical_plot"])
	assert.Equal(t, 1979, backend.Fields["filter_year"])
	assert.Equal(t, 8.5, backend.Fields["rating"])
	assert.NotContains(t, backend.Fields, "title")
	assert.NotContains(t, backend.Fields, "plot")
	assert.NotContains(t, backend.Fields, "year")
}

func TestStructuredToBackend_UnknownField(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	_, err := translator.ToBackend(Document{"unknown": "x"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidFieldName, errors.CodeOf(err))
}

func TestStructuredToBackend_TypeMismatch(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	_, err := translator.ToBackend(Document{"title": 42})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidDataType, errors.CodeOf(err))
}

func TestStructuredToBackend_FloatAcceptsInt(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	backend, err := translator.ToBackend(Document{"rating": 8})
	require.NoError(t, err)
	assert.Equal(t, 8, backend.Fields["rating"])
}

func TestStructuredToBackend_Tensors(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	backend, err := translator.ToBackend(Document{
		"_id": "doc1",
		"_tensors": map[string]any{
			"plot": map[string]any{
				"chunks":     []string{"chunk one", "chunk two"},
				"embeddings": [][]float32{{1, 2, 3}, {4, 5, 6}},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"chunk one", "chunk two"}, backend.Fields["chunks_plot"])
	embeddings, ok := backend.Fields["embeddings_plot"].(map[string][]float32)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, embeddings["0"])
	assert.Equal(t, []float32{4, 5, 6}, embeddings["1"])
}

func TestStructuredToBackend_UnknownTensorField(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	_, err := translator.ToBackend(Document{
		"_tensors": map[string]any{
			"title": map[string]any{
				"chunks":     []string{"c"},
				"embeddings": [][]float32{{1, 2, 3}},
			},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidFieldName, errors.CodeOf(err))
}

func TestStructuredRoundTrip(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	original := Document{
		"_id":    "doc1",
		"title":  "Alien",
		"plot":   "A crew encounters something",
		"year":   1979,
		"rating": 8.5,
		"poster": "https://example.com/alien.jpg",
		"_tensors": map[string]any{
			"plot": map[string]any{
				"chunks":     []string{"chunk one", "chunk two"},
				"embeddings": [][]float32{{1, 2, 3}, {4, 5, 6}},
			},
		},
	}

	backend, err := translator.ToBackend(original)
	require.NoError(t, err)
	restored, err := translator.ToLogical(backend, false)
	require.NoError(t, err)

	assert.Equal(t, original["_id"], restored["_id"])
	assert.Equal(t, original["title"], restored["title"])
	assert.Equal(t, original["plot"], restored["plot"])
	assert.Equal(t, original["year"], restored["year"])
	assert.Equal(t, original["rating"], restored["rating"])
	assert.Equal(t, original["poster"], restored["poster"])

	tensors, ok := restored["_tensors"].(map[string]any)
	require.True(t, ok)
	plot, ok := tensors["plot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"chunk one", "chunk two"}, plot["chunks"])
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, plot["embeddings"])
}

func TestStructuredToLogical_Highlights(t *testing.T) {
	translator := NewStructured(structuredDescriptor(t))

	backend, err := translator.ToBackend(Document{"_id": "doc1", "title": "Alien"})
	require.NoError(t, err)

	withHighlights, err := translator.ToLogical(backend, true)
	require.NoError(t, err)
	assert.Contains(t, withHighlights, DocHighlights)

	without, err := translator.ToLogical(backend, false)
	require.NoError(t, err)
	assert.NotContains(t, without, DocHighlights)
}
