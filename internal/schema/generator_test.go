package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/index"
)

func testDescriptor(t *testing.T) *index.IndexDescriptor {
	t.Helper()
	d, err := index.New("idx", index.IndexTypeStructured,
		index.Model{Name: "hf/e5-base-v2", Dimension: 3},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 100},
		[]index.Field{
			{Name: "t", Type: index.FieldTypeText,
				Features: []index.FieldFeature{index.FeatureLexicalSearch, index.FeatureFilter}},
		},
		[]index.TensorField{{Name: "t"}},
	)
	require.NoError(t, err)
	return d
}

func TestGenerate_FieldsAndProfiles(t *testing.T) {
	d := testDescriptor(t)

	out, err := Generate(d)
	require.NoError(t, err)

	assert.Contains(t, out, "field lexical_t type string {")
	assert.Contains(t, out, "field filter_t type string {")
	assert.Contains(t, out, "field chunks_t type array<string> {")
	assert.Contains(t, out, "field embeddings_t type tensor<float>(p{}, x[3]) {")
	assert.Contains(t, out, "distance-metric: angular")
	assert.Contains(t, out, "max-links-per-node: 16")
	assert.Contains(t, out, "neighbors-to-explore-at-insert: 100")
	assert.Contains(t, out, "rank-profile bm25 inherits default")
	assert.Contains(t, out, "rank-profile embedding_similarity inherits default")
	assert.Contains(t, out, "fieldset default {")
	assert.Contains(t, out, "document-summary all-non-vector-summary {")
	assert.Contains(t, out, "document-summary all-vector-summary {")
}

func TestGenerate_Deterministic(t *testing.T) {
	d := testDescriptor(t)

	first, err := Generate(d)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Generate(d)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBM25Expression_DescriptorOrder(t *testing.T) {
	d, err := index.New("order", index.IndexTypeStructured,
		index.Model{Name: "m", Dimension: 4},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 100},
		[]index.Field{
			{Name: "b", Type: index.FieldTypeText, Features: []index.FieldFeature{index.FeatureLexicalSearch}},
			{Name: "a", Type: index.FieldTypeText, Features: []index.FieldFeature{index.FeatureLexicalSearch}},
			{Name: "c", Type: index.FieldTypeText, Features: []index.FieldFeature{index.FeatureFilter}},
		},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, "bm25(lexical_b) + bm25(lexical_a)", BM25Expression(d))
}

func TestEmbeddingSimilarityExpression(t *testing.T) {
	d := testDescriptor(t)
	assert.Equal(t,
		"if (query(t) > 0, closeness(field, embeddings_t), 0)",
		EmbeddingSimilarityExpression(d))
}

func TestGenerate_ModifierProfiles(t *testing.T) {
	d, err := index.New("mods", index.IndexTypeStructured,
		index.Model{Name: "m", Dimension: 2},
		index.DistanceMetricEuclidean,
		index.HNSWConfig{M: 8, EfConstruction: 64},
		[]index.Field{
			{Name: "body", Type: index.FieldTypeText, Features: []index.FieldFeature{index.FeatureLexicalSearch}},
			{Name: "rank_boost", Type: index.FieldTypeDouble, Features: []index.FieldFeature{index.FeatureScoreModifier}},
		},
		[]index.TensorField{{Name: "body"}},
	)
	require.NoError(t, err)

	out, err := Generate(d)
	require.NoError(t, err)

	assert.Contains(t, out, fmt.Sprintf("field %s type tensor<float>(p{}) { indexing: attribute }", index.ScoreModifiersField))
	assert.Contains(t, out, "rank-profile modifiers inherits default {")
	assert.Contains(t, out, "function modify(score) {")
	assert.Contains(t, out, "rank-profile bm25_modifiers inherits modifiers {")
	assert.Contains(t, out, "rank-profile embedding_similarity_modifiers inherits modifiers {")
	assert.Contains(t, out, "reduce(query(marqo__mult_weights) * attribute(marqo__score_modifiers), prod)")
	assert.Contains(t, out, "reduce(query(marqo__add_weights) * attribute(marqo__score_modifiers), sum)")
}

func TestGenerate_HybridProfiles(t *testing.T) {
	d := testDescriptor(t)

	out, err := Generate(d)
	require.NoError(t, err)

	assert.Contains(t, out, "rank-profile hybrid_custom_searcher inherits default {")
	assert.Contains(t, out, "rank-profile hybrid_rrf inherits default {")
	assert.Contains(t, out, "rank-profile hybrid_normalize_linear inherits default {")
	// No score-modifier fields, so no modifier variants.
	assert.NotContains(t, out, "hybrid_rrf_modifiers")
	assert.NotContains(t, out, "hybrid_normalize_linear_modifiers")
	assert.Contains(t, out, "1 / (query(marqo__rrf_k) + rank(lexical_score))")
	assert.Contains(t, out, "query(marqo__alpha) * normalize_linear(tensor_score)")
}

func TestGenerate_NoLexicalFieldsOmitsBM25(t *testing.T) {
	d, err := index.New("tensoronly", index.IndexTypeStructured,
		index.Model{Name: "m", Dimension: 2},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 100},
		[]index.Field{{Name: "img", Type: index.FieldTypeImagePointer}},
		[]index.TensorField{{Name: "img"}},
	)
	require.NoError(t, err)

	out, err := Generate(d)
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "rank-profile bm25"))
	assert.False(t, strings.Contains(out, "fieldset default"))
	assert.Contains(t, out, "rank-profile embedding_similarity inherits default")
}
