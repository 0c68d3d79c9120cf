package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
	"github.com/eltociear/marqo/internal/schema"
)

func compilerDescriptor(t *testing.T) *index.IndexDescriptor {
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
			{Name: "boost", Type: index.FieldTypeDouble,
				Features: []index.FieldFeature{index.FeatureScoreModifier}},
		},
		[]index.TensorField{{Name: "title"}, {Name: "plot"}},
	)
	require.NoError(t, err)
	return d
}

func TestCombineFilters(t *testing.T) {
	assert.Equal(t, "(a) AND (b)", CombineFilters("a", "b"))
	assert.Equal(t, "a", CombineFilters("a", ""))
	assert.Equal(t, "b", CombineFilters("", "b"))
	assert.Equal(t, "", CombineFilters("", ""))
}

func TestCompileTensor(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&TensorQuery{
		Common:      Common{IndexName: "films", Limit: 10, Offset: 5},
		Vector:      []float32{1, 2, 3},
		Approximate: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 15, plan.Hits)
	assert.Equal(t, 5, plan.Offset)
	assert.Equal(t, schema.RankProfileEmbeddingSimilarity, plan.Ranking)
	assert.Contains(t, plan.YQL, "nearestNeighbor(embeddings_title, marqo__query_embedding)")
	assert.Contains(t, plan.YQL, "nearestNeighbor(embeddings_plot, marqo__query_embedding)")
	assert.Contains(t, plan.YQL, "targetHits:15")
	assert.Equal(t, []float32{1, 2, 3}, plan.QueryFeatures[schema.QueryInputEmbedding])
	// All tensor fields searched when no searchable attributes are given.
	assert.Equal(t, 1, plan.QueryFeatures["title"])
	assert.Equal(t, 1, plan.QueryFeatures["plot"])
}

func TestCompileTensor_SearchableAttributes(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&TensorQuery{
		Common:               Common{IndexName: "films", Limit: 10},
		Vector:               []float32{1, 2, 3},
		SearchableAttributes: []string{"plot"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, plan.QueryFeatures["title"])
	assert.Equal(t, 1, plan.QueryFeatures["plot"])
	assert.NotContains(t, plan.YQL, "embeddings_title")
}

func TestCompileTensor_UnknownSearchableAttribute(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	_, err := c.Compile(&TensorQuery{
		Common:               Common{IndexName: "films", Limit: 10},
		Vector:               []float32{1, 2, 3},
		SearchableAttributes: []string{"year"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidFieldName, errors.CodeOf(err))
}

func TestCompileTensor_FilterAndModifiers(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&TensorQuery{
		Common: Common{
			IndexName: "films", Limit: 10,
			Filter: "year:[1990 TO 2000]",
			ScoreModifiers: []ScoreModifier{
				{Field: "boost", Type: ModifierMultiply, Weight: 2},
			},
		},
		Vector: []float32{1, 2, 3},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.RankProfileEmbeddingSimilarityModifiers, plan.Ranking)
	assert.Contains(t, plan.YQL, "(filter_year >= 1990 AND filter_year <= 2000)")
	mult := plan.QueryFeatures[schema.QueryInputMultWeights].(map[string]float64)
	assert.Equal(t, 2.0, mult["boost"])
}

func TestCompileTensor_FilterSyntaxError(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	_, err := c.Compile(&TensorQuery{
		Common: Common{IndexName: "films", Limit: 10, Filter: "year:"},
		Vector: []float32{1, 2, 3},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFilterSyntax, errors.CodeOf(err))
}

func TestCompileTensor_FilterUnknownField(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	_, err := c.Compile(&TensorQuery{
		Common: Common{IndexName: "films", Limit: 10, Filter: "nope:1"},
		Vector: []float32{1, 2, 3},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidFieldName, errors.CodeOf(err))
}

func TestCompileLexical(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&LexicalQuery{
		Common:     Common{IndexName: "films", Limit: 20},
		OrPhrases:  []string{"space", "alien"},
		AndPhrases: []string{"final frontier"},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.RankProfileBM25, plan.Ranking)
	assert.Contains(t, plan.YQL, `userInput(@marqo__lexical_or)`)
	assert.Contains(t, plan.YQL, `default contains phrase("final", "frontier")`)
	assert.Equal(t, "space alien", plan.Params["marqo__lexical_or"])
}

func TestCompileLexical_SearchableAttributes(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&LexicalQuery{
		Common:               Common{IndexName: "films", Limit: 20},
		OrPhrases:            []string{"alien"},
		SearchableAttributes: []string{"title"},
	})
	require.NoError(t, err)

	assert.Contains(t, plan.YQL, `lexical_title contains "alien"`)
	assert.NotContains(t, plan.YQL, "lexical_plot")
}

func TestCompileLexical_NoPhrases(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	_, err := c.Compile(&LexicalQuery{
		Common: Common{IndexName: "films", Limit: 20},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.CodeOf(err))
}

func TestCompileHybrid_Disjunction(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&HybridQuery{
		Common:    Common{IndexName: "films", Limit: 10},
		Vector:    []float32{1, 2, 3},
		OrPhrases: []string{"alien"},
		HybridParameters: HybridParameters{
			RetrievalMethod: RetrievalDisjunction,
			RankingMethod:   RankingRRF,
			Alpha:           0.5,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.RankProfileHybridRRF, plan.Ranking)
	assert.Contains(t, plan.YQL, "nearestNeighbor")
	assert.Contains(t, plan.YQL, "userInput")
	assert.Equal(t, DefaultRRFK, plan.QueryFeatures[schema.QueryInputRRFK])
	assert.Equal(t, 0.5, plan.QueryFeatures[schema.QueryInputAlpha])

	lexicalToggles := plan.QueryFeatures[schema.QueryInputFieldsToSearchLexical].(map[string]float64)
	assert.Equal(t, 1.0, lexicalToggles["lexical_title"])
	assert.Equal(t, 1.0, lexicalToggles["lexical_plot"])
	tensorToggles := plan.QueryFeatures[schema.QueryInputFieldsToSearchTensor].(map[string]float64)
	assert.Equal(t, 1.0, tensorToggles["title"])
}

func TestCompileHybrid_NormalizeLinearWithModifiers(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&HybridQuery{
		Common:    Common{IndexName: "films", Limit: 10},
		Vector:    []float32{1, 2, 3},
		OrPhrases: []string{"alien"},
		HybridParameters: HybridParameters{
			RetrievalMethod: RetrievalDisjunction,
			RankingMethod:   RankingNormalizeLinear,
			Alpha:           0.7,
			ScoreModifiersTensor: []ScoreModifier{
				{Field: "boost", Type: ModifierAdd, Weight: 1.5},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, schema.RankProfileHybridNormalizeLinearModifiers, plan.Ranking)
	add := plan.QueryFeatures[schema.QueryInputAddWeightsTensor].(map[string]float64)
	assert.Equal(t, 1.5, add["boost"])
}

func TestCompileHybrid_SingleSideRetrievalUsesCustomSearcher(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&HybridQuery{
		Common:    Common{IndexName: "films", Limit: 10},
		Vector:    []float32{1, 2, 3},
		OrPhrases: []string{"alien"},
		HybridParameters: HybridParameters{
			RetrievalMethod: RetrievalLexical,
			RankingMethod:   RankingTensor,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RankProfileHybridCustomSearcher, plan.Ranking)
	assert.NotContains(t, plan.YQL, "nearestNeighbor")
}

func TestCompile_UnknownKind(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	_, err := c.Compile(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}

func TestSelectClause_ExpandsAttributes(t *testing.T) {
	c := NewCompiler(compilerDescriptor(t))

	plan, err := c.Compile(&TensorQuery{
		Common: Common{
			IndexName:            "films",
			Limit:                10,
			AttributesToRetrieve: []string{"title", "year"},
		},
		Vector: []float32{1, 2, 3},
	})
	require.NoError(t, err)

	assert.Contains(t, plan.YQL, "select id, title, chunks_title, year from")
}

func TestUnstructuredFilterRendering(t *testing.T) {
	d, err := index.New("freeform", index.IndexTypeUnstructured,
		index.Model{Name: "m", Dimension: 2},
		index.DistanceMetricAngular,
		index.HNSWConfig{M: 16, EfConstruction: 100},
		nil, nil,
	)
	require.NoError(t, err)
	c := NewCompiler(d)

	cond, err := c.filterCondition(&Common{Filter: `genre:comedy AND year:[1990 TO 2000]`})
	require.NoError(t, err)

	assert.Contains(t, cond, `marqo__short_string_fields{"genre"} contains "comedy"`)
	assert.Contains(t, cond, `marqo__string_array_fields{"genre"} contains "comedy"`)
	assert.Contains(t, cond, `marqo__int_fields{"year"} >= 1990`)
	assert.Contains(t, cond, `marqo__float_fields{"year"} <= 2000`)
}

func TestSanitizeFilterField(t *testing.T) {
	assert.Equal(t, `plain`, SanitizeFilterField("plain"))
	assert.Equal(t, `with\ space`, SanitizeFilterField("with space"))
	assert.Equal(t, `a\:b`, SanitizeFilterField("a:b"))
}
