// Package search compiles logical queries into backend query plans: YQL
// text, rank-profile selection, and query-feature inputs.
package search

// ModifierType distinguishes multiplicative from additive score modifiers.
type ModifierType string

const (
	ModifierMultiply ModifierType = "multiply_score_by"
	ModifierAdd      ModifierType = "add_to_score"
)

// ScoreModifier adjusts document scores by a numeric attribute.
type ScoreModifier struct {
	Field  string
	Type   ModifierType
	Weight float64
}

// RetrievalMethod decides which side(s) of a hybrid query retrieve
// candidates.
type RetrievalMethod string

const (
	RetrievalDisjunction RetrievalMethod = "disjunction"
	RetrievalLexical     RetrievalMethod = "lexical"
	RetrievalTensor      RetrievalMethod = "tensor"
)

// RankingMethod decides the fusion expression ranking hybrid candidates.
type RankingMethod string

const (
	RankingRRF             RankingMethod = "rrf"
	RankingNormalizeLinear RankingMethod = "normalize_linear"
	RankingLexical         RankingMethod = "lexical"
	RankingTensor          RankingMethod = "tensor"
)

// HybridParameters carries the hybrid-specific knobs.
type HybridParameters struct {
	RetrievalMethod RetrievalMethod
	RankingMethod   RankingMethod

	// Alpha weights the tensor side for normalize_linear ranking.
	Alpha float64
	// RRFK is the reciprocal rank fusion smoothing constant.
	RRFK int

	ScoreModifiersLexical []ScoreModifier
	ScoreModifiersTensor  []ScoreModifier
}

// Common holds the fields every query variant carries.
type Common struct {
	IndexName            string
	Limit                int
	Offset               int
	AttributesToRetrieve []string
	// Filter is the raw user filter string; empty means no filter.
	Filter         string
	ScoreModifiers []ScoreModifier
	ExposeFacets   bool
}

// Query is the tagged logical query variant.
type Query interface {
	common() *Common
}

// TensorQuery retrieves by vector similarity.
type TensorQuery struct {
	Common

	Vector               []float32
	EfSearch             *int
	Approximate          bool
	SearchableAttributes []string
}

// LexicalQuery retrieves by keyword match.
type LexicalQuery struct {
	Common

	OrPhrases            []string
	AndPhrases           []string
	SearchableAttributes []string
}

// HybridQuery carries all tensor and lexical fields plus hybrid parameters.
// It must be dispatched before the other variants.
type HybridQuery struct {
	Common

	Vector               []float32
	EfSearch             *int
	Approximate          bool
	OrPhrases            []string
	AndPhrases           []string
	SearchableAttributes []string

	HybridParameters HybridParameters
}

func (q *TensorQuery) common() *Common  { return &q.Common }
func (q *LexicalQuery) common() *Common { return &q.Common }
func (q *HybridQuery) common() *Common  { return &q.Common }

// BackendQuery is the compiled backend query plan.
type BackendQuery struct {
	// YQL is the full select statement.
	YQL string
	// Hits is limit + offset.
	Hits int
	// Offset skips leading hits.
	Offset int
	// Ranking selects the rank profile.
	Ranking string
	// ModelRestrict restricts the query to one schema.
	ModelRestrict string
	// Summary selects the document summary to render.
	Summary string
	// QueryFeatures become input.query(<name>) parameters.
	QueryFeatures map[string]any
	// Params are additional request parameters (e.g. userInput sources).
	Params map[string]string
}
