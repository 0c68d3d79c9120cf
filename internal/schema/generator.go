// Package schema emits deterministic backend schema documents from an
// index descriptor. Given identical input the output is byte-identical.
package schema

import (
	"fmt"
	"strings"

	"github.com/eltociear/marqo/internal/index"
)

// Stable rank profile names, selectable at query time.
const (
	RankProfileBM25                = "bm25"
	RankProfileEmbeddingSimilarity = "embedding_similarity"
	RankProfileModifiers           = "modifiers"

	RankProfileBM25Modifiers                = "bm25_modifiers"
	RankProfileEmbeddingSimilarityModifiers = "embedding_similarity_modifiers"

	RankProfileHybridCustomSearcher          = "hybrid_custom_searcher"
	RankProfileHybridRRF                     = "hybrid_rrf"
	RankProfileHybridRRFModifiers            = "hybrid_rrf_modifiers"
	RankProfileHybridNormalizeLinear         = "hybrid_normalize_linear"
	RankProfileHybridNormalizeLinearModifiers = "hybrid_normalize_linear_modifiers"
)

// Query feature input names. These are reserved names, so they carry the
// marqo__ prefix to avoid collisions with per-field toggle inputs which use
// the logical field name.
const (
	QueryInputEmbedding = "marqo__query_embedding"

	QueryInputMultWeights = "marqo__mult_weights"
	QueryInputAddWeights  = "marqo__add_weights"

	QueryInputMultWeightsLexical = "marqo__mult_weights_lexical"
	QueryInputAddWeightsLexical  = "marqo__add_weights_lexical"
	QueryInputMultWeightsTensor  = "marqo__mult_weights_tensor"
	QueryInputAddWeightsTensor   = "marqo__add_weights_tensor"

	QueryInputFieldsToSearchLexical = "marqo__fields_to_search_lexical"
	QueryInputFieldsToSearchTensor  = "marqo__fields_to_search_tensor"

	QueryInputAlpha = "marqo__alpha"
	QueryInputRRFK  = "marqo__rrf_k"
)

// Document summary names.
const (
	SummaryAllNonVector = "all-non-vector-summary"
	SummaryAllVector    = "all-vector-summary"
)

// Generate emits the backend schema for the given descriptor. Output
// sections, in order: document fields, default fieldset, summaries, rank
// profiles.
func Generate(d *index.IndexDescriptor) (string, error) {
	var lines []string

	lines = append(lines, fmt.Sprintf("schema %s {", d.SchemaName))

	docLines, err := generateDocumentSection(d)
	if err != nil {
		return "", err
	}
	lines = append(lines, docLines...)
	lines = append(lines, generateDefaultFieldset(d)...)

	summaryLines, err := generateSummaries(d)
	if err != nil {
		return "", err
	}
	lines = append(lines, summaryLines...)
	lines = append(lines, generateRankProfiles(d)...)

	lines = append(lines, "}")

	return strings.Join(lines, "\n"), nil
}

// generateDocumentSection emits the document fields block: the id field,
// one or two storage fields per logical field, the score-modifier tensor,
// and the chunk/embedding pair per tensor field.
func generateDocumentSection(d *index.IndexDescriptor) ([]string, error) {
	var doc []string

	doc = append(doc, fmt.Sprintf("document %s {", d.SchemaName))
	doc = append(doc, fmt.Sprintf("field %s type string { indexing: summary }", index.IDField))

	for i := range d.Fields {
		field := &d.Fields[i]
		if field.Type == index.FieldTypeMultimodalCombination {
			// Subfields store the combination's values; its tensor field
			// stores the chunks and embeddings.
			continue
		}

		fieldType, err := index.VespaType(field.Type)
		if err != nil {
			return nil, err
		}

		if field.LexicalFieldName != "" {
			doc = append(doc, fmt.Sprintf("field %s type %s {", field.LexicalFieldName, fieldType))
			doc = append(doc, "indexing: index | summary")
			doc = append(doc, "index: enable-bm25")
			doc = append(doc, "}")
		}
		if field.FilterFieldName != "" {
			doc = append(doc, fmt.Sprintf("field %s type %s {", field.FilterFieldName, fieldType))
			doc = append(doc, "indexing: attribute | summary")
			doc = append(doc, "attribute: fast-search")
			doc = append(doc, "rank: filter")
			doc = append(doc, "}")
		}
		if field.LexicalFieldName == "" && field.FilterFieldName == "" {
			doc = append(doc, fmt.Sprintf("field %s type %s {", field.Name, fieldType))
			doc = append(doc, "indexing: summary")
			doc = append(doc, "}")
		}
	}

	if len(d.ScoreModifierFields()) > 0 {
		doc = append(doc, fmt.Sprintf("field %s type tensor<float>(p{}) { indexing: attribute }", index.ScoreModifiersField))
	}

	metric, err := index.VespaDistanceMetric(d.DistanceMetric)
	if err != nil {
		return nil, err
	}
	for i := range d.TensorFields {
		tf := &d.TensorFields[i]
		doc = append(doc, fmt.Sprintf("field %s type array<string> {", tf.ChunkFieldName))
		doc = append(doc, "indexing: attribute | summary")
		doc = append(doc, "}")
		doc = append(doc, fmt.Sprintf("field %s type tensor<float>(p{}, x[%d]) {", tf.EmbeddingsFieldName, d.Model.Dimension))
		doc = append(doc, "indexing: attribute | index | summary")
		doc = append(doc, fmt.Sprintf("attribute { distance-metric: %s }", metric))
		doc = append(doc, "index { hnsw {")
		doc = append(doc, fmt.Sprintf("max-links-per-node: %d", d.HNSWConfig.M))
		doc = append(doc, fmt.Sprintf("neighbors-to-explore-at-insert: %d", d.HNSWConfig.EfConstruction))
		doc = append(doc, "}}")
		doc = append(doc, "}")
	}

	doc = append(doc, "}")
	return doc, nil
}

func generateDefaultFieldset(d *index.IndexDescriptor) []string {
	lexicalFields := d.LexicalFieldNames()
	if len(lexicalFields) == 0 {
		return nil
	}
	return []string{
		"fieldset default {",
		fmt.Sprintf("fields: %s", strings.Join(lexicalFields, ", ")),
		"}",
	}
}

func generateSummaries(d *index.IndexDescriptor) ([]string, error) {
	var nonVector []string
	var vector []string

	for i := range d.Fields {
		field := &d.Fields[i]
		if field.Type == index.FieldTypeMultimodalCombination {
			continue
		}
		fieldType, err := index.VespaType(field.Type)
		if err != nil {
			return nil, err
		}

		// Filter fields are in-memory attributes, so prefer them as the
		// summary source even when a lexical field exists.
		source := field.Name
		if field.FilterFieldName != "" {
			source = field.FilterFieldName
		} else if field.LexicalFieldName != "" {
			source = field.LexicalFieldName
		}
		nonVector = append(nonVector,
			fmt.Sprintf("summary %s type %s { source: %s }", field.Name, fieldType, source))
	}

	for i := range d.TensorFields {
		tf := &d.TensorFields[i]
		nonVector = append(nonVector,
			fmt.Sprintf("summary %s type array<string> { }", tf.ChunkFieldName))
		vector = append(vector,
			fmt.Sprintf("summary %s type tensor<float>(p{}, x[%d]) { }", tf.EmbeddingsFieldName, d.Model.Dimension))
	}

	var summaries []string
	summaries = append(summaries, fmt.Sprintf("document-summary %s {", SummaryAllNonVector))
	summaries = append(summaries, nonVector...)
	summaries = append(summaries, "}")
	summaries = append(summaries, fmt.Sprintf("document-summary %s {", SummaryAllVector))
	summaries = append(summaries, nonVector...)
	summaries = append(summaries, vector...)
	summaries = append(summaries, "}")
	return summaries, nil
}

// BM25Expression returns the lexical first-phase expression: the sum of
// bm25 over the lexical storage fields in descriptor order.
func BM25Expression(d *index.IndexDescriptor) string {
	var terms []string
	for _, name := range d.LexicalFieldNames() {
		terms = append(terms, fmt.Sprintf("bm25(%s)", name))
	}
	return strings.Join(terms, " + ")
}

// EmbeddingSimilarityExpression returns the tensor first-phase expression:
// per tensor field, closeness gated on the per-field query toggle.
func EmbeddingSimilarityExpression(d *index.IndexDescriptor) string {
	var terms []string
	for i := range d.TensorFields {
		tf := &d.TensorFields[i]
		terms = append(terms, fmt.Sprintf("if (query(%s) > 0, closeness(field, %s), 0)", tf.Name, tf.EmbeddingsFieldName))
	}
	return strings.Join(terms, " + ")
}

func modifyExpression() string {
	return fmt.Sprintf(
		"if (count(query(%s)) == 0, 1, reduce(query(%s) * attribute(%s), prod)) * score"+
			" + reduce(query(%s) * attribute(%s), sum)",
		QueryInputMultWeights, QueryInputMultWeights, index.ScoreModifiersField,
		QueryInputAddWeights, index.ScoreModifiersField)
}

func generateRankProfiles(d *index.IndexDescriptor) []string {
	var profiles []string

	lexicalFields := d.LexicalFieldNames()
	tensorFields := d.TensorFields
	scoreModifierFields := d.ScoreModifierFields()

	bm25Expr := BM25Expression(d)
	embeddingExpr := EmbeddingSimilarityExpression(d)

	if len(lexicalFields) > 0 {
		profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits default { first-phase {", RankProfileBM25))
		profiles = append(profiles, fmt.Sprintf("expression: %s", bm25Expr))
		profiles = append(profiles, "}}")
	}

	if len(tensorFields) > 0 {
		profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits default {", RankProfileEmbeddingSimilarity))
		profiles = append(profiles, "inputs {")
		profiles = append(profiles, fmt.Sprintf("query(%s) tensor<float>(x[%d])", QueryInputEmbedding, d.Model.Dimension))
		for i := range tensorFields {
			profiles = append(profiles, fmt.Sprintf("query(%s): 1", tensorFields[i].Name))
		}
		profiles = append(profiles, "}")
		profiles = append(profiles, "first-phase {")
		profiles = append(profiles, fmt.Sprintf("expression: %s", embeddingExpr))
		profiles = append(profiles, "}}")
	}

	if len(scoreModifierFields) > 0 {
		profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits default {", RankProfileModifiers))
		profiles = append(profiles, "inputs {")
		profiles = append(profiles, fmt.Sprintf("query(%s)  tensor<float>(p{})", QueryInputMultWeights))
		profiles = append(profiles, fmt.Sprintf("query(%s)  tensor<float>(p{})", QueryInputAddWeights))
		profiles = append(profiles, "}")
		profiles = append(profiles, "function modify(score) {")
		profiles = append(profiles, fmt.Sprintf("expression: %s", modifyExpression()))
		profiles = append(profiles, "}}")

		if len(lexicalFields) > 0 {
			profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits %s { first-phase {",
				RankProfileBM25Modifiers, RankProfileModifiers))
			profiles = append(profiles, fmt.Sprintf("expression: modify(%s)", bm25Expr))
			profiles = append(profiles, "}}")
		}
		if len(tensorFields) > 0 {
			profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits %s { first-phase {",
				RankProfileEmbeddingSimilarityModifiers, RankProfileModifiers))
			profiles = append(profiles, fmt.Sprintf("expression: modify(%s)", embeddingExpr))
			profiles = append(profiles, "}}")
		}
	}

	if len(lexicalFields) > 0 && len(tensorFields) > 0 {
		profiles = append(profiles, generateHybridProfiles(d, bm25Expr, embeddingExpr, len(scoreModifierFields) > 0)...)
	}

	return profiles
}

// generateHybridProfiles emits the hybrid search profile set. The custom
// searcher profile only declares inputs; the fusion profiles carry both
// side expressions as functions and fuse them in the global phase.
func generateHybridProfiles(d *index.IndexDescriptor, bm25Expr, embeddingExpr string, hasModifiers bool) []string {
	var profiles []string

	hybridInputs := func() []string {
		lines := []string{"inputs {"}
		lines = append(lines, fmt.Sprintf("query(%s) tensor<float>(x[%d])", QueryInputEmbedding, d.Model.Dimension))
		for i := range d.TensorFields {
			lines = append(lines, fmt.Sprintf("query(%s): 1", d.TensorFields[i].Name))
		}
		lines = append(lines, fmt.Sprintf("query(%s) tensor<int8>(p{})", QueryInputFieldsToSearchLexical))
		lines = append(lines, fmt.Sprintf("query(%s) tensor<int8>(p{})", QueryInputFieldsToSearchTensor))
		lines = append(lines, fmt.Sprintf("query(%s) tensor<float>(p{})", QueryInputMultWeightsLexical))
		lines = append(lines, fmt.Sprintf("query(%s) tensor<float>(p{})", QueryInputAddWeightsLexical))
		lines = append(lines, fmt.Sprintf("query(%s) tensor<float>(p{})", QueryInputMultWeightsTensor))
		lines = append(lines, fmt.Sprintf("query(%s) tensor<float>(p{})", QueryInputAddWeightsTensor))
		lines = append(lines, fmt.Sprintf("query(%s): 0.5", QueryInputAlpha))
		lines = append(lines, fmt.Sprintf("query(%s): 60", QueryInputRRFK))
		lines = append(lines, "}")
		return lines
	}

	sideFunctions := []string{
		"function lexical_score() {",
		fmt.Sprintf("expression: %s", bm25Expr),
		"}",
		"function tensor_score() {",
		fmt.Sprintf("expression: %s", embeddingExpr),
		"}",
	}

	// The custom searcher splits a hybrid query into its lexical and tensor
	// sub-queries; this profile only declares the inputs it forwards.
	profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits default {", RankProfileHybridCustomSearcher))
	profiles = append(profiles, hybridInputs()...)
	profiles = append(profiles, "}")

	rrfExpr := fmt.Sprintf("1 / (query(%s) + rank(lexical_score)) + 1 / (query(%s) + rank(tensor_score))",
		QueryInputRRFK, QueryInputRRFK)
	linearExpr := fmt.Sprintf("query(%s) * normalize_linear(tensor_score) + (1 - query(%s)) * normalize_linear(lexical_score)",
		QueryInputAlpha, QueryInputAlpha)

	emitFusion := func(name, inherits, fusionExpr string, modified bool) {
		profiles = append(profiles, fmt.Sprintf("rank-profile %s inherits %s {", name, inherits))
		profiles = append(profiles, hybridInputs()...)
		profiles = append(profiles, sideFunctions...)
		profiles = append(profiles, "first-phase {")
		profiles = append(profiles, "expression: lexical_score + tensor_score")
		profiles = append(profiles, "}")
		profiles = append(profiles, "global-phase {")
		if modified {
			profiles = append(profiles, fmt.Sprintf("expression: modify(%s)", fusionExpr))
		} else {
			profiles = append(profiles, fmt.Sprintf("expression: %s", fusionExpr))
		}
		profiles = append(profiles, "rerank-count: 1000")
		profiles = append(profiles, "}}")
	}

	emitFusion(RankProfileHybridRRF, "default", rrfExpr, false)
	emitFusion(RankProfileHybridNormalizeLinear, "default", linearExpr, false)
	if hasModifiers {
		emitFusion(RankProfileHybridRRFModifiers, RankProfileModifiers, rrfExpr, true)
		emitFusion(RankProfileHybridNormalizeLinearModifiers, RankProfileModifiers, linearExpr, true)
	}

	return profiles
}
