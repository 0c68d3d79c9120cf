package search

import (
	"fmt"
	"strings"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/filter"
	"github.com/eltociear/marqo/internal/index"
	"github.com/eltociear/marqo/internal/schema"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant used when a
// hybrid query does not set one.
const DefaultRRFK = 60

// Compiler turns logical queries into backend query plans for one index.
type Compiler struct {
	descriptor *index.IndexDescriptor
	renderer   filterRenderer
}

// NewCompiler creates a compiler for the given descriptor. Semi-structured
// indexes route filter-term extraction through the unstructured convention
// and everything else through the structured one.
func NewCompiler(d *index.IndexDescriptor) *Compiler {
	var renderer filterRenderer
	switch d.Type {
	case index.IndexTypeStructured:
		renderer = &structuredRenderer{descriptor: d}
	case index.IndexTypeUnstructured, index.IndexTypeSemiStructured:
		renderer = &unstructuredRenderer{}
	}
	return &Compiler{descriptor: d, renderer: renderer}
}

// Compile dispatches on the query kind. Hybrid is checked first because it
// carries both tensor and lexical shapes.
func (c *Compiler) Compile(q Query) (*BackendQuery, error) {
	switch query := q.(type) {
	case *HybridQuery:
		return c.compileHybrid(query)
	case *TensorQuery:
		return c.compileTensor(query)
	case *LexicalQuery:
		return c.compileLexical(query)
	default:
		return nil, errors.Internal("unknown query kind %T", q)
	}
}

// selectClause expands attributes-to-retrieve: id is always included, and
// each retained tensor field brings its chunk storage field along.
func (c *Compiler) selectClause(common *Common) string {
	if common.AttributesToRetrieve == nil {
		return "*"
	}
	fields := []string{index.IDField}
	seen := map[string]bool{index.IDField: true}
	for _, attr := range common.AttributesToRetrieve {
		if !seen[attr] {
			fields = append(fields, attr)
			seen[attr] = true
		}
		if tf, ok := c.descriptor.TensorFieldMap()[attr]; ok && !seen[tf.ChunkFieldName] {
			fields = append(fields, tf.ChunkFieldName)
			seen[tf.ChunkFieldName] = true
		}
	}
	return strings.Join(fields, ", ")
}

// filterCondition parses and renders the user filter. Parse failures are
// surfaced as invalid arguments carrying the position.
func (c *Compiler) filterCondition(common *Common) (string, error) {
	if common.Filter == "" {
		return "", nil
	}
	node, err := filter.Parse(common.Filter)
	if err != nil {
		if parseErr, ok := err.(*filter.ParseError); ok {
			return "", errors.New(errors.ErrCodeFilterSyntax, parseErr.Error(), parseErr)
		}
		return "", err
	}
	return renderFilter(node, c.renderer)
}

func (c *Compiler) summary(common *Common) string {
	if common.ExposeFacets {
		return schema.SummaryAllVector
	}
	return schema.SummaryAllNonVector
}

// scoreModifierFeatures builds the mult/add weight tensors for the given
// input names.
func scoreModifierFeatures(modifiers []ScoreModifier, multInput, addInput string, features map[string]any) {
	mult := map[string]float64{}
	add := map[string]float64{}
	for _, m := range modifiers {
		switch m.Type {
		case ModifierAdd:
			add[m.Field] = m.Weight
		default:
			mult[m.Field] = m.Weight
		}
	}
	if len(mult) > 0 {
		features[multInput] = mult
	}
	if len(add) > 0 {
		features[addInput] = add
	}
}

// tensorSearchFields resolves the tensor fields a query searches: the
// searchable attributes when given, every tensor field otherwise.
func (c *Compiler) tensorSearchFields(attrs []string) ([]*index.TensorField, error) {
	tensorFieldMap := c.descriptor.TensorFieldMap()
	if attrs == nil {
		fields := make([]*index.TensorField, 0, len(c.descriptor.TensorFields))
		for i := range c.descriptor.TensorFields {
			fields = append(fields, &c.descriptor.TensorFields[i])
		}
		return fields, nil
	}
	var fields []*index.TensorField
	for _, attr := range attrs {
		tf, ok := tensorFieldMap[attr]
		if !ok {
			return nil, errors.InvalidFieldName(
				"searchable attribute %s is not a tensor field of index %s", attr, c.descriptor.Name)
		}
		fields = append(fields, tf)
	}
	return fields, nil
}

// lexicalSearchFields resolves the lexical storage fields a query searches.
// nil means the whole default fieldset.
func (c *Compiler) lexicalSearchFields(attrs []string) ([]string, error) {
	if attrs == nil {
		return nil, nil
	}
	fieldMap := c.descriptor.FieldMap()
	var fields []string
	for _, attr := range attrs {
		field, ok := fieldMap[attr]
		if !ok || field.LexicalFieldName == "" {
			return nil, errors.InvalidFieldName(
				"searchable attribute %s is not a lexical field of index %s", attr, c.descriptor.Name)
		}
		fields = append(fields, field.LexicalFieldName)
	}
	return fields, nil
}

// nearestNeighborCondition builds the ANN retrieval condition over the
// searched tensor fields.
func (c *Compiler) nearestNeighborCondition(fields []*index.TensorField, targetHits int,
	approximate bool, efSearch *int) string {

	annotations := fmt.Sprintf("targetHits:%d, approximate:%v", targetHits, approximate)
	if efSearch != nil {
		explore := *efSearch - targetHits
		if explore < 0 {
			explore = 0
		}
		annotations += fmt.Sprintf(", hnsw.exploreAdditionalHits:%d", explore)
	}

	var terms []string
	for _, tf := range fields {
		terms = append(terms, fmt.Sprintf("({%s}nearestNeighbor(%s, %s))",
			annotations, tf.EmbeddingsFieldName, schema.QueryInputEmbedding))
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// lexicalCondition builds the keyword retrieval condition. Or-phrases go
// through userInput on the default fieldset; and-phrases use phrase
// grouping. Searchable attributes constrain matching to their lexical
// storage fields.
func (c *Compiler) lexicalCondition(orPhrases, andPhrases []string, searchFields []string,
	params map[string]string) (string, error) {

	if len(orPhrases) == 0 && len(andPhrases) == 0 {
		return "", errors.InvalidArgument("lexical query needs at least one phrase")
	}

	var parts []string

	if len(orPhrases) > 0 {
		if searchFields == nil {
			params["marqo__lexical_or"] = strings.Join(orPhrases, " ")
			parts = append(parts,
				`({defaultIndex: "default", grammar: "any"}userInput(@marqo__lexical_or))`)
		} else {
			var terms []string
			for _, phrase := range orPhrases {
				for _, field := range searchFields {
					terms = append(terms, fmt.Sprintf("%s contains %q", field, phrase))
				}
			}
			parts = append(parts, "("+strings.Join(terms, " OR ")+")")
		}
	}

	for _, phrase := range andPhrases {
		words := strings.Fields(phrase)
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = fmt.Sprintf("%q", w)
		}
		group := fmt.Sprintf("phrase(%s)", strings.Join(quoted, ", "))
		if searchFields == nil {
			parts = append(parts, fmt.Sprintf("default contains %s", group))
		} else {
			var terms []string
			for _, field := range searchFields {
				terms = append(terms, fmt.Sprintf("%s contains %s", field, group))
			}
			parts = append(parts, "("+strings.Join(terms, " OR ")+")")
		}
	}

	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (c *Compiler) compileTensor(q *TensorQuery) (*BackendQuery, error) {
	fields, err := c.tensorSearchFields(q.SearchableAttributes)
	if err != nil {
		return nil, err
	}

	hits := q.Limit + q.Offset
	where := c.nearestNeighborCondition(fields, hits, q.Approximate, q.EfSearch)

	filterCond, err := c.filterCondition(&q.Common)
	if err != nil {
		return nil, err
	}
	if filterCond != "" {
		where = fmt.Sprintf("%s AND (%s)", where, filterCond)
	}

	features := map[string]any{
		schema.QueryInputEmbedding: q.Vector,
	}
	// Per-field toggles: 1 for searched fields, 0 otherwise.
	searched := map[string]bool{}
	for _, tf := range fields {
		searched[tf.Name] = true
	}
	for i := range c.descriptor.TensorFields {
		name := c.descriptor.TensorFields[i].Name
		if searched[name] {
			features[name] = 1
		} else {
			features[name] = 0
		}
	}

	ranking := schema.RankProfileEmbeddingSimilarity
	if len(q.ScoreModifiers) > 0 {
		ranking = schema.RankProfileEmbeddingSimilarityModifiers
		scoreModifierFeatures(q.ScoreModifiers, schema.QueryInputMultWeights, schema.QueryInputAddWeights, features)
	}

	return &BackendQuery{
		YQL:           fmt.Sprintf("select %s from %s where %s", c.selectClause(&q.Common), c.descriptor.SchemaName, where),
		Hits:          hits,
		Offset:        q.Offset,
		Ranking:       ranking,
		ModelRestrict: c.descriptor.SchemaName,
		Summary:       c.summary(&q.Common),
		QueryFeatures: features,
		Params:        map[string]string{},
	}, nil
}

func (c *Compiler) compileLexical(q *LexicalQuery) (*BackendQuery, error) {
	searchFields, err := c.lexicalSearchFields(q.SearchableAttributes)
	if err != nil {
		return nil, err
	}

	params := map[string]string{}
	where, err := c.lexicalCondition(q.OrPhrases, q.AndPhrases, searchFields, params)
	if err != nil {
		return nil, err
	}

	filterCond, err := c.filterCondition(&q.Common)
	if err != nil {
		return nil, err
	}
	if filterCond != "" {
		where = fmt.Sprintf("%s AND (%s)", where, filterCond)
	}

	features := map[string]any{}
	ranking := schema.RankProfileBM25
	if len(q.ScoreModifiers) > 0 {
		ranking = schema.RankProfileBM25Modifiers
		scoreModifierFeatures(q.ScoreModifiers, schema.QueryInputMultWeights, schema.QueryInputAddWeights, features)
	}

	hits := q.Limit + q.Offset
	return &BackendQuery{
		YQL:           fmt.Sprintf("select %s from %s where %s", c.selectClause(&q.Common), c.descriptor.SchemaName, where),
		Hits:          hits,
		Offset:        q.Offset,
		Ranking:       ranking,
		ModelRestrict: c.descriptor.SchemaName,
		Summary:       c.summary(&q.Common),
		QueryFeatures: features,
		Params:        params,
	}, nil
}

func (c *Compiler) compileHybrid(q *HybridQuery) (*BackendQuery, error) {
	params := q.HybridParameters
	if params.RRFK == 0 {
		params.RRFK = DefaultRRFK
	}

	tensorFields, err := c.tensorSearchFields(q.SearchableAttributes)
	if err != nil {
		return nil, err
	}
	lexicalFields, err := c.lexicalSearchFields(q.SearchableAttributes)
	if err != nil && params.RetrievalMethod != RetrievalTensor {
		return nil, err
	}

	requestParams := map[string]string{}
	hits := q.Limit + q.Offset

	tensorCond := c.nearestNeighborCondition(tensorFields, hits, q.Approximate, q.EfSearch)
	lexicalCond := ""
	if len(q.OrPhrases) > 0 || len(q.AndPhrases) > 0 {
		lexicalCond, err = c.lexicalCondition(q.OrPhrases, q.AndPhrases, lexicalFields, requestParams)
		if err != nil {
			return nil, err
		}
	}

	var where string
	switch params.RetrievalMethod {
	case RetrievalLexical:
		where = lexicalCond
	case RetrievalTensor:
		where = tensorCond
	case RetrievalDisjunction, "":
		if lexicalCond == "" {
			where = tensorCond
		} else {
			where = fmt.Sprintf("(%s OR %s)", tensorCond, lexicalCond)
		}
	default:
		return nil, errors.InvalidArgument("unknown retrieval method %s", params.RetrievalMethod)
	}
	if where == "" {
		return nil, errors.InvalidArgument("hybrid query retrieves nothing: no phrases and no vector condition")
	}

	filterCond, err := c.filterCondition(&q.Common)
	if err != nil {
		return nil, err
	}
	if filterCond != "" {
		where = fmt.Sprintf("%s AND (%s)", where, filterCond)
	}

	hasModifiers := len(params.ScoreModifiersLexical) > 0 || len(params.ScoreModifiersTensor) > 0 ||
		len(q.ScoreModifiers) > 0

	ranking, err := hybridRankProfile(params, hasModifiers)
	if err != nil {
		return nil, err
	}

	features := map[string]any{
		schema.QueryInputEmbedding: q.Vector,
		schema.QueryInputAlpha:     params.Alpha,
		schema.QueryInputRRFK:      params.RRFK,
	}

	searched := map[string]bool{}
	for _, tf := range tensorFields {
		searched[tf.Name] = true
	}
	tensorToggles := map[string]float64{}
	for i := range c.descriptor.TensorFields {
		name := c.descriptor.TensorFields[i].Name
		if searched[name] {
			features[name] = 1
			tensorToggles[name] = 1
		} else {
			features[name] = 0
		}
	}
	features[schema.QueryInputFieldsToSearchTensor] = tensorToggles

	lexicalToggles := map[string]float64{}
	if lexicalFields == nil {
		for _, name := range c.descriptor.LexicalFieldNames() {
			lexicalToggles[name] = 1
		}
	} else {
		for _, name := range lexicalFields {
			lexicalToggles[name] = 1
		}
	}
	features[schema.QueryInputFieldsToSearchLexical] = lexicalToggles

	scoreModifierFeatures(q.ScoreModifiers, schema.QueryInputMultWeights, schema.QueryInputAddWeights, features)
	scoreModifierFeatures(params.ScoreModifiersLexical,
		schema.QueryInputMultWeightsLexical, schema.QueryInputAddWeightsLexical, features)
	scoreModifierFeatures(params.ScoreModifiersTensor,
		schema.QueryInputMultWeightsTensor, schema.QueryInputAddWeightsTensor, features)

	return &BackendQuery{
		YQL:           fmt.Sprintf("select %s from %s where %s", c.selectClause(&q.Common), c.descriptor.SchemaName, where),
		Hits:          hits,
		Offset:        q.Offset,
		Ranking:       ranking,
		ModelRestrict: c.descriptor.SchemaName,
		Summary:       c.summary(&q.Common),
		QueryFeatures: features,
		Params:        requestParams,
	}, nil
}

// hybridRankProfile selects the hybrid profile: the fusion profiles when
// both sides retrieve together, the custom searcher profile when one side
// retrieves and the other ranks.
func hybridRankProfile(params HybridParameters, hasModifiers bool) (string, error) {
	if params.RetrievalMethod == RetrievalLexical || params.RetrievalMethod == RetrievalTensor {
		return schema.RankProfileHybridCustomSearcher, nil
	}
	switch params.RankingMethod {
	case RankingRRF, "":
		if hasModifiers {
			return schema.RankProfileHybridRRFModifiers, nil
		}
		return schema.RankProfileHybridRRF, nil
	case RankingNormalizeLinear:
		if hasModifiers {
			return schema.RankProfileHybridNormalizeLinearModifiers, nil
		}
		return schema.RankProfileHybridNormalizeLinear, nil
	case RankingLexical:
		if hasModifiers {
			return schema.RankProfileBM25Modifiers, nil
		}
		return schema.RankProfileBM25, nil
	case RankingTensor:
		if hasModifiers {
			return schema.RankProfileEmbeddingSimilarityModifiers, nil
		}
		return schema.RankProfileEmbeddingSimilarity, nil
	default:
		return "", errors.InvalidArgument("unknown ranking method %s", params.RankingMethod)
	}
}
