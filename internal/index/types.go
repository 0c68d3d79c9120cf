// Package index defines the typed field model and the logical index
// descriptor that every other component consults at runtime.
package index

import (
	"github.com/eltociear/marqo/internal/errors"
)

// IndexType distinguishes how documents are validated and stored.
type IndexType string

const (
	IndexTypeStructured     IndexType = "structured"
	IndexTypeUnstructured   IndexType = "unstructured"
	IndexTypeSemiStructured IndexType = "semi_structured"
)

// FieldType is the closed enumeration of logical field types.
type FieldType string

const (
	FieldTypeText                  FieldType = "text"
	FieldTypeBool                  FieldType = "bool"
	FieldTypeInt                   FieldType = "int"
	FieldTypeLong                  FieldType = "long"
	FieldTypeFloat                 FieldType = "float"
	FieldTypeDouble                FieldType = "double"
	FieldTypeArrayText             FieldType = "array<text>"
	FieldTypeArrayInt              FieldType = "array<int>"
	FieldTypeArrayLong             FieldType = "array<long>"
	FieldTypeArrayFloat            FieldType = "array<float>"
	FieldTypeArrayDouble           FieldType = "array<double>"
	FieldTypeImagePointer          FieldType = "image_pointer"
	FieldTypeMultimodalCombination FieldType = "multimodal_combination"
	FieldTypeVideoPointer          FieldType = "video_pointer"
	FieldTypeAudioPointer          FieldType = "audio_pointer"
	FieldTypeMapNumeric            FieldType = "map<text, float>"
	FieldTypeCustomVector          FieldType = "custom_vector"
)

// FieldFeature is a set-valued field capability.
type FieldFeature string

const (
	FeatureLexicalSearch FieldFeature = "lexical_search"
	FeatureFilter        FieldFeature = "filter"
	FeatureScoreModifier FieldFeature = "score_modifier"
)

// DistanceMetric selects the vector distance used by the backend ANN index.
type DistanceMetric string

const (
	DistanceMetricEuclidean           DistanceMetric = "euclidean"
	DistanceMetricAngular             DistanceMetric = "angular"
	DistanceMetricDotProduct          DistanceMetric = "dotproduct"
	DistanceMetricPrenormalizedAngular DistanceMetric = "prenormalized-angular"
	DistanceMetricGeodegrees          DistanceMetric = "geodegrees"
	DistanceMetricHamming             DistanceMetric = "hamming"
)

// vespaTypeMap maps logical field types to backend schema types.
// MultimodalCombination is absent intentionally: it has no document field of
// its own, only a tensor field.
var vespaTypeMap = map[FieldType]string{
	FieldTypeText:         "string",
	FieldTypeBool:         "bool",
	FieldTypeInt:          "int",
	FieldTypeLong:         "long",
	FieldTypeFloat:        "float",
	FieldTypeDouble:       "double",
	FieldTypeArrayText:    "array<string>",
	FieldTypeArrayInt:     "array<int>",
	FieldTypeArrayLong:    "array<long>",
	FieldTypeArrayFloat:   "array<float>",
	FieldTypeArrayDouble:  "array<double>",
	FieldTypeImagePointer: "string",
	FieldTypeVideoPointer: "string",
	FieldTypeAudioPointer: "string",
	FieldTypeMapNumeric:   "map<string, float>",
	FieldTypeCustomVector: "string",
}

var distanceMetricMap = map[DistanceMetric]string{
	DistanceMetricEuclidean:            "euclidean",
	DistanceMetricAngular:              "angular",
	DistanceMetricDotProduct:           "dotproduct",
	DistanceMetricPrenormalizedAngular: "prenormalized-angular",
	DistanceMetricGeodegrees:           "geodegrees",
	DistanceMetricHamming:              "hamming",
}

// VespaType returns the backend schema type for a logical field type.
// Every member of the enumeration except multimodal_combination has a
// backend type; multimodal_combination and unknown members are an
// internal error.
func VespaType(t FieldType) (string, error) {
	if t == FieldTypeMultimodalCombination {
		return "", errors.Internal("field type %s has no backend document field", t)
	}
	vt, ok := vespaTypeMap[t]
	if !ok {
		return "", errors.Internal("unknown field type: %s", t)
	}
	return vt, nil
}

// VespaDistanceMetric returns the backend name for a distance metric.
func VespaDistanceMetric(m DistanceMetric) (string, error) {
	dm, ok := distanceMetricMap[m]
	if !ok {
		return "", errors.Internal("unknown distance metric: %s", m)
	}
	return dm, nil
}

// numericFieldTypes are the types allowed to carry the ScoreModifier feature.
var numericFieldTypes = map[FieldType]bool{
	FieldTypeInt:        true,
	FieldTypeLong:       true,
	FieldTypeFloat:      true,
	FieldTypeDouble:     true,
	FieldTypeMapNumeric: true,
}

// IsNumeric reports whether a field type may be used as a score modifier.
func IsNumeric(t FieldType) bool {
	return numericFieldTypes[t]
}

// Model identifies the embedding model an index was created with.
type Model struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// HNSWConfig holds the ANN index parameters passed through to the backend.
type HNSWConfig struct {
	M              int `json:"m"`
	EfConstruction int `json:"ef_construction"`
}
