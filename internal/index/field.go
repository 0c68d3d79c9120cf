package index

import (
	"strings"

	"github.com/eltociear/marqo/internal/errors"
)

// ReservedPrefix marks storage-internal field names. User field names must
// not start with it.
const ReservedPrefix = "marqo__"

// Derived storage-field name prefixes.
const (
	LexicalPrefix    = "lexical_"
	FilterPrefix     = "filter_"
	ChunksPrefix     = "chunks_"
	EmbeddingsPrefix = "embeddings_"
)

// IDField is the backend document id field, always retrievable.
const IDField = "id"

// ScoreModifiersField is the per-document score modifier tensor attribute.
const ScoreModifiersField = ReservedPrefix + "score_modifiers"

// Field is a typed logical field descriptor. Derived storage names are
// populated once at descriptor construction and never mutated afterwards.
type Field struct {
	Name     string         `json:"name"`
	Type     FieldType      `json:"type"`
	Features []FieldFeature `json:"features,omitempty"`

	// LexicalFieldName is lexical_<name> when the field has LexicalSearch.
	LexicalFieldName string `json:"lexical_field_name,omitempty"`
	// FilterFieldName is filter_<name> when the field has Filter.
	FilterFieldName string `json:"filter_field_name,omitempty"`
}

// HasFeature reports whether the field carries the given feature.
func (f *Field) HasFeature(feature FieldFeature) bool {
	for _, ft := range f.Features {
		if ft == feature {
			return true
		}
	}
	return false
}

// TensorField pairs a logical name with its two derived storage names.
type TensorField struct {
	Name string `json:"name"`

	// ChunkFieldName is chunks_<name>, an ordered sequence of chunk strings.
	ChunkFieldName string `json:"chunk_field_name,omitempty"`
	// EmbeddingsFieldName is embeddings_<name>, a mapping from chunk index
	// to a float vector of model-dimension length.
	EmbeddingsFieldName string `json:"embeddings_field_name,omitempty"`
}

// ValidateName checks a logical field or index name: non-empty and not
// using the reserved prefix.
func ValidateName(name string) error {
	if name == "" {
		return errors.InvalidFieldName("name must not be empty")
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return errors.InvalidFieldName("name %s uses the reserved prefix %s", name, ReservedPrefix)
	}
	return nil
}

// deriveFieldNames fills in the derived storage names for a field based on
// its features.
func deriveFieldNames(f *Field) {
	f.LexicalFieldName = ""
	f.FilterFieldName = ""
	if f.HasFeature(FeatureLexicalSearch) {
		f.LexicalFieldName = LexicalPrefix + f.Name
	}
	if f.HasFeature(FeatureFilter) {
		f.FilterFieldName = FilterPrefix + f.Name
	}
}

// deriveTensorFieldNames fills in the derived storage names for a tensor field.
func deriveTensorFieldNames(t *TensorField) {
	t.ChunkFieldName = ChunksPrefix + t.Name
	t.EmbeddingsFieldName = EmbeddingsPrefix + t.Name
}
