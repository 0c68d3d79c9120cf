// Package document translates logical documents to backend documents and
// back. Three translator variants share one contract: structured indexes
// validate against the type map, unstructured indexes encode types into
// storage-field names, and semi-structured indexes route between the two.
package document

import (
	"fmt"
	"math"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

// Reserved logical document keys.
const (
	DocID         = "_id"
	DocTensors    = "_tensors"
	DocHighlights = "_highlights"

	TensorChunks     = "chunks"
	TensorEmbeddings = "embeddings"
)

// Unstructured aggregate storage fields. One schema serves many document
// shapes by bucketing values into per-type maps keyed by logical field name.
const (
	ShortStringFields = index.ReservedPrefix + "short_string_fields"
	LongStringFields  = index.ReservedPrefix + "long_string_fields"
	StringArrayFields = index.ReservedPrefix + "string_array_fields"
	IntFields         = index.ReservedPrefix + "int_fields"
	FloatFields       = index.ReservedPrefix + "float_fields"
	BoolFields        = index.ReservedPrefix + "bool_fields"
)

// ShortStringThreshold is the maximum length for a string to be filterable
// in an unstructured index.
const ShortStringThreshold = 20

// Document is a logical document: field name → value, plus _id and an
// optional _tensors submapping.
type Document map[string]any

// TensorValue holds the chunked text and per-chunk embeddings of one tensor
// field.
type TensorValue struct {
	Chunks     []string    `json:"chunks"`
	Embeddings [][]float32 `json:"embeddings"`
}

// BackendDocument is the backend-native document form.
type BackendDocument struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

// Translator is the shared translation contract.
type Translator interface {
	// ToBackend produces the backend document for a logical document.
	ToBackend(doc Document) (*BackendDocument, error)
	// ToLogical reconstructs the logical document from a backend document.
	ToLogical(doc *BackendDocument, returnHighlights bool) (Document, error)
}

// ForDescriptor returns the translator for a descriptor's index type.
func ForDescriptor(d *index.IndexDescriptor) (Translator, error) {
	switch d.Type {
	case index.IndexTypeStructured:
		return NewStructured(d), nil
	case index.IndexTypeUnstructured:
		return NewUnstructured(d), nil
	case index.IndexTypeSemiStructured:
		return NewSemiStructured(d), nil
	default:
		return nil, errors.Internal("no translator for index type %s", d.Type)
	}
}

// validateValue checks a logical value against a field type. Float and
// Double accept ints; integral types accept float64 carrying an integral
// value, which is how JSON decoding delivers numbers.
func validateValue(fieldName string, t index.FieldType, v any) error {
	ok := false
	switch t {
	case index.FieldTypeText, index.FieldTypeImagePointer, index.FieldTypeVideoPointer,
		index.FieldTypeAudioPointer, index.FieldTypeCustomVector:
		_, ok = v.(string)
	case index.FieldTypeBool:
		_, ok = v.(bool)
	case index.FieldTypeInt, index.FieldTypeLong:
		ok = isIntegral(v)
	case index.FieldTypeFloat, index.FieldTypeDouble:
		_, ok = toFloat(v)
	case index.FieldTypeArrayText:
		ok = isStringSlice(v)
	case index.FieldTypeArrayInt, index.FieldTypeArrayLong:
		ok = isNumericSlice(v, true)
	case index.FieldTypeArrayFloat, index.FieldTypeArrayDouble:
		ok = isNumericSlice(v, false)
	case index.FieldTypeMapNumeric:
		ok = isNumericMap(v)
	case index.FieldTypeMultimodalCombination:
		_, ok = v.(map[string]any)
		if !ok {
			_, ok = v.(map[string]string)
		}
	default:
		return errors.Internal("unknown field type: %s", t)
	}
	if !ok {
		return errors.InvalidDataType(
			"invalid value %v for field %s with type %s", v, fieldName, t)
	}
	return nil
}

func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isStringSlice(v any) bool {
	switch s := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range s {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isNumericSlice(v any, integral bool) bool {
	items, ok := v.([]any)
	if !ok {
		switch v.(type) {
		case []int, []int64, []float64, []float32:
			return true
		}
		return false
	}
	for _, item := range items {
		if integral && !isIntegral(item) {
			return false
		}
		if _, ok := toFloat(item); !ok {
			return false
		}
	}
	return true
}

func isNumericMap(v any) bool {
	switch m := v.(type) {
	case map[string]float64, map[string]int:
		return true
	case map[string]any:
		for _, item := range m {
			if _, ok := toFloat(item); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// parseTensorValue validates and converts a _tensors entry.
func parseTensorValue(fieldName string, v any) (*TensorValue, error) {
	switch tv := v.(type) {
	case *TensorValue:
		return tv, nil
	case TensorValue:
		return &tv, nil
	case map[string]any:
		if len(tv) != 2 {
			return nil, errors.Internal(
				"invalid tensor field %s: expected keys %s, %s", fieldName, TensorChunks, TensorEmbeddings)
		}
		chunksRaw, okC := tv[TensorChunks]
		embeddingsRaw, okE := tv[TensorEmbeddings]
		if !okC || !okE {
			return nil, errors.Internal(
				"invalid tensor field %s: expected keys %s, %s", fieldName, TensorChunks, TensorEmbeddings)
		}
		chunks, err := toStringSlice(chunksRaw)
		if err != nil {
			return nil, errors.Internal("invalid chunks for tensor field %s: %v", fieldName, err)
		}
		embeddings, err := toVectorSlice(embeddingsRaw)
		if err != nil {
			return nil, errors.Internal("invalid embeddings for tensor field %s: %v", fieldName, err)
		}
		return &TensorValue{Chunks: chunks, Embeddings: embeddings}, nil
	default:
		return nil, errors.Internal("invalid tensor field %s: expected an object, found %T", fieldName, v)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not string", i, item)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a string array, found %T", v)
	}
}

func toVectorSlice(v any) ([][]float32, error) {
	switch s := v.(type) {
	case [][]float32:
		return s, nil
	case []any:
		out := make([][]float32, len(s))
		for i, item := range s {
			vec, err := toVector(item)
			if err != nil {
				return nil, fmt.Errorf("vector %d: %v", i, err)
			}
			out[i] = vec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an array of vectors, found %T", v)
	}
}

func toVector(v any) ([]float32, error) {
	switch vec := v.(type) {
	case []float32:
		return vec, nil
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(vec))
		for i, item := range vec {
			f, ok := toFloat(item)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not numeric", i, item)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a vector, found %T", v)
	}
}
