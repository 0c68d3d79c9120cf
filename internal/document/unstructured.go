package document

import (
	"strconv"
	"strings"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

// Unstructured admits arbitrary top-level fields. Values are bucketed into
// per-type aggregate maps so a single backend schema serves every document
// shape; filter evaluation follows the same convention.
type Unstructured struct {
	descriptor *index.IndexDescriptor
}

// NewUnstructured creates an unstructured translator for the given descriptor.
func NewUnstructured(d *index.IndexDescriptor) *Unstructured {
	return &Unstructured{descriptor: d}
}

// ToBackend buckets every top-level value by its dynamic type.
func (u *Unstructured) ToBackend(doc Document) (*BackendDocument, error) {
	backend := &BackendDocument{Fields: make(map[string]any)}

	shortStrings := map[string]string{}
	longStrings := map[string]string{}
	stringArrays := map[string][]string{}
	ints := map[string]int64{}
	floats := map[string]float64{}
	bools := map[string]bool{}

	if id, ok := doc[DocID]; ok {
		idStr, isString := id.(string)
		if !isString {
			return nil, errors.InvalidDataType("document _id must be a string, found %T", id)
		}
		backend.ID = idStr
		backend.Fields[index.IDField] = idStr
	}

	for name, value := range doc {
		if name == DocID || name == DocTensors || name == DocHighlights {
			continue
		}
		if err := index.ValidateName(name); err != nil {
			return nil, err
		}

		switch typed := value.(type) {
		case string:
			if len(typed) <= ShortStringThreshold {
				shortStrings[name] = typed
			} else {
				longStrings[name] = typed
			}
		case bool:
			bools[name] = typed
		case int:
			ints[name] = int64(typed)
		case int64:
			ints[name] = typed
		case float64:
			if isIntegral(typed) {
				ints[name] = int64(typed)
			} else {
				floats[name] = typed
			}
		case float32:
			floats[name] = float64(typed)
		default:
			strs, err := toStringSlice(value)
			if err != nil {
				return nil, errors.InvalidDataType(
					"field %s has unsupported type %T for an unstructured index", name, value)
			}
			stringArrays[name] = strs
		}
	}

	if len(shortStrings) > 0 {
		backend.Fields[ShortStringFields] = shortStrings
	}
	if len(longStrings) > 0 {
		backend.Fields[LongStringFields] = longStrings
	}
	if len(stringArrays) > 0 {
		backend.Fields[StringArrayFields] = stringArrays
	}
	if len(ints) > 0 {
		backend.Fields[IntFields] = ints
	}
	if len(floats) > 0 {
		backend.Fields[FloatFields] = floats
	}
	if len(bools) > 0 {
		backend.Fields[BoolFields] = bools
	}

	if err := u.writeTensors(doc, backend); err != nil {
		return nil, err
	}
	return backend, nil
}

func (u *Unstructured) writeTensors(doc Document, backend *BackendDocument) error {
	tensorsRaw, ok := doc[DocTensors]
	if !ok {
		return nil
	}
	tensors, ok := tensorsRaw.(map[string]any)
	if !ok {
		return errors.Internal("_tensors must be an object, found %T", tensorsRaw)
	}
	for name, raw := range tensors {
		value, err := parseTensorValue(name, raw)
		if err != nil {
			return err
		}
		embeddings := make(map[string][]float32, len(value.Embeddings))
		for i, vec := range value.Embeddings {
			embeddings[strconv.Itoa(i)] = vec
		}
		backend.Fields[index.ChunksPrefix+name] = value.Chunks
		backend.Fields[index.EmbeddingsPrefix+name] = embeddings
	}
	return nil
}

// ToLogical merges the aggregate maps back into a flat logical document.
func (u *Unstructured) ToLogical(backend *BackendDocument, returnHighlights bool) (Document, error) {
	doc := Document{}
	tensors := map[string]any{}
	chunks := map[string][]string{}
	embeddings := map[string][][]float32{}

	for name, value := range backend.Fields {
		switch {
		case name == index.IDField:
			doc[DocID] = value
		case name == ShortStringFields, name == LongStringFields:
			m, err := toStringMap(value)
			if err != nil {
				return nil, errors.Internal("invalid %s: %v", name, err)
			}
			for k, v := range m {
				doc[k] = v
			}
		case name == StringArrayFields:
			m, err := toStringSliceMap(value)
			if err != nil {
				return nil, errors.Internal("invalid %s: %v", name, err)
			}
			for k, v := range m {
				doc[k] = v
			}
		case name == IntFields:
			m, err := toInt64Map(value)
			if err != nil {
				return nil, errors.Internal("invalid %s: %v", name, err)
			}
			for k, v := range m {
				doc[k] = v
			}
		case name == FloatFields:
			m, err := toFloat64Map(value)
			if err != nil {
				return nil, errors.Internal("invalid %s: %v", name, err)
			}
			for k, v := range m {
				doc[k] = v
			}
		case name == BoolFields:
			m, err := toBoolMap(value)
			if err != nil {
				return nil, errors.Internal("invalid %s: %v", name, err)
			}
			for k, v := range m {
				doc[k] = v
			}
		case strings.HasPrefix(name, index.ChunksPrefix):
			chunkList, err := toStringSlice(value)
			if err != nil {
				return nil, errors.Internal("invalid chunk field %s: %v", name, err)
			}
			chunks[strings.TrimPrefix(name, index.ChunksPrefix)] = chunkList
		case strings.HasPrefix(name, index.EmbeddingsPrefix):
			vectors, err := orderedEmbeddings(value)
			if err != nil {
				return nil, errors.Internal("invalid embeddings field %s: %v", name, err)
			}
			embeddings[strings.TrimPrefix(name, index.EmbeddingsPrefix)] = vectors
		default:
			// Unknown storage fields are dropped.
		}
	}

	for logical, chunkList := range chunks {
		tensors[logical] = map[string]any{
			TensorChunks:     chunkList,
			TensorEmbeddings: embeddings[logical],
		}
	}
	if len(tensors) > 0 {
		doc[DocTensors] = tensors
	}
	if returnHighlights {
		doc[DocHighlights] = []any{}
	}
	return doc, nil
}

func toStringMap(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, raw := range m {
			s, ok := raw.(string)
			if !ok {
				return nil, errors.Internal("value for %s is %T, not string", k, raw)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, errors.Internal("expected a string map, found %T", v)
	}
}

func toStringSliceMap(v any) (map[string][]string, error) {
	switch m := v.(type) {
	case map[string][]string:
		return m, nil
	case map[string]any:
		out := make(map[string][]string, len(m))
		for k, raw := range m {
			s, err := toStringSlice(raw)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, errors.Internal("expected a string-array map, found %T", v)
	}
}

func toInt64Map(v any) (map[string]int64, error) {
	switch m := v.(type) {
	case map[string]int64:
		return m, nil
	case map[string]any:
		out := make(map[string]int64, len(m))
		for k, raw := range m {
			f, ok := toFloat(raw)
			if !ok || !isIntegral(raw) {
				return nil, errors.Internal("value for %s is not integral", k)
			}
			out[k] = int64(f)
		}
		return out, nil
	default:
		return nil, errors.Internal("expected an int map, found %T", v)
	}
}

func toFloat64Map(v any) (map[string]float64, error) {
	switch m := v.(type) {
	case map[string]float64:
		return m, nil
	case map[string]any:
		out := make(map[string]float64, len(m))
		for k, raw := range m {
			f, ok := toFloat(raw)
			if !ok {
				return nil, errors.Internal("value for %s is not numeric", k)
			}
			out[k] = f
		}
		return out, nil
	default:
		return nil, errors.Internal("expected a float map, found %T", v)
	}
}

func toBoolMap(v any) (map[string]bool, error) {
	switch m := v.(type) {
	case map[string]bool:
		return m, nil
	case map[string]any:
		out := make(map[string]bool, len(m))
		for k, raw := range m {
			b, ok := raw.(bool)
			if !ok {
				return nil, errors.Internal("value for %s is %T, not bool", k, raw)
			}
			out[k] = b
		}
		return out, nil
	default:
		return nil, errors.Internal("expected a bool map, found %T", v)
	}
}
