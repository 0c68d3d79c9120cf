package document

import (
	"strconv"
	"strings"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/index"
)

// Structured validates every field against the index type map and routes
// values to the derived storage fields.
type Structured struct {
	descriptor *index.IndexDescriptor
}

// NewStructured creates a structured translator for the given descriptor.
func NewStructured(d *index.IndexDescriptor) *Structured {
	return &Structured{descriptor: d}
}

// ToBackend validates and routes a logical document. Unknown fields fail
// with an invalid-field-name error, type mismatches with an
// invalid-data-type error.
func (s *Structured) ToBackend(doc Document) (*BackendDocument, error) {
	backend := &BackendDocument{Fields: make(map[string]any, len(doc))}
	fieldMap := s.descriptor.FieldMap()

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

		field, ok := fieldMap[name]
		if !ok {
			return nil, errors.InvalidFieldName(
				"invalid field name %s for index %s", name, s.descriptor.Name)
		}
		if err := validateValue(name, field.Type, value); err != nil {
			return nil, err
		}

		if field.LexicalFieldName != "" {
			backend.Fields[field.LexicalFieldName] = value
		}
		if field.FilterFieldName != "" {
			backend.Fields[field.FilterFieldName] = value
		}
		if field.LexicalFieldName == "" && field.FilterFieldName == "" {
			backend.Fields[field.Name] = value
		}
	}

	if err := s.writeTensors(doc, backend); err != nil {
		return nil, err
	}
	if err := s.writeScoreModifiers(doc, backend); err != nil {
		return nil, err
	}

	return backend, nil
}

func (s *Structured) writeTensors(doc Document, backend *BackendDocument) error {
	tensorsRaw, ok := doc[DocTensors]
	if !ok {
		return nil
	}
	tensors, ok := tensorsRaw.(map[string]any)
	if !ok {
		if typed, isTyped := tensorsRaw.(map[string]*TensorValue); isTyped {
			tensors = make(map[string]any, len(typed))
			for k, v := range typed {
				tensors[k] = v
			}
		} else {
			return errors.Internal("_tensors must be an object, found %T", tensorsRaw)
		}
	}

	tensorFieldMap := s.descriptor.TensorFieldMap()
	for name, raw := range tensors {
		tensorField, ok := tensorFieldMap[name]
		if !ok {
			return errors.InvalidFieldName(
				"invalid tensor field name %s for index %s", name, s.descriptor.Name)
		}
		value, err := parseTensorValue(name, raw)
		if err != nil {
			return err
		}

		embeddings := make(map[string][]float32, len(value.Embeddings))
		for i, vec := range value.Embeddings {
			embeddings[strconv.Itoa(i)] = vec
		}
		backend.Fields[tensorField.ChunkFieldName] = value.Chunks
		backend.Fields[tensorField.EmbeddingsFieldName] = embeddings
	}
	return nil
}

// writeScoreModifiers materializes the score-modifier tensor from the
// document's numeric modifier fields.
func (s *Structured) writeScoreModifiers(doc Document, backend *BackendDocument) error {
	modifierFields := s.descriptor.ScoreModifierFields()
	if len(modifierFields) == 0 {
		return nil
	}
	cells := make(map[string]float64)
	for _, name := range modifierFields {
		value, ok := doc[name]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case map[string]any:
			for key, item := range typed {
				f, isNum := toFloat(item)
				if !isNum {
					return errors.InvalidDataType("score modifier %s.%s is not numeric", name, key)
				}
				cells[name+"."+key] = f
			}
		default:
			f, isNum := toFloat(value)
			if !isNum {
				return errors.InvalidDataType("score modifier %s is not numeric", name)
			}
			cells[name] = f
		}
	}
	if len(cells) > 0 {
		backend.Fields[index.ScoreModifiersField] = cells
	}
	return nil
}

// ToLogical reconstructs the logical document, mapping derived storage
// fields back to their logical names and rebuilding the _tensors submap.
func (s *Structured) ToLogical(backend *BackendDocument, returnHighlights bool) (Document, error) {
	doc := Document{}
	tensors := map[string]any{}
	chunks := map[string][]string{}
	embeddings := map[string][][]float32{}

	fieldMap := s.descriptor.FieldMap()
	tensorFieldMap := s.descriptor.TensorFieldMap()

	for name, value := range backend.Fields {
		switch {
		case name == index.IDField:
			doc[DocID] = value
		case name == index.ScoreModifiersField:
			// Derived from modifier fields on the way in; nothing to restore.
		case fieldMap[name] != nil && fieldMap[name].LexicalFieldName == "" && fieldMap[name].FilterFieldName == "":
			doc[name] = value
		case strings.HasPrefix(name, index.ChunksPrefix):
			logical := strings.TrimPrefix(name, index.ChunksPrefix)
			if _, ok := tensorFieldMap[logical]; !ok {
				return nil, errors.Internal("unexpected chunk field %s in backend document", name)
			}
			chunkList, err := toStringSlice(value)
			if err != nil {
				return nil, errors.Internal("invalid chunk field %s: %v", name, err)
			}
			chunks[logical] = chunkList
		case strings.HasPrefix(name, index.EmbeddingsPrefix):
			logical := strings.TrimPrefix(name, index.EmbeddingsPrefix)
			if _, ok := tensorFieldMap[logical]; !ok {
				return nil, errors.Internal("unexpected embeddings field %s in backend document", name)
			}
			vectors, err := orderedEmbeddings(value)
			if err != nil {
				return nil, errors.Internal("invalid embeddings field %s: %v", name, err)
			}
			embeddings[logical] = vectors
		case strings.HasPrefix(name, index.LexicalPrefix):
			doc[strings.TrimPrefix(name, index.LexicalPrefix)] = value
		case strings.HasPrefix(name, index.FilterPrefix):
			doc[strings.TrimPrefix(name, index.FilterPrefix)] = value
		default:
			// Unknown summary fields (e.g. relevance metadata) are dropped.
		}
	}

	for logical, chunkList := range chunks {
		tensors[logical] = map[string]any{
			TensorChunks:     chunkList,
			TensorEmbeddings: embeddings[logical],
		}
	}
	for logical, vectors := range embeddings {
		if _, ok := tensors[logical]; !ok {
			tensors[logical] = map[string]any{
				TensorChunks:     []string(nil),
				TensorEmbeddings: vectors,
			}
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

// orderedEmbeddings converts the index-keyed embeddings mapping back to an
// ordered vector slice.
func orderedEmbeddings(v any) ([][]float32, error) {
	switch m := v.(type) {
	case map[string][]float32:
		out := make([][]float32, len(m))
		for key, vec := range m {
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(m) {
				return nil, errors.Internal("embeddings key %q is not a chunk index", key)
			}
			out[i] = vec
		}
		return out, nil
	case map[string]any:
		out := make([][]float32, len(m))
		for key, raw := range m {
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(m) {
				return nil, errors.Internal("embeddings key %q is not a chunk index", key)
			}
			vec, err := toVector(raw)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	default:
		return nil, errors.Internal("expected an embeddings mapping, found %T", v)
	}
}
