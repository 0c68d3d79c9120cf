package document

import (
	"github.com/eltociear/marqo/internal/index"
)

// SemiStructured is the union of the other two variants: declared fields
// behave structured, undeclared fields behave unstructured. It holds both
// strategies and routes per operation.
type SemiStructured struct {
	descriptor   *index.IndexDescriptor
	structured   *Structured
	unstructured *Unstructured
}

// NewSemiStructured creates a semi-structured translator for the given
// descriptor.
func NewSemiStructured(d *index.IndexDescriptor) *SemiStructured {
	return &SemiStructured{
		descriptor:   d,
		structured:   NewStructured(d),
		unstructured: NewUnstructured(d),
	}
}

// ToBackend splits the document: declared fields go through the structured
// strategy, undeclared fields through the unstructured one, and the results
// merge into a single backend document.
func (s *SemiStructured) ToBackend(doc Document) (*BackendDocument, error) {
	declared := Document{}
	undeclared := Document{}
	fieldMap := s.descriptor.FieldMap()

	for name, value := range doc {
		switch {
		case name == DocID || name == DocTensors || name == DocHighlights:
			declared[name] = value
		case fieldMap[name] != nil:
			declared[name] = value
		default:
			undeclared[name] = value
		}
	}

	backend, err := s.structured.ToBackend(declared)
	if err != nil {
		return nil, err
	}
	if len(undeclared) > 0 {
		extra, err := s.unstructured.ToBackend(undeclared)
		if err != nil {
			return nil, err
		}
		for name, value := range extra.Fields {
			backend.Fields[name] = value
		}
	}
	return backend, nil
}

// ToLogical merges the structured and unstructured views of the backend
// document.
func (s *SemiStructured) ToLogical(backend *BackendDocument, returnHighlights bool) (Document, error) {
	doc, err := s.structured.ToLogical(backend, returnHighlights)
	if err != nil {
		return nil, err
	}
	flat, err := s.unstructured.ToLogical(backend, false)
	if err != nil {
		return nil, err
	}
	for name, value := range flat {
		if name == DocTensors {
			continue // tensor fields are declared, already restored
		}
		if _, exists := doc[name]; !exists {
			doc[name] = value
		}
	}
	return doc, nil
}
