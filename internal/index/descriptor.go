package index

import (
	"fmt"
	"regexp"

	"github.com/eltociear/marqo/internal/errors"
)

var schemaNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// IndexDescriptor is the logical index: fields, tensor fields, model, and
// ANN configuration. Instances are immutable after construction; derived
// storage names and lookup maps are populated exactly once.
type IndexDescriptor struct {
	Name           string         `json:"name"`
	Version        int            `json:"version"`
	Type           IndexType      `json:"type"`
	Model          Model          `json:"model"`
	DistanceMetric DistanceMetric `json:"distance_metric"`
	HNSWConfig     HNSWConfig     `json:"hnsw_config"`
	Fields         []Field        `json:"fields"`
	TensorFields   []TensorField  `json:"tensor_fields"`
	SchemaName     string         `json:"schema_name"`

	fieldMap       map[string]*Field
	tensorFieldMap map[string]*TensorField
}

// New constructs a validated IndexDescriptor with derived storage names and
// cached lookup maps. Version 0 means "not yet saved"; the settings store
// assigns version 1 on first save.
func New(name string, typ IndexType, model Model, metric DistanceMetric,
	hnsw HNSWConfig, fields []Field, tensorFields []TensorField) (*IndexDescriptor, error) {

	d := &IndexDescriptor{
		Name:           name,
		Type:           typ,
		Model:          model,
		DistanceMetric: metric,
		HNSWConfig:     hnsw,
		Fields:         fields,
		TensorFields:   tensorFields,
	}
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	return d, nil
}

// Initialize validates the descriptor, computes derived storage names, the
// schema name, and the lookup maps. It must be called exactly once, either
// by New or after JSON unmarshalling, before the descriptor is published.
func (d *IndexDescriptor) Initialize() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	switch d.Type {
	case IndexTypeStructured, IndexTypeUnstructured, IndexTypeSemiStructured:
	default:
		return errors.Internal("unknown index type: %s", d.Type)
	}
	if d.Model.Dimension <= 0 {
		return errors.InvalidArgument("model %s has non-positive dimension %d", d.Model.Name, d.Model.Dimension)
	}
	if _, ok := distanceMetricMap[d.DistanceMetric]; !ok {
		return errors.Internal("unknown distance metric: %s", d.DistanceMetric)
	}

	d.fieldMap = make(map[string]*Field, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		if err := ValidateName(f.Name); err != nil {
			return err
		}
		if _, dup := d.fieldMap[f.Name]; dup {
			return errors.InvalidFieldName("duplicate field name %s in index %s", f.Name, d.Name)
		}
		if f.HasFeature(FeatureScoreModifier) && !IsNumeric(f.Type) {
			return errors.InvalidArgument(
				"field %s has the score modifier feature but non-numeric type %s", f.Name, f.Type)
		}
		deriveFieldNames(f)
		d.fieldMap[f.Name] = f
	}

	d.tensorFieldMap = make(map[string]*TensorField, len(d.TensorFields))
	for i := range d.TensorFields {
		t := &d.TensorFields[i]
		if _, ok := d.fieldMap[t.Name]; !ok {
			return errors.InvalidFieldName(
				"tensor field %s does not name a field of index %s", t.Name, d.Name)
		}
		if _, dup := d.tensorFieldMap[t.Name]; dup {
			return errors.InvalidFieldName("duplicate tensor field name %s in index %s", t.Name, d.Name)
		}
		deriveTensorFieldNames(t)
		d.tensorFieldMap[t.Name] = t
	}

	d.SchemaName = deriveSchemaName(d.Name, d.Version)
	return nil
}

// deriveSchemaName produces a stable backend schema identifier from the
// index name and version.
func deriveSchemaName(name string, version int) string {
	if version < 1 {
		version = 1
	}
	return fmt.Sprintf("%s_%d", schemaNameSanitizer.ReplaceAllString(name, "_"), version)
}

// FieldMap returns the cached name → field lookup.
func (d *IndexDescriptor) FieldMap() map[string]*Field {
	return d.fieldMap
}

// TensorFieldMap returns the cached name → tensor-field lookup.
func (d *IndexDescriptor) TensorFieldMap() map[string]*TensorField {
	return d.tensorFieldMap
}

// LexicalFieldNames returns the derived lexical storage-field names in
// descriptor order.
func (d *IndexDescriptor) LexicalFieldNames() []string {
	var names []string
	for i := range d.Fields {
		if d.Fields[i].LexicalFieldName != "" {
			names = append(names, d.Fields[i].LexicalFieldName)
		}
	}
	return names
}

// ScoreModifierFields returns the logical names of score-modifier fields in
// descriptor order.
func (d *IndexDescriptor) ScoreModifierFields() []string {
	var names []string
	for i := range d.Fields {
		if d.Fields[i].HasFeature(FeatureScoreModifier) {
			names = append(names, d.Fields[i].Name)
		}
	}
	return names
}

// WithVersion returns a deep copy of the descriptor carrying the given
// version, re-initialized so the schema name and caches are consistent.
func (d *IndexDescriptor) WithVersion(version int) (*IndexDescriptor, error) {
	clone := &IndexDescriptor{
		Name:           d.Name,
		Version:        version,
		Type:           d.Type,
		Model:          d.Model,
		DistanceMetric: d.DistanceMetric,
		HNSWConfig:     d.HNSWConfig,
		Fields:         append([]Field(nil), d.Fields...),
		TensorFields:   append([]TensorField(nil), d.TensorFields...),
	}
	if err := clone.Initialize(); err != nil {
		return nil, err
	}
	return clone, nil
}
