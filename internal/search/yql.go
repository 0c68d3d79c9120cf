package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eltociear/marqo/internal/errors"
	"github.com/eltociear/marqo/internal/filter"
	"github.com/eltociear/marqo/internal/index"
)

// CombineFilters wraps a searchable-attributes restriction around a user
// filter: (attrs) AND (user). When either side is empty the result is the
// other alone.
func CombineFilters(attrsFilter, userFilter string) string {
	if attrsFilter != "" && userFilter != "" {
		return fmt.Sprintf("(%s) AND (%s)", attrsFilter, userFilter)
	}
	return attrsFilter + userFilter
}

// luceneSpecialChars are escaped when the compiler builds filter fragments
// on the user's behalf. User-written filters are never re-escaped; users
// escape special characters in field names themselves.
const luceneSpecialChars = `+-&|!(){}[]^"~*?:\/ `

// SanitizeFilterField escapes special characters in a system-built filter
// field reference.
func SanitizeFilterField(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if strings.ContainsRune(luceneSpecialChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// filterRenderer renders leaf clauses of a parsed filter tree into YQL
// conditions. The structured and unstructured translators use different
// storage conventions, so each index type supplies its own renderer.
type filterRenderer interface {
	renderTerm(t *filter.Term) (string, error)
	renderRange(r *filter.Range) (string, error)
	renderExists(e *filter.Exists) (string, error)
}

// renderFilter walks the tree, delegating leaves to the renderer.
func renderFilter(node filter.Node, r filterRenderer) (string, error) {
	switch n := node.(type) {
	case *filter.And:
		left, err := renderFilter(n.Left, r)
		if err != nil {
			return "", err
		}
		right, err := renderFilter(n.Right, r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s AND %s)", left, right), nil
	case *filter.Or:
		left, err := renderFilter(n.Left, r)
		if err != nil {
			return "", err
		}
		right, err := renderFilter(n.Right, r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s OR %s)", left, right), nil
	case *filter.Not:
		inner, err := renderFilter(n.Inner, r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("!(%s)", inner), nil
	case *filter.Term:
		return r.renderTerm(n)
	case *filter.Range:
		return r.renderRange(n)
	case *filter.Exists:
		return r.renderExists(n)
	default:
		return "", errors.Internal("unknown filter node type %T", node)
	}
}

// structuredRenderer resolves logical field names through the descriptor's
// filter storage fields.
type structuredRenderer struct {
	descriptor *index.IndexDescriptor
}

func (s *structuredRenderer) storageField(name string) (*index.Field, error) {
	field, ok := s.descriptor.FieldMap()[name]
	if !ok {
		return nil, errors.InvalidFieldName(
			"filter references unknown field %s of index %s", name, s.descriptor.Name)
	}
	if field.FilterFieldName == "" {
		return nil, errors.InvalidFieldName(
			"field %s of index %s does not have the filter feature", name, s.descriptor.Name)
	}
	return field, nil
}

func (s *structuredRenderer) renderTerm(t *filter.Term) (string, error) {
	field, err := s.storageField(t.Field)
	if err != nil {
		return "", err
	}
	switch field.Type {
	case index.FieldTypeBool:
		if strings.EqualFold(t.Value, "true") {
			return fmt.Sprintf("%s = true", field.FilterFieldName), nil
		}
		return fmt.Sprintf("%s = false", field.FilterFieldName), nil
	case index.FieldTypeInt, index.FieldTypeLong, index.FieldTypeFloat, index.FieldTypeDouble:
		if _, err := strconv.ParseFloat(t.Value, 64); err != nil {
			return "", errors.InvalidDataType(
				"filter value %q is not numeric for field %s", t.Value, t.Field)
		}
		return fmt.Sprintf("%s = %s", field.FilterFieldName, t.Value), nil
	default:
		return fmt.Sprintf("%s contains %q", field.FilterFieldName, t.Value), nil
	}
}

func (s *structuredRenderer) renderRange(r *filter.Range) (string, error) {
	field, err := s.storageField(r.Field)
	if err != nil {
		return "", err
	}
	return renderRangeOn(field.FilterFieldName, r), nil
}

func (s *structuredRenderer) renderExists(e *filter.Exists) (string, error) {
	field, err := s.storageField(e.Field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s matches %q", field.FilterFieldName, "."), nil
}

// renderRangeOn renders each bound as a comparison (>= or <= when
// inclusive, > or < when exclusive), joined with AND; a range with no
// bounds matches any value.
func renderRangeOn(storage string, r *filter.Range) string {
	var parts []string
	if !r.Lo.Unbounded {
		op := ">="
		if r.Lo.Exclusive {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s %v", storage, op, r.Lo.Value))
	}
	if !r.Hi.Unbounded {
		op := "<="
		if r.Hi.Exclusive {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s %v", storage, op, r.Hi.Value))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s matches %q", storage, ".")
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// unstructuredRenderer resolves clauses through the per-type aggregate
// maps; a value may live in any bucket matching its literal form.
type unstructuredRenderer struct{}

const (
	uShortStrings = index.ReservedPrefix + "short_string_fields"
	uStringArrays = index.ReservedPrefix + "string_array_fields"
	uInts         = index.ReservedPrefix + "int_fields"
	uFloats       = index.ReservedPrefix + "float_fields"
	uBools        = index.ReservedPrefix + "bool_fields"
)

func (u *unstructuredRenderer) renderTerm(t *filter.Term) (string, error) {
	var alternatives []string

	if strings.EqualFold(t.Value, "true") || strings.EqualFold(t.Value, "false") {
		alternatives = append(alternatives,
			fmt.Sprintf("%s{%q} = %s", uBools, t.Field, strings.ToLower(t.Value)))
	}
	if _, err := strconv.ParseFloat(t.Value, 64); err == nil {
		alternatives = append(alternatives,
			fmt.Sprintf("%s{%q} = %s", uInts, t.Field, t.Value),
			fmt.Sprintf("%s{%q} = %s", uFloats, t.Field, t.Value))
	}
	alternatives = append(alternatives,
		fmt.Sprintf("%s{%q} contains %q", uShortStrings, t.Field, t.Value),
		fmt.Sprintf("%s{%q} contains %q", uStringArrays, t.Field, t.Value))

	return "(" + strings.Join(alternatives, " OR ") + ")", nil
}

func (u *unstructuredRenderer) renderRange(r *filter.Range) (string, error) {
	intRange := renderRangeOn(fmt.Sprintf("%s{%q}", uInts, r.Field), r)
	floatRange := renderRangeOn(fmt.Sprintf("%s{%q}", uFloats, r.Field), r)
	return fmt.Sprintf("(%s OR %s)", intRange, floatRange), nil
}

func (u *unstructuredRenderer) renderExists(e *filter.Exists) (string, error) {
	buckets := []string{uShortStrings, uInts, uFloats, uBools}
	var alternatives []string
	for _, bucket := range buckets {
		alternatives = append(alternatives,
			fmt.Sprintf("%s{%q} matches %q", bucket, e.Field, "."))
	}
	return "(" + strings.Join(alternatives, " OR ") + ")", nil
}
