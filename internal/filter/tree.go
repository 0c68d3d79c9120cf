// Package filter parses user filter strings in a Lucene-flavored grammar
// into an evaluable tree consumed by the query compiler.
package filter

import (
	"fmt"
	"strings"
)

// Node is a node of the parsed filter tree.
type Node interface {
	// String renders the node back to canonical filter syntax.
	String() string
	// Evaluate walks the tree against a field lookup. Missing fields make
	// equality and range clauses false.
	Evaluate(lookup func(field string) (any, bool)) bool
}

// Term is a field:value equality clause.
type Term struct {
	Field string
	Value string
}

func (t *Term) String() string {
	return fmt.Sprintf("%s:%s", t.Field, quoteIfNeeded(t.Value))
}

func (t *Term) Evaluate(lookup func(string) (any, bool)) bool {
	v, ok := lookup(t.Field)
	if !ok {
		return false
	}
	switch val := v.(type) {
	case string:
		return val == t.Value
	case bool:
		return fmt.Sprintf("%v", val) == strings.ToLower(t.Value)
	case []string:
		for _, item := range val {
			if item == t.Value {
				return true
			}
		}
		return false
	default:
		return fmt.Sprintf("%v", val) == t.Value
	}
}

// Bound is one end of a range clause.
type Bound struct {
	// Unbounded is true for the * wildcard.
	Unbounded bool
	// Value is the numeric bound when Unbounded is false.
	Value float64
	// Exclusive is true for { / } brackets.
	Exclusive bool
}

// Range is a field:[lo TO hi] clause. Square brackets are inclusive, curly
// brackets exclusive; either side may be the * wildcard.
type Range struct {
	Field string
	Lo    Bound
	Hi    Bound
}

func (r *Range) String() string {
	open, close := "[", "]"
	if r.Lo.Exclusive {
		open = "{"
	}
	if r.Hi.Exclusive {
		close = "}"
	}
	return fmt.Sprintf("%s:%s%s TO %s%s", r.Field, open, boundString(r.Lo), boundString(r.Hi), close)
}

func boundString(b Bound) string {
	if b.Unbounded {
		return "*"
	}
	return trimFloat(b.Value)
}

func (r *Range) Evaluate(lookup func(string) (any, bool)) bool {
	v, ok := lookup(r.Field)
	if !ok {
		return false
	}
	num, ok := asFloat(v)
	if !ok {
		return false
	}
	if !r.Lo.Unbounded {
		if r.Lo.Exclusive && num <= r.Lo.Value {
			return false
		}
		if !r.Lo.Exclusive && num < r.Lo.Value {
			return false
		}
	}
	if !r.Hi.Unbounded {
		if r.Hi.Exclusive && num >= r.Hi.Value {
			return false
		}
		if !r.Hi.Exclusive && num > r.Hi.Value {
			return false
		}
	}
	return true
}

// Exists is a field:* existence clause.
type Exists struct {
	Field string
}

func (e *Exists) String() string {
	return fmt.Sprintf("%s:*", e.Field)
}

func (e *Exists) Evaluate(lookup func(string) (any, bool)) bool {
	_, ok := lookup(e.Field)
	return ok
}

// And is a conjunction of two subtrees.
type And struct {
	Left, Right Node
}

func (a *And) String() string {
	return fmt.Sprintf("(%s AND %s)", a.Left.String(), a.Right.String())
}

func (a *And) Evaluate(lookup func(string) (any, bool)) bool {
	return a.Left.Evaluate(lookup) && a.Right.Evaluate(lookup)
}

// Or is a disjunction of two subtrees.
type Or struct {
	Left, Right Node
}

func (o *Or) String() string {
	return fmt.Sprintf("(%s OR %s)", o.Left.String(), o.Right.String())
}

func (o *Or) Evaluate(lookup func(string) (any, bool)) bool {
	return o.Left.Evaluate(lookup) || o.Right.Evaluate(lookup)
}

// Not negates a subtree.
type Not struct {
	Inner Node
}

func (n *Not) String() string {
	return fmt.Sprintf("NOT %s", n.Inner.String())
}

func (n *Not) Evaluate(lookup func(string) (any, bool)) bool {
	return !n.Inner.Evaluate(lookup)
}

func asFloat(v any) (float64, bool) {
	switch num := v.(type) {
	case int:
		return float64(num), true
	case int32:
		return float64(num), true
	case int64:
		return float64(num), true
	case float32:
		return float64(num), true
	case float64:
		return num, true
	default:
		return 0, false
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%v", f)
	return s
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t()[]{}:\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
