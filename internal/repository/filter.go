package repository

import (
	"strings"

	"bookshelf-api/internal/model"
)

// Op is a filter comparison.
type Op int

const (
	// OpEq matches field == Value.
	OpEq Op = iota
	// OpBetween matches Value < field < Max (both bounds exclusive).
	OpBetween
	// OpContains matches a case-insensitive substring of a string field.
	OpContains
)

// Condition is one predicate on a document field.
type Condition struct {
	Field string
	Op    Op
	Value any
	Max   any
}

// Filter is a conjunction of conditions. A nil Filter matches everything.
type Filter []Condition

// Eq builds an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Between builds an exclusive numeric range condition.
func Between(field string, min, max any) Condition {
	return Condition{Field: field, Op: OpBetween, Value: min, Max: max}
}

// Contains builds a case-insensitive substring condition. The term is
// matched literally, never as a pattern.
func Contains(field, term string) Condition {
	return Condition{Field: field, Op: OpContains, Value: term}
}

// Match reports whether doc satisfies every condition.
func (f Filter) Match(doc model.Document) bool {
	for _, c := range f {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

// Match reports whether doc satisfies c.
func (c Condition) Match(doc model.Document) bool {
	value, ok := doc[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return equalValues(value, c.Value)
	case OpBetween:
		v, ok := doc.Number(c.Field)
		if !ok {
			return false
		}
		lo, okLo := model.ToFloat(c.Value)
		hi, okHi := model.ToFloat(c.Max)
		return okLo && okHi && v > lo && v < hi
	case OpContains:
		s, ok := value.(string)
		term, okTerm := c.Value.(string)
		return ok && okTerm && strings.Contains(strings.ToLower(s), strings.ToLower(term))
	}
	return false
}

func equalValues(a, b any) bool {
	if fa, ok := model.ToFloat(a); ok {
		if _, isString := a.(string); !isString {
			fb, ok := model.ToFloat(b)
			_, bIsString := b.(string)
			return ok && !bIsString && fa == fb
		}
	}
	return a == b
}
