// Package matcher compiles the symbolic matcher mini-language embedded in
// role declarations (§4.1) into predicates over a node's tag dictionary.
package matcher

import (
	"fmt"

	"condo/internal/value"
)

// Tags is a node's tag dictionary. Order doesn't matter for matching (only
// for display), since (eq ...) only ever compares resolved values.
type Tags map[string]string

// Predicate is a compiled matcher, ready to be evaluated against any
// number of tag dictionaries.
type Predicate func(Tags) bool

// CompileError describes why a matcher expression failed to compile. Per
// §4.1/§7 a CompileError for a role is not fatal to the engine: the role
// that produced it is dropped and the error is logged.
type CompileError struct {
	Msg string
}

func (e *CompileError) Error() string { return "matcher: " + e.Msg }

func errf(format string, args ...interface{}) error {
	return &CompileError{Msg: fmt.Sprintf(format, args...)}
}

// Compile parses v as a matcher expression and returns the predicate it
// denotes, or a CompileError if v is malformed.
func Compile(v value.Value) (Predicate, error) {
	if v.Kind != value.List {
		return nil, errf("matcher must be a list, got kind %d", v.Kind)
	}

	if len(v.Items) == 0 {
		return nil, errf("empty matcher expression")
	}

	head := v.Items[0]
	if head.Kind != value.Symbol {
		return nil, errf("matcher head must be a symbol")
	}

	args := v.Items[1:]

	switch head.Str {
	case "and":
		return compileAnd(args)
	case "or":
		return compileOr(args)
	case "not":
		return compileNot(args)
	case "eq":
		return compileEq(args)
	default:
		return nil, errf("unknown matcher operator %q", head.Str)
	}
}

func compileAnd(args []value.Value) (Predicate, error) {
	if len(args) == 0 {
		return nil, errf("(and) requires at least one operand")
	}

	preds, err := compileAll(args)
	if err != nil {
		return nil, err
	}

	return func(t Tags) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}

		return true
	}, nil
}

func compileOr(args []value.Value) (Predicate, error) {
	if len(args) == 0 {
		return nil, errf("(or) requires at least one operand")
	}

	preds, err := compileAll(args)
	if err != nil {
		return nil, err
	}

	return func(t Tags) bool {
		for _, p := range preds {
			if p(t) {
				return true
			}
		}

		return false
	}, nil
}

func compileNot(args []value.Value) (Predicate, error) {
	if len(args) != 1 {
		return nil, errf("(not E) requires exactly one operand, got %d", len(args))
	}

	p, err := Compile(args[0])
	if err != nil {
		return nil, err
	}

	return func(t Tags) bool { return !p(t) }, nil
}

func compileAll(args []value.Value) ([]Predicate, error) {
	preds := make([]Predicate, len(args))
	for i, a := range args {
		p, err := Compile(a)
		if err != nil {
			return nil, err
		}

		preds[i] = p
	}

	return preds, nil
}

// accessor resolves one (eq ...) operand against a tag dictionary. A
// keyword reads a tag; a string literal is itself; nil is always None.
type accessor func(Tags) value.Value

func compileAccessor(v value.Value) (accessor, error) {
	switch v.Kind {
	case value.Keyword:
		k := v.Str
		return func(t Tags) value.Value {
			s, ok := t[k]
			if !ok {
				return value.NilValue
			}

			return value.Str(s)
		}, nil
	case value.String:
		s := v
		return func(Tags) value.Value { return s }, nil
	case value.Nil:
		return func(Tags) value.Value { return value.NilValue }, nil
	default:
		return nil, errf("invalid eq operand of kind %d", v.Kind)
	}
}

func compileEq(args []value.Value) (Predicate, error) {
	if len(args) == 0 {
		return nil, errf("(eq) requires at least one operand")
	}

	accessors := make([]accessor, len(args))
	for i, a := range args {
		acc, err := compileAccessor(a)
		if err != nil {
			return nil, err
		}

		accessors[i] = acc
	}

	if len(accessors) == 1 {
		return func(Tags) bool { return true }, nil
	}

	return func(t Tags) bool {
		first := accessors[0](t)
		for _, acc := range accessors[1:] {
			if !value.Equal(first, acc(t)) {
				return false
			}
		}

		return true
	}, nil
}
