package matcher

import (
	"testing"

	"condo/internal/value"
)

func compileString(t *testing.T, src string) Predicate {
	t.Helper()
	v, err := value.Read(src)
	if err != nil {
		t.Fatalf("value.Read(%q): %v", src, err)
	}

	p, err := Compile(v)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}

	return p
}

func TestEmptyAndIsError(t *testing.T) {
	v, err := value.Read(`(and)`)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Compile(v); err == nil {
		t.Error("(and) should be a compile error")
	}
}

func TestSingleAndIsIdentity(t *testing.T) {
	p := compileString(t, `(and (eq :k "a"))`)
	if !p(Tags{"k": "a"}) {
		t.Error("(and E) should behave like E")
	}
}

func TestEqTwoKeys(t *testing.T) {
	p := compileString(t, `(eq :k1 :k2)`)

	if !p(Tags{"k1": "a", "k2": "a"}) {
		t.Error("expected match on equal tags")
	}

	if p(Tags{"k1": "a", "k2": "b"}) {
		t.Error("expected no match on differing tags")
	}

	if p(Tags{"k1": "a"}) {
		t.Error("expected no match when one side is missing")
	}
}

func TestNotEq(t *testing.T) {
	p := compileString(t, `(not (eq :role "web"))`)
	if !p(Tags{"role": "db"}) {
		t.Error("expected (not (eq :role \"web\")) to match role=db")
	}

	if p(Tags{"role": "web"}) {
		t.Error("expected (not (eq :role \"web\")) to reject role=web")
	}
}

func TestOr(t *testing.T) {
	p := compileString(t, `(or (eq :dc "eu") (eq :dc "us"))`)
	if !p(Tags{"dc": "us"}) {
		t.Error("expected match on dc=us")
	}

	if p(Tags{"dc": "ap"}) {
		t.Error("expected no match on dc=ap")
	}
}

func TestNotRequiresSingleOperand(t *testing.T) {
	v, err := value.Read(`(not (eq :a "x") (eq :b "y"))`)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Compile(v); err == nil {
		t.Error("(not E1 E2) should be a compile error")
	}
}

func TestUnknownOperator(t *testing.T) {
	v, err := value.Read(`(xor (eq :a "x"))`)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Compile(v); err == nil {
		t.Error("unknown operator should be a compile error")
	}
}

func TestNonListIsError(t *testing.T) {
	v, err := value.Read(`:role`)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Compile(v); err == nil {
		t.Error("a bare keyword is not a valid matcher expression")
	}
}
