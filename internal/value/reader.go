package value

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseError reports a malformed symbolic expression. Every caller in this
// repository treats a ParseError as non-fatal and logs it (§7): a role
// event becomes a no-op, and a watcher value is stored as nil.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("value: parse error at %d: %s", e.Pos, e.Msg)
}

// Read parses a single symbolic expression from s. Trailing whitespace
// after the expression is ignored; trailing non-whitespace is an error.
func Read(s string) (Value, error) {
	r := &reader{src: s}
	r.skipSpace()
	if r.eof() {
		return NilValue, &ParseError{Pos: 0, Msg: "empty input"}
	}

	v, err := r.readValue()
	if err != nil {
		return NilValue, err
	}

	r.skipSpace()
	if !r.eof() {
		return NilValue, &ParseError{Pos: r.pos, Msg: "trailing input"}
	}

	return v, nil
}

type reader struct {
	src string
	pos int
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) peek() byte { return r.src[r.pos] }

func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.src[r.pos]
		switch {
		case c == ',' || unicode.IsSpace(rune(c)):
			r.pos++
		case c == ';':
			for !r.eof() && r.src[r.pos] != '\n' {
				r.pos++
			}
		default:
			return
		}
	}
}

func (r *reader) readValue() (Value, error) {
	r.skipSpace()
	if r.eof() {
		return NilValue, &ParseError{Pos: r.pos, Msg: "unexpected end of input"}
	}

	switch c := r.peek(); {
	case c == '(':
		return r.readSeq('(', ')', List)
	case c == '[':
		return r.readSeq('[', ']', Vector)
	case c == '{':
		return r.readMap()
	case c == '#':
		return r.readDispatch()
	case c == ':':
		return r.readKeyword()
	case c == '"':
		return r.readString()
	default:
		return r.readAtom()
	}
}

func (r *reader) readSeq(open, close byte, kind Kind) (Value, error) {
	start := r.pos
	r.pos++ // consume open
	var items []Value
	for {
		r.skipSpace()
		if r.eof() {
			return NilValue, &ParseError{Pos: start, Msg: "unterminated sequence"}
		}

		if r.peek() == close {
			r.pos++
			return Value{Kind: kind, Items: items}, nil
		}

		v, err := r.readValue()
		if err != nil {
			return NilValue, err
		}

		items = append(items, v)
	}
}

func (r *reader) readMap() (Value, error) {
	start := r.pos
	r.pos++ // consume '{'
	var pairs []Pair
	for {
		r.skipSpace()
		if r.eof() {
			return NilValue, &ParseError{Pos: start, Msg: "unterminated map"}
		}

		if r.peek() == '}' {
			r.pos++
			return Value{Kind: Map, Pairs: pairs}, nil
		}

		k, err := r.readValue()
		if err != nil {
			return NilValue, err
		}

		r.skipSpace()
		if r.eof() || r.peek() == '}' {
			return NilValue, &ParseError{Pos: r.pos, Msg: "map missing value"}
		}

		v, err := r.readValue()
		if err != nil {
			return NilValue, err
		}

		pairs = append(pairs, Pair{Key: k, Val: v})
	}
}

func (r *reader) readDispatch() (Value, error) {
	start := r.pos
	r.pos++ // consume '#'
	if r.eof() {
		return NilValue, &ParseError{Pos: start, Msg: "unterminated dispatch"}
	}

	if r.peek() == '{' {
		v, err := r.readSeq('{', '}', Set)
		return v, err
	}

	// tagged literal: #namespace/name payload
	tag := r.readToken()
	if tag == "" {
		return NilValue, &ParseError{Pos: start, Msg: "empty tag"}
	}

	ns, name := "", tag
	if i := strings.IndexByte(tag, '/'); i >= 0 {
		ns, name = tag[:i], tag[i+1:]
	}

	r.skipSpace()
	payload, err := r.readValue()
	if err != nil {
		return NilValue, err
	}

	return Value{Kind: Tagged, Tag: Tag{Namespace: ns, Name: name, Payload: &payload}}, nil
}

func (r *reader) readKeyword() (Value, error) {
	r.pos++ // consume ':'
	tok := r.readToken()
	if tok == "" {
		return NilValue, &ParseError{Pos: r.pos, Msg: "empty keyword"}
	}

	return Kw(tok), nil
}

func (r *reader) readString() (Value, error) {
	start := r.pos
	r.pos++ // consume opening quote
	var sb strings.Builder
	for {
		if r.eof() {
			return NilValue, &ParseError{Pos: start, Msg: "unterminated string"}
		}

		c := r.src[r.pos]
		if c == '"' {
			r.pos++
			return Str(sb.String()), nil
		}

		if c == '\\' {
			r.pos++
			if r.eof() {
				return NilValue, &ParseError{Pos: start, Msg: "unterminated escape"}
			}

			switch r.src[r.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(r.src[r.pos])
			}

			r.pos++
			continue
		}

		sb.WriteByte(c)
		r.pos++
	}
}

func (r *reader) readAtom() (Value, error) {
	tok := r.readToken()
	if tok == "" {
		return NilValue, &ParseError{Pos: r.pos, Msg: "unexpected character"}
	}

	if tok == "nil" {
		return NilValue, nil
	}

	return Sym(tok), nil
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '[', ']', '{', '}', '"', ';', ',':
		return true
	default:
		return unicode.IsSpace(rune(c))
	}
}

func (r *reader) readToken() string {
	start := r.pos
	for !r.eof() && !isDelim(r.src[r.pos]) {
		r.pos++
	}

	return r.src[start:r.pos]
}
