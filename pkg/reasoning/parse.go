package reasoning

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrParse is returned by [ParseFormula] for malformed input.
var ErrParse = errors.New("reasoning: parse error")

// ParseFormula parses the textual formula syntax:
//
//	likes(?x, Iolo)                 atom; ?name is a variable
//	merchant(Gwenno)                constants are identifiers or "quoted strings"
//	!a   not a                      negation
//	a & b   a and b                 conjunction
//	a | b   a or b                  disjunction
//	a -> b                          implication (right associative)
//	forall ?x. a   exists ?x. a     quantifiers
//	believes(Iolo, a)  knows(Iolo, a)
//
// Precedence from loosest to tightest is ->, |, &, then unary operators.
func ParseFormula(s string) (Formula, error) {
	toks, err := lex(s)
	if err != nil {
		return Formula{}, err
	}
	p := &parser{toks: toks}
	f, err := p.implies()
	if err != nil {
		return Formula{}, err
	}
	if !p.done() {
		return Formula{}, fmt.Errorf("%w: unexpected %q at end of %q", ErrParse, p.peek().text, s)
	}
	return f, nil
}

// MustParseFormula is like [ParseFormula] but panics on error.
func MustParseFormula(s string) Formula {
	f, err := ParseFormula(s)
	if err != nil {
		panic(err)
	}
	return f
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokVar
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '\'' || r == '.'
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(rs) && rs[i+1] == '>':
			toks = append(toks, token{tokPunct, "->"})
			i += 2
		case strings.ContainsRune("(),!&|", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		case r == '.':
			// Only reached after a quantifier variable; identifiers consume
			// their own dots.
			toks = append(toks, token{tokPunct, "."})
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j == len(rs) {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrParse, s)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case r == '?':
			j := i + 1
			for j < len(rs) && isIdentRune(rs[j]) && rs[j] != '.' {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("%w: empty variable name in %q", ErrParse, s)
			}
			toks = append(toks, token{tokVar, string(rs[i+1 : j])})
			i = j
		case isIdentRune(r):
			j := i
			for j < len(rs) && isIdentRune(rs[j]) && !(rs[j] == '-' && j+1 < len(rs) && rs[j+1] == '>') {
				j++
			}
			word := string(rs[i:j])
			// A trailing dot ends a quantifier head ("forall ?x. p") or a
			// sentence; it never belongs to the identifier.
			for strings.HasSuffix(word, ".") {
				word = word[:len(word)-1]
				j--
			}
			if word == "" {
				toks = append(toks, token{tokPunct, "."})
				i++
				continue
			}
			toks = append(toks, token{tokIdent, word})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q in %q", ErrParse, r, s)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokPunct, text: "<eof>"}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return !p.done() && t.kind == tokPunct && t.text == text
}

func (p *parser) isKeyword(words ...string) bool {
	t := p.peek()
	if p.done() || t.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.isPunct(text) {
		return fmt.Errorf("%w: expected %q, got %q", ErrParse, text, p.peek().text)
	}
	p.pos++
	return nil
}

func (p *parser) implies() (Formula, error) {
	left, err := p.or()
	if err != nil {
		return Formula{}, err
	}
	if p.isPunct("->") {
		p.pos++
		right, err := p.implies()
		if err != nil {
			return Formula{}, err
		}
		return Implies(left, right), nil
	}
	return left, nil
}

func (p *parser) or() (Formula, error) {
	left, err := p.and()
	if err != nil {
		return Formula{}, err
	}
	for p.isPunct("|") || p.isKeyword("or") {
		p.pos++
		right, err := p.and()
		if err != nil {
			return Formula{}, err
		}
		left = Or(left, right)
	}
	return left, nil
}

func (p *parser) and() (Formula, error) {
	left, err := p.unary()
	if err != nil {
		return Formula{}, err
	}
	for p.isPunct("&") || p.isKeyword("and") {
		p.pos++
		right, err := p.unary()
		if err != nil {
			return Formula{}, err
		}
		left = And(left, right)
	}
	return left, nil
}

func (p *parser) unary() (Formula, error) {
	switch {
	case p.isPunct("!") || p.isKeyword("not"):
		p.pos++
		f, err := p.unary()
		if err != nil {
			return Formula{}, err
		}
		return Not(f), nil

	case p.isPunct("("):
		p.pos++
		f, err := p.implies()
		if err != nil {
			return Formula{}, err
		}
		return f, p.expect(")")

	case p.isKeyword("forall", "exists"):
		kw := strings.ToLower(p.next().text)
		v := p.next()
		if v.kind != tokVar {
			return Formula{}, fmt.Errorf("%w: %s needs a ?variable, got %q", ErrParse, kw, v.text)
		}
		if err := p.expect("."); err != nil {
			return Formula{}, err
		}
		body, err := p.implies()
		if err != nil {
			return Formula{}, err
		}
		if kw == "forall" {
			return ForAll(v.text, body), nil
		}
		return Exists(v.text, body), nil
	}
	return p.atom()
}

func (p *parser) atom() (Formula, error) {
	name := p.next()
	if name.kind != tokIdent {
		return Formula{}, fmt.Errorf("%w: expected predicate, got %q", ErrParse, name.text)
	}

	lower := strings.ToLower(name.text)
	if (lower == "believes" || lower == "knows") && p.isPunct("(") {
		p.pos++
		agent := p.next()
		if agent.kind != tokIdent && agent.kind != tokString {
			return Formula{}, fmt.Errorf("%w: %s needs an agent, got %q", ErrParse, lower, agent.text)
		}
		if err := p.expect(","); err != nil {
			return Formula{}, err
		}
		inner, err := p.implies()
		if err != nil {
			return Formula{}, err
		}
		if err := p.expect(")"); err != nil {
			return Formula{}, err
		}
		if lower == "believes" {
			return Believes(agent.text, inner), nil
		}
		return Knows(agent.text, inner), nil
	}

	if !p.isPunct("(") {
		return Atom(name.text), nil
	}
	p.pos++
	var args []Term
	for !p.isPunct(")") {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return Formula{}, err
			}
		}
		t := p.next()
		switch t.kind {
		case tokVar:
			args = append(args, V(t.text))
		case tokIdent, tokString:
			args = append(args, C(t.text))
		default:
			return Formula{}, fmt.Errorf("%w: expected argument, got %q", ErrParse, t.text)
		}
	}
	p.pos++
	return Atom(name.text, args...), nil
}
