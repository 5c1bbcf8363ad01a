package reasoning

import (
	"slices"
	"strings"
)

// Term is a formula argument: a variable or a constant.
type Term struct {
	// IsVar marks Name as a variable name rather than a constant value.
	IsVar bool
	Name  string
}

// V returns a variable term.
func V(name string) Term { return Term{IsVar: true, Name: strings.TrimPrefix(name, "?")} }

// C returns a constant term.
func C(value string) Term { return Term{Name: value} }

// Consts converts values into constant terms.
func Consts(values ...string) []Term {
	out := make([]Term, len(values))
	for i, v := range values {
		out[i] = C(v)
	}
	return out
}

func (t Term) String() string {
	if t.IsVar {
		return "?" + t.Name
	}
	if needsQuote(t.Name) {
		return `"` + t.Name + `"`
	}
	return t.Name
}

func needsQuote(s string) bool {
	if s == "" || strings.HasSuffix(s, ".") {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return !isIdentRune(r)
	})
}

// FormulaKind identifies the connective of a [Formula].
type FormulaKind int

const (
	KindAtomic FormulaKind = iota
	KindNot
	KindAnd
	KindOr
	KindImplies
	KindForAll
	KindExists
	KindBelieves
	KindKnows
)

// Formula is an immutable logic formula tree.
type Formula struct {
	Kind FormulaKind

	// Predicate and Args are set for atomic formulas.
	Predicate string
	Args      []Term

	// Sub holds the operands of compound formulas.
	Sub []Formula

	// Var is the variable bound by a quantifier.
	Var string

	// Agent is the subject of a modal formula.
	Agent string
}

// Atom returns the atomic formula pred(args...).
func Atom(pred string, args ...Term) Formula {
	return Formula{Kind: KindAtomic, Predicate: pred, Args: args}
}

// Not returns ¬f.
func Not(f Formula) Formula { return Formula{Kind: KindNot, Sub: []Formula{f}} }

// And returns a ∧ b.
func And(a, b Formula) Formula { return Formula{Kind: KindAnd, Sub: []Formula{a, b}} }

// Or returns a ∨ b.
func Or(a, b Formula) Formula { return Formula{Kind: KindOr, Sub: []Formula{a, b}} }

// Implies returns a → b.
func Implies(a, b Formula) Formula { return Formula{Kind: KindImplies, Sub: []Formula{a, b}} }

// ForAll returns ∀v. body.
func ForAll(v string, body Formula) Formula {
	return Formula{Kind: KindForAll, Var: strings.TrimPrefix(v, "?"), Sub: []Formula{body}}
}

// Exists returns ∃v. body.
func Exists(v string, body Formula) Formula {
	return Formula{Kind: KindExists, Var: strings.TrimPrefix(v, "?"), Sub: []Formula{body}}
}

// Believes returns the modal formula "agent believes f".
func Believes(agent string, f Formula) Formula {
	return Formula{Kind: KindBelieves, Agent: agent, Sub: []Formula{f}}
}

// Knows returns the modal formula "agent knows f".
func Knows(agent string, f Formula) Formula {
	return Formula{Kind: KindKnows, Agent: agent, Sub: []Formula{f}}
}

// Equal reports structural equality.
func (f Formula) Equal(o Formula) bool {
	if f.Kind != o.Kind || f.Predicate != o.Predicate || f.Var != o.Var || f.Agent != o.Agent {
		return false
	}
	if !slices.Equal(f.Args, o.Args) || len(f.Sub) != len(o.Sub) {
		return false
	}
	for i := range f.Sub {
		if !f.Sub[i].Equal(o.Sub[i]) {
			return false
		}
	}
	return true
}

// Vars returns the free variables of f in first-occurrence order.
func (f Formula) Vars() []string {
	var out []string
	f.collectVars(nil, &out)
	return out
}

func (f Formula) collectVars(bound []string, out *[]string) {
	switch f.Kind {
	case KindAtomic:
		for _, a := range f.Args {
			if a.IsVar && !slices.Contains(bound, a.Name) && !slices.Contains(*out, a.Name) {
				*out = append(*out, a.Name)
			}
		}
	case KindForAll, KindExists:
		inner := append(slices.Clone(bound), f.Var)
		f.Sub[0].collectVars(inner, out)
	default:
		for _, s := range f.Sub {
			s.collectVars(bound, out)
		}
	}
}

// Substitute returns f with every bound variable in b replaced by its value.
func (f Formula) Substitute(b Binding) Formula {
	switch f.Kind {
	case KindAtomic:
		args := make([]Term, len(f.Args))
		for i, a := range f.Args {
			args[i] = b.resolve(a)
		}
		return Formula{Kind: KindAtomic, Predicate: f.Predicate, Args: args}
	case KindForAll, KindExists:
		inner := b.without(f.Var)
		return Formula{Kind: f.Kind, Var: f.Var, Sub: []Formula{f.Sub[0].Substitute(inner)}}
	default:
		sub := make([]Formula, len(f.Sub))
		for i, s := range f.Sub {
			sub[i] = s.Substitute(b)
		}
		return Formula{Kind: f.Kind, Agent: f.Agent, Sub: sub}
	}
}

// IsGround reports whether f has no free variables.
func (f Formula) IsGround() bool { return len(f.Vars()) == 0 }

// String renders f in the syntax accepted by [ParseFormula].
func (f Formula) String() string {
	var b strings.Builder
	f.write(&b, 0)
	return b.String()
}

// precedence levels used when rendering.
const (
	precImplies = iota + 1
	precOr
	precAnd
	precUnary
)

func (f Formula) write(b *strings.Builder, parent int) {
	switch f.Kind {
	case KindAtomic:
		b.WriteString(f.Predicate)
		b.WriteByte('(')
		for i, a := range f.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteByte(')')
	case KindNot:
		b.WriteByte('!')
		f.Sub[0].write(b, precUnary)
	case KindAnd, KindOr, KindImplies:
		prec, op := precAnd, " & "
		switch f.Kind {
		case KindOr:
			prec, op = precOr, " | "
		case KindImplies:
			prec, op = precImplies, " -> "
		}
		if parent > prec {
			b.WriteByte('(')
		}
		// Implication is right associative; the other operators are left
		// associative.
		left, right := prec, prec+1
		if f.Kind == KindImplies {
			left, right = prec+1, prec
		}
		f.Sub[0].write(b, left)
		b.WriteString(op)
		f.Sub[1].write(b, right)
		if parent > prec {
			b.WriteByte(')')
		}
	case KindForAll, KindExists:
		if parent > 0 {
			b.WriteByte('(')
		}
		if f.Kind == KindForAll {
			b.WriteString("forall ?")
		} else {
			b.WriteString("exists ?")
		}
		b.WriteString(f.Var)
		b.WriteString(". ")
		f.Sub[0].write(b, 0)
		if parent > 0 {
			b.WriteByte(')')
		}
	case KindBelieves, KindKnows:
		if f.Kind == KindBelieves {
			b.WriteString("believes(")
		} else {
			b.WriteString("knows(")
		}
		b.WriteString(C(f.Agent).String())
		b.WriteString(", ")
		f.Sub[0].write(b, 0)
		b.WriteByte(')')
	}
}

// Binding maps variable names to constant values.
type Binding map[string]string

func (b Binding) resolve(t Term) Term {
	if !t.IsVar {
		return t
	}
	if v, ok := b[t.Name]; ok {
		return C(v)
	}
	return t
}

func (b Binding) with(name, value string) Binding {
	out := make(Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[name] = value
	return out
}

func (b Binding) without(name string) Binding {
	if _, ok := b[name]; !ok {
		return b
	}
	out := make(Binding, len(b))
	for k, v := range b {
		if k != name {
			out[k] = v
		}
	}
	return out
}

// unify extends b so that pattern matches the ground values, or reports
// false when they cannot match.
func unify(pattern []Term, values []string, b Binding) (Binding, bool) {
	if len(pattern) != len(values) {
		return nil, false
	}
	out := b
	for i, t := range pattern {
		t = out.resolve(t)
		if !t.IsVar {
			if t.Name != values[i] {
				return nil, false
			}
			continue
		}
		out = out.with(t.Name, values[i])
	}
	return out, true
}
