package reasoning

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// solution is one way of satisfying a formula: the bindings it needs and the
// value it reaches under them.
type solution struct {
	binding Binding
	value   LogicalValue
	// rule names the rule that produced the value, if any.
	rule string
}

// solveLocked enumerates the solutions of f under b. Atoms unify against the
// fact base; when depth > 0 rules whose conclusion has the same predicate
// and arity are tried as well, with their premises proved at depth-1.
// Negations and other non-binding connectives only ever check bindings that
// earlier conjuncts produced.
func (r *Reasoner) solveLocked(f Formula, b Binding, depth int, fresh *int) []solution {
	switch f.Kind {
	case KindAtomic:
		var out []solution
		for _, i := range r.byPred[f.Predicate] {
			fact := r.facts[i]
			nb, ok := unify(f.Args, fact.Args, b)
			if !ok {
				continue
			}
			out = append(out, solution{binding: nb, value: fact.Value})
		}
		if depth > 0 {
			out = append(out, r.solveByRulesLocked(f, b, depth, fresh)...)
		}
		return out

	case KindAnd:
		var out []solution
		for _, left := range r.solveLocked(f.Sub[0], b, depth, fresh) {
			for _, right := range r.solveLocked(f.Sub[1], left.binding, depth, fresh) {
				out = append(out, solution{binding: right.binding, value: left.value.And(right.value)})
			}
		}
		return out
	}

	// Remaining connectives do not bind variables; evaluate them under the
	// bindings gathered so far.
	v, ok := r.evalLocked(f, b)
	if !ok {
		return nil
	}
	return []solution{{binding: b, value: v}}
}

// solveByRulesLocked proves the atom goal through rules.
func (r *Reasoner) solveByRulesLocked(goal Formula, b Binding, depth int, fresh *int) []solution {
	var out []solution
	for _, rule := range r.rules {
		c := rule.Conclusion
		if c.Predicate != goal.Predicate || len(c.Args) != len(goal.Args) {
			continue
		}
		*fresh++
		renamed := rename(rule, *fresh)

		// Bind rule variables from the goal's resolved arguments.
		rb := Binding{}
		ok := true
		for i, t := range renamed.Conclusion.Args {
			g := b.resolve(goal.Args[i])
			switch {
			case g.IsVar:
				// Goal variable stays open; it is bound after the premises
				// are proved.
			case t.IsVar:
				if prev, seen := rb[t.Name]; seen && prev != g.Name {
					ok = false
				}
				rb[t.Name] = g.Name
			case t.Name != g.Name:
				ok = false
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		premise := conjunction(renamed.Premises)
		for _, s := range r.solveLocked(premise, rb, depth-1, fresh) {
			args := make([]string, len(renamed.Conclusion.Args))
			ground := true
			for i, t := range renamed.Conclusion.Args {
				rt := s.binding.resolve(t)
				if rt.IsVar {
					ground = false
					break
				}
				args[i] = rt.Name
			}
			if !ground {
				continue
			}
			nb, ok := unify(goal.Args, args, b)
			if !ok {
				continue
			}
			out = append(out, solution{
				binding: nb,
				value: LogicalValue{
					Truth:      clamp01(rule.Confidence * s.value.Truth),
					Confidence: clamp01(s.value.Confidence * r.derivedDiscount),
					Relevance:  s.value.Relevance,
				},
				rule: rule.Name,
			})
		}
	}
	return out
}

func conjunction(fs []Formula) Formula {
	out := fs[0]
	for _, f := range fs[1:] {
		out = And(out, f)
	}
	return out
}

// rename gives every free variable in rule a unique suffix so that nested
// uses of the same rule do not share bindings.
func rename(rule Rule, n int) Rule {
	suffix := "#" + strconv.Itoa(n)
	out := rule
	out.Premises = make([]Formula, len(rule.Premises))
	for i, p := range rule.Premises {
		out.Premises[i] = renameVars(p, suffix)
	}
	out.Conclusion = renameVars(rule.Conclusion, suffix)
	return out
}

func renameVars(f Formula, suffix string) Formula {
	switch f.Kind {
	case KindAtomic:
		args := make([]Term, len(f.Args))
		for i, a := range f.Args {
			if a.IsVar {
				a = V(a.Name + suffix)
			}
			args[i] = a
		}
		return Atom(f.Predicate, args...)
	case KindForAll, KindExists:
		// Quantified bodies are evaluated, never unified, so their bound
		// variable keeps its name. Free variables inside still need renaming.
		body := renameFree(f.Sub[0], f.Var, suffix)
		return Formula{Kind: f.Kind, Var: f.Var, Sub: []Formula{body}}
	default:
		sub := make([]Formula, len(f.Sub))
		for i, s := range f.Sub {
			sub[i] = renameVars(s, suffix)
		}
		return Formula{Kind: f.Kind, Agent: f.Agent, Sub: sub}
	}
}

// renameFree renames every variable except bound.
func renameFree(f Formula, bound, suffix string) Formula {
	if f.Kind == KindAtomic {
		args := make([]Term, len(f.Args))
		for i, a := range f.Args {
			if a.IsVar && a.Name != bound {
				a = V(a.Name + suffix)
			}
			args[i] = a
		}
		return Atom(f.Predicate, args...)
	}
	sub := make([]Formula, len(f.Sub))
	for i, s := range f.Sub {
		sub[i] = renameFree(s, bound, suffix)
	}
	return Formula{Kind: f.Kind, Var: f.Var, Agent: f.Agent, Sub: sub}
}

// ForwardChain applies every rule to the fact base until no new fact can be
// derived or maxIter passes have run, and returns the derived facts in the
// order they were added. A maxIter ≤ 0 uses [DefaultMaxIterations].
//
// Each pass computes its whole batch against a snapshot of the facts and
// appends it in one step.
func (r *Reasoner) ForwardChain(maxIter int) []Fact {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var derived []Fact
	for range maxIter {
		batch := r.derivePassLocked()
		if len(batch) == 0 {
			break
		}
		for _, f := range batch {
			r.putLocked(f)
		}
		derived = append(derived, batch...)
	}
	return derived
}

func (r *Reasoner) derivePassLocked() []Fact {
	var batch []Fact
	seen := map[string]bool{}
	fresh := 0
	for _, rule := range r.rules {
		for _, s := range r.solveLocked(conjunction(rule.Premises), Binding{}, 0, &fresh) {
			if !s.value.IsTrue(r.threshold) {
				continue
			}
			args := make([]string, len(rule.Conclusion.Args))
			ground := true
			for i, t := range rule.Conclusion.Args {
				rt := s.binding.resolve(t)
				if rt.IsVar {
					ground = false
					break
				}
				args[i] = rt.Name
			}
			if !ground {
				continue
			}
			key := factKey(rule.Conclusion.Predicate, args)
			if _, exists := r.byKey[key]; exists || seen[key] {
				continue
			}
			seen[key] = true
			batch = append(batch, Fact{
				Predicate: rule.Conclusion.Predicate,
				Args:      args,
				Value: LogicalValue{
					Truth:      clamp01(rule.Confidence * s.value.Truth),
					Confidence: clamp01(s.value.Confidence * r.derivedDiscount),
					Relevance:  s.value.Relevance,
				},
				Derived: true,
				Source:  rule.Name,
			})
		}
	}
	return batch
}

// BackwardChain tries to prove goal. A stored fact answers directly;
// otherwise rules whose conclusion unifies with goal are tried recursively,
// each level consuming one unit of maxDepth, and the strongest proof wins.
// ok is false when nothing could be proved, including when the depth budget
// ran out. A maxDepth of 0 proves nothing.
func (r *Reasoner) BackwardChain(goal Formula, maxDepth int) (LogicalValue, bool) {
	if maxDepth <= 0 {
		return Unknown, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if goal.Kind != KindAtomic {
		return r.evalLocked(goal, nil)
	}

	best, found := Unknown, false
	fresh := 0
	for _, s := range r.solveLocked(goal, Binding{}, 0, &fresh) {
		if !found || s.value.Truth > best.Truth {
			best, found = s.value, true
		}
	}
	if found {
		return best, true
	}
	for _, s := range r.solveByRulesLocked(goal, Binding{}, maxDepth, &fresh) {
		if !found || s.value.Truth > best.Truth {
			best, found = s.value, true
		}
	}
	return best, found
}

// Explain returns a human readable proof trace for goal, one line per step,
// or nil when goal cannot be proved within maxDepth.
func (r *Reasoner) Explain(goal Formula, maxDepth int) []string {
	if maxDepth <= 0 || goal.Kind != KindAtomic {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	r.explainLocked(goal, Binding{}, maxDepth, 0, &lines)
	return lines
}

func (r *Reasoner) explainLocked(goal Formula, b Binding, depth, indent int, lines *[]string) bool {
	pad := strings.Repeat("  ", indent)
	g := goal.Substitute(b)
	for _, i := range r.byPred[g.Predicate] {
		fact := r.facts[i]
		if _, ok := unify(g.Args, fact.Args, Binding{}); ok {
			kind := "known"
			if fact.Derived {
				kind = "derived by " + fact.Source
			}
			*lines = append(*lines, fmt.Sprintf("%s%s (%s, %s)", pad, fact, kind, fact.Value))
			return true
		}
	}
	if depth <= 0 {
		return false
	}
	fresh := 0
	for _, rule := range r.rules {
		c := rule.Conclusion
		if c.Predicate != g.Predicate || len(c.Args) != len(g.Args) {
			continue
		}
		fresh++
		renamed := rename(rule, fresh)
		rb, ok := unifyTerms(renamed.Conclusion.Args, g.Args, Binding{})
		if !ok {
			continue
		}
		sols := r.solveLocked(conjunction(renamed.Premises), rb, depth-1, &fresh)
		if len(sols) == 0 {
			continue
		}
		s := sols[0]
		*lines = append(*lines, fmt.Sprintf("%s%s by rule %s", pad, renamed.Conclusion.Substitute(s.binding), rule.Name))
		for _, p := range renamed.Premises {
			if p.Kind == KindAtomic {
				r.explainLocked(p, s.binding, depth-1, indent+1, lines)
				continue
			}
			*lines = append(*lines, fmt.Sprintf("%s  %s", pad, p.Substitute(s.binding)))
		}
		return true
	}
	return false
}

// unifyTerms binds the variables in pattern to the constants in goal.
// Variables in goal are left open.
func unifyTerms(pattern, goal []Term, b Binding) (Binding, bool) {
	out := b
	for i, t := range pattern {
		g := goal[i]
		if g.IsVar {
			continue
		}
		t = out.resolve(t)
		if !t.IsVar {
			if t.Name != g.Name {
				return nil, false
			}
			continue
		}
		out = out.with(t.Name, g.Name)
	}
	return out, true
}

// Abduce returns candidate explanations for an observed atom: the premises of
// each rule whose conclusion unifies with it, with the observation's
// constants substituted in. Premises already known to be true are omitted.
func (r *Reasoner) Abduce(observation Formula) []Formula {
	if observation.Kind != KindAtomic {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Formula
	for _, rule := range r.rules {
		c := rule.Conclusion
		if c.Predicate != observation.Predicate || len(c.Args) != len(observation.Args) {
			continue
		}
		b, ok := unifyTerms(c.Args, observation.Args, Binding{})
		if !ok {
			continue
		}
		for _, p := range rule.Premises {
			h := p.Substitute(b)
			if v, known := r.evalLocked(h, nil); known && v.IsTrue(r.threshold) {
				continue
			}
			if !slices.ContainsFunc(out, h.Equal) {
				out = append(out, h)
			}
		}
	}
	return out
}

// Counterfactual reports what consequence would evaluate to had condition
// been true. The reasoner itself is not modified.
func (r *Reasoner) Counterfactual(condition, consequence Formula, maxIter int) (LogicalValue, bool) {
	alt := r.clone()
	alt.assume(condition)
	alt.ForwardChain(maxIter)
	if consequence.Kind == KindAtomic {
		return alt.BackwardChain(consequence, DefaultMaxDepth)
	}
	return alt.Evaluate(consequence, nil)
}

// assume asserts every ground atom in f as true, and every negated ground
// atom as false.
func (r *Reasoner) assume(f Formula) {
	switch f.Kind {
	case KindAtomic:
		if !f.IsGround() {
			return
		}
		args := make([]string, len(f.Args))
		for i, a := range f.Args {
			args[i] = a.Name
		}
		r.AddFact(f.Predicate, args, 1)
	case KindNot:
		if inner := f.Sub[0]; inner.Kind == KindAtomic && inner.IsGround() {
			args := make([]string, len(inner.Args))
			for i, a := range inner.Args {
				args[i] = a.Name
			}
			r.AddFact(inner.Predicate, args, 0)
		}
	case KindAnd:
		r.assume(f.Sub[0])
		r.assume(f.Sub[1])
	}
}

func (r *Reasoner) clone() *Reasoner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := New(
		WithTruthThreshold(r.threshold),
		WithDerivedDiscount(r.derivedDiscount),
		WithModal(r.modal),
		WithNeighbours(r.neighbours),
		WithRelationLearning(false),
		WithEmbeddings(r.embeddings.Clone()),
		WithFunctional(slices.Collect(maps.Keys(r.functional))...),
	)
	for _, f := range r.facts {
		c.putLocked(f)
	}
	c.rules = slices.Clone(r.rules)
	return c
}

// Contradicts reports a stored fact that conflicts with the claim
// pred(args...). A claim conflicts with an exact fact known to be false, and,
// for functional predicates (see [WithFunctional]), with a true fact that has
// the same first argument but a different value.
func (r *Reasoner) Contradicts(pred string, args []string) (Fact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.byKey[factKey(pred, args)]; ok {
		f := r.facts[i]
		if f.Value.IsFalse(r.threshold) && f.Value.Confidence > 0 {
			return f, true
		}
		return Fact{}, false
	}
	if !r.functional[pred] || len(args) < 2 {
		return Fact{}, false
	}
	for _, i := range r.byPred[pred] {
		f := r.facts[i]
		if len(f.Args) == len(args) && f.Args[0] == args[0] && f.Value.IsTrue(r.threshold) {
			return f, true
		}
	}
	return Fact{}, false
}
