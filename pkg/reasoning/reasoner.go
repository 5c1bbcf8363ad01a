package reasoning

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Defaults for the tunable inference constants.
const (
	DefaultDerivedDiscount = 0.9
	DefaultMaxIterations   = 10
	DefaultMaxDepth        = 10
	DefaultNeighbours      = 5
)

// ErrUnboundVariable is returned by [Reasoner.AddRule] for a rule whose
// conclusion uses a variable that no positive premise binds.
var ErrUnboundVariable = errors.New("reasoning: unbound variable in conclusion")

// ErrInvalidRule is returned by [Reasoner.AddRule] for structurally invalid
// rules.
var ErrInvalidRule = errors.New("reasoning: invalid rule")

// Fact is a ground atom with a fuzzy value.
type Fact struct {
	Predicate string
	Args      []string
	Value     LogicalValue
	// Derived marks facts produced by inference rather than observation.
	Derived bool
	// Source names where the fact came from (a rule name for derived facts).
	Source string
}

// Formula returns the fact as a ground atomic formula.
func (f Fact) Formula() Formula { return Atom(f.Predicate, Consts(f.Args...)...) }

func (f Fact) String() string {
	return f.Formula().String()
}

func factKey(pred string, args []string) string {
	return pred + "\x00" + strings.Join(args, "\x00")
}

// Rule is a Horn-style inference rule.
type Rule struct {
	Name        string
	Premises    []Formula
	Conclusion  Formula
	Confidence  float64
	Priority    int
	Category    string
	Description string
}

// Validate checks that the conclusion is atomic and that every variable it
// uses is bound by a positive atomic premise.
func (r Rule) Validate() error {
	if r.Conclusion.Kind != KindAtomic {
		return fmt.Errorf("%w: %s: conclusion must be atomic", ErrInvalidRule, r.Name)
	}
	if len(r.Premises) == 0 {
		return fmt.Errorf("%w: %s: no premises", ErrInvalidRule, r.Name)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %s: confidence %v outside [0,1]", ErrInvalidRule, r.Name, r.Confidence)
	}
	bound := map[string]bool{}
	for _, p := range r.Premises {
		for _, v := range positiveVars(p) {
			bound[v] = true
		}
	}
	for _, v := range r.Conclusion.Vars() {
		if !bound[v] {
			return fmt.Errorf("%w: %s: ?%s", ErrUnboundVariable, r.Name, v)
		}
	}
	return nil
}

// positiveVars returns the variables an atomic premise or a conjunction of
// atomic premises can bind.
func positiveVars(f Formula) []string {
	switch f.Kind {
	case KindAtomic:
		return f.Vars()
	case KindAnd:
		return append(positiveVars(f.Sub[0]), positiveVars(f.Sub[1])...)
	}
	return nil
}

// Reasoner owns a fact base, a rule set and an entity embedding table. All
// methods are safe for concurrent use; inference passes hold the write lock
// for their whole duration so readers never see a partially applied pass.
type Reasoner struct {
	mu       sync.RWMutex
	facts    []Fact
	byKey    map[string]int
	byPred   map[string][]int
	byEntity map[string][]int
	rules    []Rule

	embeddings *Embeddings
	modal      *ModalReasoner

	threshold       float64
	derivedDiscount float64
	neighbours      int
	learnRelations  bool
	functional      map[string]bool
}

// Option configures a [Reasoner].
type Option func(*Reasoner)

// WithTruthThreshold sets the truth value a premise must reach during
// forward chaining. Defaults to [DefaultThreshold].
func WithTruthThreshold(t float64) Option {
	return func(r *Reasoner) { r.threshold = t }
}

// WithDerivedDiscount sets the confidence multiplier applied to derived
// facts. Defaults to [DefaultDerivedDiscount].
func WithDerivedDiscount(d float64) Option {
	return func(r *Reasoner) { r.derivedDiscount = d }
}

// WithEmbeddings sets the embedding table used by [Reasoner.NeuralInfer].
func WithEmbeddings(e *Embeddings) Option {
	return func(r *Reasoner) { r.embeddings = e }
}

// WithModal attaches a modal reasoner that answers believes/knows formulas.
func WithModal(m *ModalReasoner) Option {
	return func(r *Reasoner) { r.modal = m }
}

// WithNeighbours sets how many similar entities NeuralInfer consults.
func WithNeighbours(k int) Option {
	return func(r *Reasoner) { r.neighbours = k }
}

// WithRelationLearning makes AddFact train relation embeddings from
// observed binary facts.
func WithRelationLearning(on bool) Option {
	return func(r *Reasoner) { r.learnRelations = on }
}

// WithFunctional marks predicates whose first argument determines the rest,
// such as name(npc, X). [Reasoner.Contradicts] treats a differing value for
// these as a conflict.
func WithFunctional(preds ...string) Option {
	return func(r *Reasoner) {
		for _, p := range preds {
			r.functional[p] = true
		}
	}
}

// New returns an empty Reasoner.
func New(opts ...Option) *Reasoner {
	r := &Reasoner{
		byKey:           make(map[string]int),
		byPred:          make(map[string][]int),
		byEntity:        make(map[string][]int),
		threshold:       DefaultThreshold,
		derivedDiscount: DefaultDerivedDiscount,
		neighbours:      DefaultNeighbours,
		learnRelations:  true,
		functional:      make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	if r.embeddings == nil {
		r.embeddings = NewEmbeddings(DefaultDimension)
	}
	if r.modal == nil {
		r.modal = NewModalReasoner()
	}
	return r
}

// Embeddings returns the entity embedding table.
func (r *Reasoner) Embeddings() *Embeddings { return r.embeddings }

// Modal returns the attached modal reasoner.
func (r *Reasoner) Modal() *ModalReasoner { return r.modal }

// AddFact asserts pred(args...) with the given truth and full confidence.
func (r *Reasoner) AddFact(pred string, args []string, truth float64) {
	r.AddFactValue(pred, args, Value(truth))
}

// AddFactValue asserts pred(args...) with value v. Re-asserting an existing
// fact replaces its value and marks it observed.
func (r *Reasoner) AddFactValue(pred string, args []string, v LogicalValue) {
	v.Truth = clamp01(v.Truth)
	v.Confidence = clamp01(v.Confidence)

	r.mu.Lock()
	r.putLocked(Fact{Predicate: pred, Args: slices.Clone(args), Value: v})
	r.mu.Unlock()

	for _, a := range args {
		r.embeddings.Get(a)
	}
	if r.learnRelations && len(args) == 2 && v.IsTrue(r.threshold) {
		r.embeddings.LearnRelation(args[0], pred, args[1])
	}
}

// putLocked inserts or replaces f and reports whether it was new.
func (r *Reasoner) putLocked(f Fact) bool {
	key := factKey(f.Predicate, f.Args)
	if i, ok := r.byKey[key]; ok {
		r.facts[i] = f
		return false
	}
	idx := len(r.facts)
	r.facts = append(r.facts, f)
	r.byKey[key] = idx
	r.byPred[f.Predicate] = append(r.byPred[f.Predicate], idx)
	seen := map[string]bool{}
	for _, a := range f.Args {
		if !seen[a] {
			r.byEntity[a] = append(r.byEntity[a], idx)
			seen[a] = true
		}
	}
	return true
}

// QueryFact looks up a ground fact. Unknown facts report ok=false and the
// [Unknown] value.
func (r *Reasoner) QueryFact(pred string, args []string) (LogicalValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.byKey[factKey(pred, args)]; ok {
		return r.facts[i].Value, true
	}
	return Unknown, false
}

// Query returns the facts for pred whose arguments match args, where "*"
// matches any value. A nil args matches every arity.
func (r *Reasoner) Query(pred string, args ...string) []Fact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Fact
	for _, i := range r.byPred[pred] {
		f := r.facts[i]
		if args != nil && !argsMatch(args, f.Args) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func argsMatch(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != "*" && want[i] != got[i] {
			return false
		}
	}
	return true
}

// AddRule validates and stores a rule. Rules are tried in descending
// priority, then insertion order.
func (r *Reasoner) AddRule(rule Rule) error {
	if rule.Confidence == 0 {
		rule.Confidence = 1
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool { return r.rules[i].Priority > r.rules[j].Priority })
	return nil
}

// Rules returns a copy of the rule set in evaluation order.
func (r *Reasoner) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rules)
}

// Facts returns a copy of every fact in insertion order.
func (r *Reasoner) Facts() []Fact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.facts)
}

// FactsAbout returns every fact that mentions entity as an argument.
func (r *Reasoner) FactsAbout(entity string) []Fact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Fact, 0, len(r.byEntity[entity]))
	for _, i := range r.byEntity[entity] {
		out = append(out, r.facts[i])
	}
	return out
}

// Clear removes all facts and rules. Embeddings are kept.
func (r *Reasoner) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = nil
	r.rules = nil
	r.byKey = make(map[string]int)
	r.byPred = make(map[string][]int)
	r.byEntity = make(map[string][]int)
}

// Evaluate computes the value of f under binding b using stored facts only.
// ok is false when the value cannot be determined: an atom with an unbound
// variable or no matching fact, or a compound whose operands are unknown.
func (r *Reasoner) Evaluate(f Formula, b Binding) (LogicalValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evalLocked(f, b)
}

func (r *Reasoner) evalLocked(f Formula, b Binding) (LogicalValue, bool) {
	switch f.Kind {
	case KindAtomic:
		args := make([]string, len(f.Args))
		for i, a := range f.Args {
			t := b.resolve(a)
			if t.IsVar {
				return Unknown, false
			}
			args[i] = t.Name
		}
		i, ok := r.byKey[factKey(f.Predicate, args)]
		if !ok {
			return Unknown, false
		}
		return r.facts[i].Value, true

	case KindNot:
		v, ok := r.evalLocked(f.Sub[0], b)
		if !ok {
			return Unknown, false
		}
		return v.Not(), true

	case KindAnd:
		a, ok := r.evalLocked(f.Sub[0], b)
		if !ok {
			return Unknown, false
		}
		c, ok := r.evalLocked(f.Sub[1], b)
		if !ok {
			return Unknown, false
		}
		return a.And(c), true

	case KindOr:
		a, okA := r.evalLocked(f.Sub[0], b)
		c, okC := r.evalLocked(f.Sub[1], b)
		switch {
		case okA && okC:
			return a.Or(c), true
		case okA:
			return a, true
		case okC:
			return c, true
		}
		return Unknown, false

	case KindImplies:
		return r.evalLocked(Or(Not(f.Sub[0]), f.Sub[1]), b)

	case KindForAll, KindExists:
		// Quantifiers range over the known entities. Instances with no
		// known value are ignored.
		var acc LogicalValue
		found := false
		for entity := range r.byEntity {
			v, ok := r.evalLocked(f.Sub[0], b.with(f.Var, entity))
			if !ok {
				continue
			}
			switch {
			case !found:
				acc = v
			case f.Kind == KindForAll:
				acc = acc.And(v)
			default:
				acc = acc.Or(v)
			}
			found = true
		}
		if !found {
			return Unknown, false
		}
		return acc, true

	case KindBelieves, KindKnows:
		inner := f.Sub[0].Substitute(b)
		var v LogicalValue
		if f.Kind == KindKnows {
			v = r.modal.QueryKnowledge(f.Agent, inner)
		} else {
			v = r.modal.QueryBelief(f.Agent, inner)
		}
		if v.Confidence == 0 {
			return Unknown, false
		}
		return v, true
	}
	return Unknown, false
}

// NeuralInfer estimates how true facts about entity tend to be by blending
// the fact values of its most similar neighbours in embedding space,
// weighted by cosine similarity. Neighbours with non-positive similarity are
// ignored. With no usable evidence the result is truth 0.5 at confidence 0.1.
func (r *Reasoner) NeuralInfer(entity string) LogicalValue {
	similar := r.embeddings.FindSimilar(entity, r.neighbours)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var evidence, weight float64
	n := 0
	for _, s := range similar {
		if s.Similarity <= 0 {
			continue
		}
		for _, i := range r.byEntity[s.Entity] {
			evidence += r.facts[i].Value.Truth * s.Similarity
			weight += s.Similarity
			n++
		}
	}
	if weight <= 0 {
		return LogicalValue{Truth: 0.5, Confidence: 0.1, Relevance: 1}
	}
	return LogicalValue{
		Truth:      clamp01(evidence / weight),
		Confidence: clamp01(weight / float64(n)),
		Relevance:  1,
	}
}
