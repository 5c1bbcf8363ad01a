// Package knowledge provides a flat subject–predicate–object triple store
// with one-hop "is-a" inheritance.
//
// The store backs the <get>-style world facts templates consult and the
// per-NPC summaries shown to hosts. It is deliberately simple: triples are
// appended in order, indexed by subject and predicate, and never merged.
package knowledge

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Wildcard matches any value in [Base.Query].
const Wildcard = "*"

// DefaultHopDiscount multiplies the confidence of inherited triples.
const DefaultHopDiscount = 0.8

// Triple is a single fact.
type Triple struct {
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
	Source     string
}

// Base is an indexed triple store. All methods are safe for concurrent use.
type Base struct {
	mu          sync.RWMutex
	triples     []Triple
	bySubject   map[string][]int
	byPredicate map[string][]int

	hopDiscount float64
	inherit     []string
}

// Option configures a [Base].
type Option func(*Base)

// WithHopDiscount sets the confidence multiplier applied to facts inherited
// through an is-a link. Defaults to [DefaultHopDiscount].
func WithHopDiscount(d float64) Option {
	return func(b *Base) {
		b.hopDiscount = d
	}
}

// WithInheritancePredicates replaces the predicates followed by [Base.Infer].
// Defaults to "is-a" and "is".
func WithInheritancePredicates(preds ...string) Option {
	return func(b *Base) {
		b.inherit = preds
	}
}

// New returns an empty Base.
func New(opts ...Option) *Base {
	b := &Base{
		bySubject:   make(map[string][]int),
		byPredicate: make(map[string][]int),
		hopDiscount: DefaultHopDiscount,
		inherit:     []string{"is-a", "is"},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Store appends a triple. Duplicates are kept.
func (b *Base) Store(subject, predicate, object string, confidence float64) {
	b.StoreTriple(Triple{Subject: subject, Predicate: predicate, Object: object, Confidence: confidence})
}

// StoreTriple appends t.
func (b *Base) StoreTriple(t Triple) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(t)
}

func (b *Base) appendLocked(t Triple) {
	idx := len(b.triples)
	b.triples = append(b.triples, t)
	b.bySubject[t.Subject] = append(b.bySubject[t.Subject], idx)
	b.byPredicate[t.Predicate] = append(b.byPredicate[t.Predicate], idx)
}

// Query returns the triples matching all three fields, where [Wildcard]
// matches anything. Results are in insertion order.
func (b *Base) Query(subject, predicate, object string) []Triple {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryLocked(subject, predicate, object)
}

func (b *Base) queryLocked(subject, predicate, object string) []Triple {
	var candidates []int
	switch {
	case subject != Wildcard:
		candidates = b.bySubject[subject]
	case predicate != Wildcard:
		candidates = b.byPredicate[predicate]
	default:
		out := make([]Triple, 0, len(b.triples))
		for _, t := range b.triples {
			if object == Wildcard || t.Object == object {
				out = append(out, t)
			}
		}
		return out
	}

	var out []Triple
	for _, i := range candidates {
		t := b.triples[i]
		if (subject == Wildcard || t.Subject == subject) &&
			(predicate == Wildcard || t.Predicate == predicate) &&
			(object == Wildcard || t.Object == object) {
			out = append(out, t)
		}
	}
	return out
}

// Infer returns every direct triple about subject followed by the triples
// of each object it is linked to by an inheritance predicate. Inherited
// triples are rewritten to name subject and carry a discounted confidence.
func (b *Base) Infer(subject string) []Triple {
	b.mu.RLock()
	defer b.mu.RUnlock()

	direct := b.queryLocked(subject, Wildcard, Wildcard)
	out := slices.Clone(direct)
	for _, t := range direct {
		if !slices.Contains(b.inherit, t.Predicate) {
			continue
		}
		for _, inh := range b.queryLocked(t.Object, Wildcard, Wildcard) {
			inh.Subject = subject
			inh.Confidence *= b.hopDiscount
			out = append(out, inh)
		}
	}
	return out
}

// HasFact reports whether at least one triple matches the query.
func (b *Base) HasFact(subject, predicate, object string) bool {
	return len(b.Query(subject, predicate, object)) > 0
}

// Summarize renders the direct triples about subject as a short
// human-readable block.
func (b *Base) Summarize(subject string) string {
	facts := b.Query(subject, Wildcard, Wildcard)
	if len(facts) == 0 {
		return "No information about " + subject
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "About %s:\n", subject)
	for _, t := range facts {
		fmt.Fprintf(&sb, "  - %s: %s\n", t.Predicate, t.Object)
	}
	return sb.String()
}

// Len returns the number of stored triples.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.triples)
}

// All returns a copy of every triple in insertion order.
func (b *Base) All() []Triple {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.triples)
}

// Replace atomically swaps the store contents for triples.
func (b *Base) Replace(triples []Triple) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	for _, t := range triples {
		b.appendLocked(t)
	}
}

// Clear removes all triples.
func (b *Base) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Base) resetLocked() {
	b.triples = nil
	b.bySubject = make(map[string][]int)
	b.byPredicate = make(map[string][]int)
}

// Save writes every triple as a tab-separated line:
//
//	subject<TAB>predicate<TAB>object<TAB>confidence
func (b *Base) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, t := range b.All() {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", t.Subject, t.Predicate, t.Object,
			strconv.FormatFloat(t.Confidence, 'g', -1, 64)); err != nil {
			return fmt.Errorf("knowledge: save: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("knowledge: save: %w", err)
	}
	return nil
}

// Load replaces the store contents with the triples read from r in the
// [Base.Save] format. Malformed lines are skipped; their count is returned.
func (b *Base) Load(r io.Reader) (skipped int, err error) {
	var triples []Triple
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			skipped++
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			skipped++
			continue
		}
		triples = append(triples, Triple{Subject: parts[0], Predicate: parts[1], Object: parts[2], Confidence: conf})
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("knowledge: load: %w", err)
	}
	b.Replace(triples)
	return skipped, nil
}
