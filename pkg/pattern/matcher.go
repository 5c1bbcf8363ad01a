package pattern

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/MrWong99/npcmind/pkg/template"
)

// LearnedPriority is the priority assigned to categories added at runtime
// through a learn template.
const LearnedPriority = 10

// Score weights.
const (
	baseScore     = 1.0
	literalBonus  = 0.1
	wildcardMalus = 0.05
)

// Category is one pattern → template rule. Categories are immutable once
// added to a [Matcher].
type Category struct {
	// Pattern is the compiled input pattern.
	Pattern []Element

	// That optionally restricts the category to conversations whose previous
	// NPC response equals That (after normalisation, case-insensitive).
	// Empty or "*" disables the filter.
	That string

	// Topic optionally restricts the category to conversations whose current
	// topic equals Topic. Empty or "*" disables the filter.
	Topic string

	// Template is the response template rendered on a match.
	Template template.Node

	// Priority breaks score ties. Learned categories use [LearnedPriority].
	Priority int

	// Source names the file (or "learn") the category came from.
	Source string

	// Line is the line in Source the category starts on, 0 if unknown.
	Line int
}

// Result is the outcome of a [Matcher.Match] call.
type Result struct {
	// Matched is false when no category matched the input.
	Matched bool

	// Category is the winning category. Nil when Matched is false.
	Category *Category

	// Stars holds the wildcard captures in pattern order.
	Stars []string

	// Score is the specificity score in [0,1].
	Score float64

	order int
}

type entry struct {
	cat         Category
	order       int
	specificity float64
	that        string
	topic       string
}

// Matcher selects the best matching [Category] for an input. Categories are
// indexed by their leading literal word; categories that start with any
// other element are kept in an open bucket that is consulted for every
// input. All methods are safe for concurrent use.
type Matcher struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string][]int
	open    []int

	sets     map[string]map[string]struct{}
	// setWidth is the longest member, in words, of each set.
	setWidth map[string]int
	bot      map[string]string
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithSets registers word sets usable via <set> elements.
func WithSets(sets map[string][]string) Option {
	return func(m *Matcher) {
		for name, members := range sets {
			m.addSetLocked(name, members)
		}
	}
}

// WithBotProperties registers the bot property values used by <bot> elements.
func WithBotProperties(props map[string]string) Option {
	return func(m *Matcher) {
		for k, v := range props {
			m.bot[k] = v
		}
	}
}

// New returns an empty Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		index:    make(map[string][]int),
		sets:     make(map[string]map[string]struct{}),
		setWidth: make(map[string]int),
		bot:      make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Add appends cat to the matcher. Declaration order is the final tie-break.
func (m *Matcher) Add(cat Category) {
	e := &entry{
		cat:         cat,
		specificity: specificity(cat.Pattern),
		that:        filterKey(cat.That),
		topic:       filterKey(cat.Topic),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e.order = len(m.entries)
	m.entries = append(m.entries, e)
	if len(cat.Pattern) > 0 && cat.Pattern[0].Kind == Word {
		m.index[cat.Pattern[0].Value] = append(m.index[cat.Pattern[0].Value], e.order)
		return
	}
	m.open = append(m.open, e.order)
}

// AddSet registers (or replaces) a named word set. Members may contain
// several words.
func (m *Matcher) AddSet(name string, members []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addSetLocked(name, members)
}

func (m *Matcher) addSetLocked(name string, members []string) {
	name = strings.ToLower(name)
	set := make(map[string]struct{}, len(members))
	width := 0
	for _, mem := range members {
		words := strings.Fields(fold(Normalize(mem)))
		if len(words) == 0 {
			continue
		}
		set[strings.Join(words, " ")] = struct{}{}
		width = max(width, len(words))
	}
	m.sets[name] = set
	m.setWidth[name] = width
}

// SetBotProperty sets the value matched by <bot name="key"/>.
func (m *Matcher) SetBotProperty(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bot[key] = value
}

// BotProperty returns the value of a bot property.
func (m *Matcher) BotProperty(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bot[key]
	return v, ok
}

// Len returns the number of categories.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Categories returns a copy of all categories in declaration order.
func (m *Matcher) Categories() []Category {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Category, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.cat
	}
	return out
}

// Clear removes all categories. Sets and bot properties are kept.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.index = make(map[string][]int)
	m.open = nil
}

// Match returns the best category for input given the previous NPC response
// (that) and the current topic. Input is normalised with [Normalize] before
// tokenisation.
func (m *Matcher) Match(input, that, topic string) Result {
	raw := strings.Fields(Normalize(input))
	folded := foldAll(raw)
	thatKey := filterKey(that)
	topicKey := filterKey(topic)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best Result
	for _, idx := range m.candidatesLocked(folded) {
		e := m.entries[idx]
		if e.that != "" && e.that != thatKey {
			continue
		}
		if e.topic != "" && e.topic != topicKey {
			continue
		}
		stars, ok := m.matchLocked(e.cat.Pattern, raw, folded)
		if !ok {
			continue
		}
		if best.Matched && !better(e, best) {
			continue
		}
		best = Result{
			Matched:  true,
			Category: &e.cat,
			Stars:    stars,
			Score:    clampScore(e.specificity),
			order:    e.order,
		}
	}
	return best
}

// better reports whether e outranks the current best result. Scores are
// compared after clamping, so most literal patterns tie and fall through to
// priority and declaration order.
func better(e *entry, best Result) bool {
	if score := clampScore(e.specificity); score != best.Score {
		return score > best.Score
	}
	if e.cat.Priority != best.Category.Priority {
		return e.cat.Priority > best.Category.Priority
	}
	return e.order < best.order
}

// FindAllMatches returns every category whose pattern matches input with a
// score of at least minConfidence, best first. That and topic filters are
// not applied.
func (m *Matcher) FindAllMatches(input string, minConfidence float64) []Result {
	raw := strings.Fields(Normalize(input))
	folded := foldAll(raw)

	m.mu.RLock()
	var results []Result
	for _, idx := range m.candidatesLocked(folded) {
		e := m.entries[idx]
		score := clampScore(e.specificity)
		if score < minConfidence {
			continue
		}
		stars, ok := m.matchLocked(e.cat.Pattern, raw, folded)
		if !ok {
			continue
		}
		results = append(results, Result{
			Matched:  true,
			Category: &e.cat,
			Stars:    stars,
			Score:    score,
			order:    e.order,
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Category.Priority > results[j].Category.Priority
	})
	return results
}

// candidatesLocked returns entry indexes worth trying for the folded tokens
// in declaration order.
func (m *Matcher) candidatesLocked(folded []string) []int {
	var keyed []int
	if len(folded) > 0 {
		keyed = m.index[folded[0]]
	}
	if len(keyed) == 0 {
		return m.open
	}
	if len(m.open) == 0 {
		return keyed
	}
	merged := make([]int, 0, len(keyed)+len(m.open))
	merged = append(merged, keyed...)
	merged = append(merged, m.open...)
	slices.Sort(merged)
	return merged
}

// matchLocked matches pattern against the token streams. raw carries the
// original spelling used for captures; folded is used for comparison.
func (m *Matcher) matchLocked(pat []Element, raw, folded []string) ([]string, bool) {
	var stars []string
	if !m.walk(pat, raw, folded, 0, 0, &stars) {
		return nil, false
	}
	return stars, true
}

func (m *Matcher) walk(pat []Element, raw, folded []string, pi, ti int, stars *[]string) bool {
	if pi == len(pat) {
		return ti == len(folded)
	}
	el := pat[pi]
	remaining := len(folded) - ti

	switch el.Kind {
	case Word:
		if remaining == 0 || folded[ti] != el.Value {
			return false
		}
		return m.walk(pat, raw, folded, pi+1, ti+1, stars)

	case Bot:
		words := strings.Fields(fold(Normalize(m.bot[el.Value])))
		if len(words) == 0 || len(words) > remaining || !slices.Equal(words, folded[ti:ti+len(words)]) {
			return false
		}
		return m.walk(pat, raw, folded, pi+1, ti+len(words), stars)

	case WildcardOne:
		return m.capture(pat, raw, folded, pi, ti, 1, stars)

	case Set:
		set := m.sets[el.Value]
		for n := min(m.setWidth[el.Value], remaining); n >= 1; n-- {
			if _, ok := set[strings.Join(folded[ti:ti+n], " ")]; !ok {
				continue
			}
			if m.capture(pat, raw, folded, pi, ti, n, stars) {
				return true
			}
		}
		return false

	default: // Wildcard, WildcardZero
		minLen := 1
		if el.Kind == WildcardZero {
			minLen = 0
		}
		// A trailing wildcard takes everything that is left.
		if pi == len(pat)-1 {
			if remaining < minLen {
				return false
			}
			return m.capture(pat, raw, folded, pi, ti, remaining, stars)
		}
		// Otherwise try the shortest span first so the capture stops at the
		// next occurrence of whatever follows.
		for n := minLen; n <= remaining; n++ {
			if m.capture(pat, raw, folded, pi, ti, n, stars) {
				return true
			}
		}
		return false
	}
}

// capture records raw[ti:ti+n] as the next star and continues matching.
// The capture is rolled back when the rest of the pattern fails.
func (m *Matcher) capture(pat []Element, raw, folded []string, pi, ti, n int, stars *[]string) bool {
	if ti+n > len(folded) {
		return false
	}
	*stars = append(*stars, strings.Join(raw[ti:ti+n], " "))
	if m.walk(pat, raw, folded, pi+1, ti+n, stars) {
		return true
	}
	*stars = (*stars)[:len(*stars)-1]
	return false
}

// Score returns the clamped specificity score of a compiled pattern.
func Score(pat []Element) float64 {
	return clampScore(specificity(pat))
}

func specificity(pat []Element) float64 {
	var literals, wildcards int
	for _, e := range pat {
		if e.isWildcard() {
			wildcards++
		} else {
			literals++
		}
	}
	return baseScore + literalBonus*float64(literals) - wildcardMalus*float64(wildcards)
}

func clampScore(s float64) float64 {
	return min(max(s, 0), 1)
}

// filterKey canonicalises a that/topic value for equality comparison. A
// lone "*" is punctuation and therefore normalises to the empty filter.
func filterKey(s string) string {
	return strings.Join(strings.Fields(fold(Normalize(s))), " ")
}

// fold returns the case-folded form of s. A Caser keeps state between calls
// so a fresh one is used per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func foldAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = fold(t)
	}
	return out
}
