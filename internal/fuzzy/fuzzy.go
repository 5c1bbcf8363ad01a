// Package fuzzy matches names the way players and language models misspell
// them. "Brittain" should still find "Britain" and "Lord Britsh" should
// still find "Lord British".
//
// Matching runs in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for every word
//     of the input and of each known name. A name whose codes overlap the
//     input's is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the most similar name
//     wins if it clears the phonetic threshold. Without any phonetic
//     candidate, pure Jaro-Winkler similarity is tried against every name
//     with the stricter fuzzy threshold.
//
// Multi-word names ("Tower of Whispers") compare word by word, as whole
// strings and with spaces removed; the best of these scores counts.
package fuzzy

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching name. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a name without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher finds the known name closest to a word or phrase. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the entry of names that best matches word. When nothing
// clears the thresholds it returns word unchanged, 0 and false. An exact
// case-insensitive match always wins with score 1.
func (m *Matcher) Match(word string, names []string) (name string, score float64, ok bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if len(names) == 0 || wordLower == "" {
		return word, 0, false
	}
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		nameLower := strings.ToLower(strings.TrimSpace(n))
		if nameLower == "" {
			continue
		}
		if nameLower == wordLower {
			return n, 1, true
		}
		nameTokens := strings.Fields(nameLower)
		jw := bestJWScore(wordTokens, nameTokens, wordLower, nameLower)

		switch {
		case codesOverlap(inputCodes, codesForTokens(nameTokens)):
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = n, jw, true
			}
		case !bestPhonetic:
			if jw >= m.fuzzyThreshold && jw > bestScore {
				best, bestScore = n, jw
			}
		}
	}
	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// SameName reports whether a and b are the same name up to case, or sound
// alike and are spelled alike closely enough to be a misspelling.
func (m *Matcher) SameName(a, b string) bool {
	_, _, ok := m.Match(a, []string{b})
	return ok
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity of the full strings,
// the strings without spaces, and any pair of tokens.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false)
		score = max(score, joined)
	}

	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			score = max(score, matchr.JaroWinkler(it, nt, false))
		}
	}
	return score
}
