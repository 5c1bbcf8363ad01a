// Package pattern implements the category pattern language and the matcher
// that selects the best category for a normalised player utterance.
//
// A pattern is a whitespace separated sequence of elements:
//
//	HELLO          literal word, compared case-insensitively
//	*              one or more words (captured)
//	^              zero or more words (captured, may be empty)
//	_              exactly one word (captured)
//	<set>name</set> any member of the named word set (captured)
//	<bot name="x"/> the current value of bot property x
//
// Matching is deterministic: the highest scoring category wins, then the
// higher priority, then the earlier declaration.
package pattern

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind identifies the type of a pattern [Element].
type Kind int

const (
	// Word is a literal token.
	Word Kind = iota
	// Wildcard matches one or more tokens.
	Wildcard
	// WildcardZero matches zero or more tokens.
	WildcardZero
	// WildcardOne matches exactly one token.
	WildcardOne
	// Set matches any member of a named word set.
	Set
	// Bot matches the value of a bot property.
	Bot
)

// String returns the pattern-language spelling of k.
func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case Wildcard:
		return "*"
	case WildcardZero:
		return "^"
	case WildcardOne:
		return "_"
	case Set:
		return "set"
	case Bot:
		return "bot"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Element is a single compiled pattern element. For [Word] elements Value
// holds the case-folded literal; for [Set] and [Bot] it holds the set or
// property name.
type Element struct {
	Kind  Kind
	Value string
}

// isWildcard reports whether e is one of the three wildcard kinds.
func (e Element) isWildcard() bool {
	return e.Kind == Wildcard || e.Kind == WildcardZero || e.Kind == WildcardOne
}

// ErrInvalidPattern is returned by [Parse] for malformed pattern text.
var ErrInvalidPattern = errors.New("pattern: invalid pattern")

// Parse compiles pattern text into its element sequence. The empty pattern
// compiles to an empty sequence, which only matches empty input.
func Parse(text string) ([]Element, error) {
	var elems []Element
	rest := strings.TrimSpace(text)
	for rest != "" {
		if rest[0] == '<' {
			el, n, err := parseTag(rest)
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)
			rest = strings.TrimLeftFunc(rest[n:], unicode.IsSpace)
			continue
		}
		end := strings.IndexFunc(rest, func(r rune) bool { return unicode.IsSpace(r) || r == '<' })
		if end < 0 {
			end = len(rest)
		}
		if el, ok := wordElement(rest[:end]); ok {
			elems = append(elems, el)
		}
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
	}
	return elems, nil
}

// MustParse is like [Parse] but panics on error. Intended for tests and
// package-level pattern tables.
func MustParse(text string) []Element {
	elems, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return elems
}

func wordElement(tok string) (Element, bool) {
	switch tok {
	case "*":
		return Element{Kind: Wildcard}, true
	case "^":
		return Element{Kind: WildcardZero}, true
	case "_":
		return Element{Kind: WildcardOne}, true
	}
	w := fold(Normalize(tok))
	if w == "" {
		return Element{}, false
	}
	return Element{Kind: Word, Value: w}, true
}

// parseTag parses a <set>…</set>, <set name="…"/> or <bot name="…"/> tag at
// the start of s and returns the element and the number of bytes consumed.
func parseTag(s string) (Element, int, error) {
	closeIdx := strings.IndexByte(s, '>')
	if closeIdx < 0 {
		return Element{}, 0, fmt.Errorf("%w: unterminated tag in %q", ErrInvalidPattern, s)
	}
	inner := strings.TrimSpace(s[1:closeIdx])
	selfClosing := strings.HasSuffix(inner, "/")
	inner = strings.TrimSpace(strings.TrimSuffix(inner, "/"))

	tag, attrs, _ := strings.Cut(inner, " ")
	tag = strings.ToLower(tag)
	name := attrValue(attrs, "name")

	switch tag {
	case "bot":
		if name == "" {
			return Element{}, 0, fmt.Errorf("%w: <bot> without name", ErrInvalidPattern)
		}
		if !selfClosing {
			end := strings.Index(s, "</bot>")
			if end < 0 {
				return Element{}, 0, fmt.Errorf("%w: unterminated <bot>", ErrInvalidPattern)
			}
			return Element{Kind: Bot, Value: name}, end + len("</bot>"), nil
		}
		return Element{Kind: Bot, Value: name}, closeIdx + 1, nil
	case "set":
		if selfClosing {
			if name == "" {
				return Element{}, 0, fmt.Errorf("%w: <set/> without name", ErrInvalidPattern)
			}
			return Element{Kind: Set, Value: strings.ToLower(name)}, closeIdx + 1, nil
		}
		end := strings.Index(s, "</set>")
		if end < 0 {
			return Element{}, 0, fmt.Errorf("%w: unterminated <set>", ErrInvalidPattern)
		}
		if name == "" {
			name = strings.TrimSpace(s[closeIdx+1 : end])
		}
		if name == "" {
			return Element{}, 0, fmt.Errorf("%w: empty <set>", ErrInvalidPattern)
		}
		return Element{Kind: Set, Value: strings.ToLower(name)}, end + len("</set>"), nil
	default:
		return Element{}, 0, fmt.Errorf("%w: unsupported tag <%s>", ErrInvalidPattern, tag)
	}
}

// attrValue extracts key="value" (or key='value') from an attribute list.
func attrValue(attrs, key string) string {
	for _, q := range []string{`"`, `'`} {
		prefix := key + "=" + q
		i := strings.Index(attrs, prefix)
		if i < 0 {
			continue
		}
		rest := attrs[i+len(prefix):]
		if j := strings.Index(rest, q); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

// Format renders elems back into pattern text. Words are rendered upper case.
func Format(elems []Element) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		switch e.Kind {
		case Word:
			parts = append(parts, strings.ToUpper(e.Value))
		case Set:
			parts = append(parts, "<set>"+e.Value+"</set>")
		case Bot:
			parts = append(parts, `<bot name="`+e.Value+`"/>`)
		default:
			parts = append(parts, e.Kind.String())
		}
	}
	return strings.Join(parts, " ")
}

// Normalize strips punctuation other than apostrophes, collapses runs of
// whitespace and trims the result. Case is preserved so that wildcard
// captures keep the player's spelling.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	space := false
	for _, r := range input {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) && r != '\'', unicode.IsSymbol(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
