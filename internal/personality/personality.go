// Package personality post-processes NPC responses so that the same line
// reads differently depending on who says it.
//
// The transforms are deliberately small string edits: punctuation swaps,
// hedges, polite suffixes, emotion stage directions and occupation flavour.
// They operate on finished response text and never consult the dialogue
// state.
package personality

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Trait names understood by the modifiers. Missing traits default to 0.5.
const (
	Openness          = "openness"
	Conscientiousness = "conscientiousness"
	Extraversion      = "extraversion"
	Agreeableness     = "agreeableness"
	Neuroticism       = "neuroticism"
	Warmth            = "warmth"
	Formality         = "formality"
	Education         = "education"
)

// Trait thresholds.
const (
	high = 0.7
	low  = 0.3
)

// Traits maps trait names to values in [0,1].
type Traits map[string]float64

// Get returns the value of trait, or 0.5 when it is not set.
func (t Traits) Get(trait string) float64 {
	if v, ok := t[trait]; ok {
		return v
	}
	return 0.5
}

// Modify applies the Big Five rules:
//   - high extraversion turns a final period into an exclamation mark;
//   - low extraversion prefixes "Well... " unless the text already hedges;
//   - high agreeableness appends a polite suffix unless the text is already
//     polite;
//   - high neuroticism appends a worried suffix.
func Modify(text string, traits Traits) string {
	if text == "" {
		return text
	}
	out := text
	if traits.Get(Extraversion) > high && strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "...") {
		out = out[:len(out)-1] + "!"
	}
	if traits.Get(Extraversion) < low && !strings.Contains(out, "I think") && !strings.HasPrefix(out, "Well...") {
		out = "Well... " + out
	}
	if traits.Get(Agreeableness) > high {
		lower := strings.ToLower(out)
		if !strings.Contains(lower, "please") && !strings.Contains(lower, "thank") {
			out += " If you don't mind, of course."
		}
	}
	if traits.Get(Neuroticism) > high {
		out += " I hope that helps..."
	}
	return out
}

// AddEmotion prefixes a stage direction for emotion. Intensities below 0.3
// are too weak to show; above 0.7 a stronger direction is used.
func AddEmotion(text, emotion string, intensity float64) string {
	if intensity < low {
		return text
	}
	strong := intensity > high
	var prefix string
	switch strings.ToLower(emotion) {
	case "joy", "happy":
		prefix = pick(strong, "*beaming* ", "*smiling* ")
	case "sadness", "sad":
		prefix = pick(strong, "*sighing deeply* ", "*looking down* ")
	case "anger", "angry":
		prefix = pick(strong, "*scowling* ", "*frowning* ")
	case "fear", "afraid":
		prefix = pick(strong, "*trembling* ", "*nervously* ")
	case "surprise", "surprised":
		prefix = "*eyes widening* "
	}
	return prefix + text
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

// AddSpeechPattern adds occupation flavour: merchants advertise, guards
// address the player formally and educated mages allude to their craft.
func AddSpeechPattern(text, occupation string, education float64) string {
	occ := strings.ToLower(occupation)
	out := text
	switch {
	case strings.Contains(occ, "merchant") || strings.Contains(occ, "trader"):
		if !strings.Contains(strings.ToLower(out), "gold") {
			out += " And remember, I always offer fair prices!"
		}
	case strings.Contains(occ, "guard") || strings.Contains(occ, "soldier"):
		out = "Citizen, " + out
	case strings.Contains(occ, "mage") || strings.Contains(occ, "wizard"):
		if education > high {
			out += " The arcane arts reveal much, you see."
		}
	}
	return out
}

var contractions = []struct{ full, short string }{
	{"I am", "I'm"},
	{"you are", "you're"},
	{"it is", "it's"},
	{"do not", "don't"},
	{"cannot", "can't"},
	{"will not", "won't"},
}

// Contract replaces common two-word forms with their contractions.
func Contract(text string) string {
	for _, c := range contractions {
		text = strings.ReplaceAll(text, c.full, c.short)
	}
	return text
}

var warmPrefixes = []string{"Indeed, ", "Of course, ", "Certainly, "}

// Stylizer applies the randomised warmth and formality rules used by the
// pattern engine. It is safe for concurrent use.
type Stylizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewStylizer returns a Stylizer drawing from rng. A nil rng uses the
// global source.
func NewStylizer(rng *rand.Rand) *Stylizer {
	return &Stylizer{rng: rng}
}

func (s *Stylizer) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Apply prefixes a friendly opener one time in three for warm characters
// (warmth above 0.7, text longer than 10 bytes) and contracts the text of
// informal ones (formality below 0.3).
func (s *Stylizer) Apply(text string, traits Traits) string {
	out := text
	if traits.Get(Warmth) > high && len(out) > 10 && s.intN(3) == 0 {
		out = warmPrefixes[s.intN(len(warmPrefixes))] + out
	}
	if traits.Get(Formality) < low {
		out = Contract(out)
	}
	return out
}
