package dialogue

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/npcmind/internal/fuzzy"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// ErrInconsistent is wrapped by every problem [Validator.Validate] reports.
var ErrInconsistent = errors.New("inconsistent response")

// Reasoner predicates describing an NPC. They are functional: an NPC has
// one of each, so claiming a different value is a contradiction.
const (
	PredOccupation = "occupation"
	PredLocation   = "location"
	PredName       = "name"
)

// FunctionalPredicates lists the predicates a reasoner used with a
// [Validator] should mark with [reasoning.WithFunctional].
var FunctionalPredicates = []string{PredOccupation, PredLocation, PredName}

// minSecretLen keeps very short secrets from matching everyday words.
const minSecretLen = 4

var (
	identityRE   = regexp.MustCompile(`\b(?:I am|I'm|my name is|My name is) ([A-Z][a-z]+)\b`)
	occupationRE = regexp.MustCompile(`\bi(?: am|'m) (?:a|an) ([a-z]+)\b`)
	locationRE   = regexp.MustCompile(`\b(?:I am|I'm) (?:in|at) (?:the )?([A-Z][\w']*(?: [A-Z][\w']*)*)|\bI live in (?:the )?([A-Z][\w']*(?: [A-Z][\w']*)*)`)
	negationRE   = regexp.MustCompile(`\bi (?:don't|do not) ([a-z]+) ([a-z]+)\b`)
)

// commonOccupations are occupation words recognised in "I am a ..." claims
// even when no NPC holds them. Other words only count when some NPC's
// occupation fact uses them, so "I am a bit tired" is not a claim.
var commonOccupations = setOf(
	"merchant", "blacksmith", "smith", "guard", "farmer", "innkeeper",
	"healer", "priest", "priestess", "mage", "wizard", "witch", "knight",
	"bard", "thief", "hunter", "fisherman", "sailor", "soldier", "baker",
	"alchemist", "scholar", "miner", "shopkeeper", "tavernkeeper", "noble",
	"ranger", "paladin", "cook", "carpenter", "weaver", "tailor",
	"herbalist", "monk", "jester", "beggar", "shepherd", "armourer",
)

// Validator checks a response against what is known about the speaking NPC:
// its name and occupation, the reasoner's facts about it, its secrets and
// the roster of other known characters.
//
// It is safe for concurrent use.
type Validator struct {
	reasoner *reasoning.Reasoner
	fuzzy    *fuzzy.Matcher

	mu    sync.RWMutex
	known []string
}

// NewValidator returns a validator consulting r. A nil r skips the fact
// checks; a nil m uses the default [fuzzy.Matcher].
func NewValidator(r *reasoning.Reasoner, m *fuzzy.Matcher) *Validator {
	if m == nil {
		m = fuzzy.New()
	}
	return &Validator{reasoner: r, fuzzy: m}
}

// AddKnownEntity adds a character name to the roster used to detect an NPC
// claiming to be someone else.
func (v *Validator) AddKnownEntity(name string) {
	if name == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !slices.Contains(v.known, name) {
		v.known = append(v.known, name)
	}
}

// Subject is the reasoner constant that stands for npc.
func Subject(npc NPCContext) string {
	if npc.ID != "" {
		return npc.ID
	}
	return strings.ToLower(npc.Name)
}

// SeedFacts asserts npc's name, occupation and location in r, lowercased,
// under [Subject].
func SeedFacts(r *reasoning.Reasoner, npc NPCContext) {
	subj := Subject(npc)
	for pred, val := range map[string]string{
		PredName:       npc.Name,
		PredOccupation: npc.Occupation,
		PredLocation:   npc.Location,
	} {
		if val != "" {
			r.AddFact(pred, []string{subj, strings.ToLower(val)}, 1)
		}
	}
}

// Validate returns nil when text is consistent with npc. Otherwise the
// error joins one error per problem, each wrapping [ErrInconsistent].
func (v *Validator) Validate(text string, npc NPCContext) error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInconsistent}, args...)...))
	}
	lower := strings.ToLower(text)
	name := strings.ToLower(npc.Name)

	if strings.Contains(strings.ToLower(npc.Occupation), "merchant") &&
		(strings.Contains(lower, "don't sell") || strings.Contains(lower, "not a merchant")) {
		problem("a %s denies trading", npc.Occupation)
	}
	if name != "" && strings.Contains(lower, "my name is") && !strings.Contains(lower, name) {
		problem("gives a name other than %s", npc.Name)
	}
	if other, ok := v.impersonates(text, npc); ok {
		problem("%s claims to be %s", npc.Name, other)
	}
	for _, s := range npc.Secrets {
		if len(s) >= minSecretLen && strings.Contains(lower, strings.ToLower(s)) {
			problem("reveals a secret")
			break
		}
	}
	if v.reasoner != nil {
		for _, msg := range v.factProblems(text, lower, Subject(npc)) {
			problem("%s", msg)
		}
	}
	return errors.Join(errs...)
}

// impersonates reports the name of another known character that text has
// npc claim to be.
func (v *Validator) impersonates(text string, npc NPCContext) (string, bool) {
	v.mu.RLock()
	known := slices.Clone(v.known)
	v.mu.RUnlock()
	if len(known) == 0 {
		return "", false
	}
	for _, m := range identityRE.FindAllStringSubmatch(text, -1) {
		claimed := m[1]
		if npc.Name != "" && v.fuzzy.SameName(claimed, npc.Name) {
			continue
		}
		if other, _, ok := v.fuzzy.Match(claimed, known); ok && !strings.EqualFold(other, npc.Name) {
			return other, true
		}
	}
	return "", false
}

// factProblems checks the claims text makes about subj against the
// reasoner.
func (v *Validator) factProblems(text, lower, subj string) []string {
	var out []string
	check := func(pred, value string) {
		// "the Blue Boar" and "blue boar tavern" name the same place.
		for _, f := range v.reasoner.Query(pred, subj, "*") {
			if f.Value.IsTrue(reasoning.DefaultThreshold) &&
				(strings.Contains(f.Args[1], value) || strings.Contains(value, f.Args[1])) {
				return
			}
		}
		if f, bad := v.reasoner.Contradicts(pred, []string{subj, value}); bad {
			out = append(out, fmt.Sprintf("claims %s(%s) but %s", pred, value, f))
		}
	}

	for _, m := range occupationRE.FindAllStringSubmatch(lower, -1) {
		if v.isOccupation(m[1]) {
			check(PredOccupation, m[1])
		}
	}
	for _, m := range locationRE.FindAllStringSubmatch(text, -1) {
		place := m[1]
		if place == "" {
			place = m[2]
		}
		check(PredLocation, strings.ToLower(place))
	}
	for _, m := range negationRE.FindAllStringSubmatch(lower, -1) {
		// "I don't sell bread" denies both sell(x, bread) and sells(x, bread).
		for _, pred := range []string{m[1], m[1] + "s"} {
			if val, ok := v.reasoner.QueryFact(pred, []string{subj, m[2]}); ok && val.IsTrue(reasoning.DefaultThreshold) {
				out = append(out, fmt.Sprintf("denies %s(%s, %s)", pred, subj, m[2]))
				break
			}
		}
	}
	return out
}

func (v *Validator) isOccupation(word string) bool {
	if _, ok := commonOccupations[word]; ok {
		return true
	}
	return len(v.reasoner.Query(PredOccupation, "*", word)) > 0
}

// Problems lists the messages of the problems in an error returned by
// [Validator.Validate].
func Problems(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
