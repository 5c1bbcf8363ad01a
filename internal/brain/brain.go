// Package brain is the pattern-driven response engine. It owns a
// [pattern.Matcher] of categories, a [template.Evaluator] that renders
// their templates, a [knowledge.Base] of NPC facts, and the per-conversation
// [Session] state the templates read and write.
//
// A reply is produced in three steps: the input is normalised and matched
// against the categories (filtered by the session's previous response and
// topic), the winning template is rendered against the session, and the
// input and reply are appended to the session history. Templates may
// re-submit text through <srai>; the recursion is bounded by
// [DefaultMaxReductionDepth] and fails closed to an empty string.
//
// All Engine methods are safe for concurrent use. A single Session must not
// be used by two replies at the same time; the methods serialise on the
// session.
package brain

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/npcmind/internal/personality"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/pattern"
	"github.com/MrWong99/npcmind/pkg/template"
)

const (
	// DefaultMaxReductionDepth bounds nested <srai> evaluation.
	DefaultMaxReductionDepth = 10

	// DefaultNoMatchResponse is returned when no category matches.
	DefaultNoMatchResponse = "I don't understand."

	// DefaultHistoryLimit is the number of inputs and responses a session
	// keeps.
	DefaultHistoryLimit = 100

	// LearnSource is the [pattern.Category.Source] of learned categories.
	LearnSource = "learn"
)

// ErrSelfReduction is returned by [Engine.Learn] for a category whose
// template reduces straight back to its own pattern.
var ErrSelfReduction = errors.New("brain: learned category reduces to itself")

// Engine renders NPC replies from pattern categories.
type Engine struct {
	matcher  *pattern.Matcher
	eval     *template.Evaluator
	kb       *knowledge.Base
	stylizer *personality.Stylizer

	maxDepth     int
	noMatch      string
	historyLimit int
	now          func() time.Time

	matcherOpts []pattern.Option
	evalOpts    []template.Option
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMaxReductionDepth sets the <srai> recursion bound. Values below 1 are
// ignored.
func WithMaxReductionDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithNoMatchResponse sets the reply used when nothing matches.
func WithNoMatchResponse(s string) Option {
	return func(e *Engine) { e.noMatch = s }
}

// WithHistoryLimit sets how many inputs and responses each session keeps.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithKnowledgeBase sets the fact store shared with templates and the
// dialogue layer. A fresh [knowledge.Base] is used otherwise.
func WithKnowledgeBase(kb *knowledge.Base) Option {
	return func(e *Engine) { e.kb = kb }
}

// WithStylizer sets the personality stylizer used by
// [Engine.RespondWithPersonality].
func WithStylizer(s *personality.Stylizer) Option {
	return func(e *Engine) { e.stylizer = s }
}

// WithClock sets the time source for session timestamps and <date>.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMatcherOptions forwards options to the underlying [pattern.Matcher].
func WithMatcherOptions(opts ...pattern.Option) Option {
	return func(e *Engine) { e.matcherOpts = append(e.matcherOpts, opts...) }
}

// WithEvaluatorOptions forwards options to the underlying
// [template.Evaluator]. They are applied after the engine's own, so they
// can replace built-in tag handlers.
func WithEvaluatorOptions(opts ...template.Option) Option {
	return func(e *Engine) { e.evalOpts = append(e.evalOpts, opts...) }
}

// New returns an Engine with no categories.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxDepth:     DefaultMaxReductionDepth,
		noMatch:      DefaultNoMatchResponse,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.kb == nil {
		e.kb = knowledge.New()
	}
	if e.stylizer == nil {
		e.stylizer = personality.NewStylizer(nil)
	}
	e.matcher = pattern.New(e.matcherOpts...)

	evalOpts := []template.Option{
		template.WithClock(e.now),
		template.WithBotLookup(func(name string) string {
			v, _ := e.matcher.BotProperty(name)
			return v
		}),
		template.WithLearnErrorHandler(func(err error) {
			slog.Warn("brain: learn rejected", "err", err)
		}),
	}
	for tag, h := range builtinTags(e) {
		evalOpts = append(evalOpts, template.WithTagHandler(tag, h))
	}
	e.eval = template.NewEvaluator(append(evalOpts, e.evalOpts...)...)
	return e
}

// Matcher returns the engine's category matcher.
func (e *Engine) Matcher() *pattern.Matcher { return e.matcher }

// Knowledge returns the engine's fact store.
func (e *Engine) Knowledge() *knowledge.Base { return e.kb }

// RegisterTag adds a handler for a custom template tag.
func (e *Engine) RegisterTag(tag string, h template.TagHandler) {
	e.eval.RegisterTag(tag, h)
}

// SetBotProperty sets a property readable through <bot name="..."/> in
// patterns and templates.
func (e *Engine) SetBotProperty(key, value string) {
	e.matcher.SetBotProperty(key, value)
}

// AddSet registers a word set for <set> pattern elements.
func (e *Engine) AddSet(name string, members []string) {
	e.matcher.AddSet(name, members)
}

// Len returns the number of loaded categories.
func (e *Engine) Len() int { return e.matcher.Len() }

// AddCategory compiles and adds one category. Pattern and template use the
// same markup as category files.
func (e *Engine) AddCategory(patternText, that, topic, templateMarkup string, priority int, source string) error {
	cat, err := compileCategory(patternText, that, topic, templateMarkup, priority, source)
	if err != nil {
		return err
	}
	e.matcher.Add(cat)
	return nil
}

func compileCategory(patternText, that, topic, templateMarkup string, priority int, source string) (pattern.Category, error) {
	pat, err := pattern.Parse(patternText)
	if err != nil {
		return pattern.Category{}, err
	}
	if len(pat) == 0 {
		return pattern.Category{}, fmt.Errorf("%w: empty pattern", pattern.ErrInvalidPattern)
	}
	tmpl, err := template.Parse(templateMarkup)
	if err != nil {
		return pattern.Category{}, err
	}
	return pattern.Category{
		Pattern:  pat,
		That:     strings.TrimSpace(that),
		Topic:    strings.TrimSpace(topic),
		Template: tmpl,
		Priority: priority,
		Source:   source,
	}, nil
}

// Learn adds a category at runtime with [pattern.LearnedPriority]. A
// template that is nothing but a reduction to its own pattern is rejected
// with [ErrSelfReduction].
func (e *Engine) Learn(patternText, that, topic string, tmpl template.List) error {
	pat, err := pattern.Parse(patternText)
	if err != nil {
		return fmt.Errorf("brain: learn %q: %w", patternText, err)
	}
	if len(pat) == 0 {
		return fmt.Errorf("brain: learn: %w: empty pattern", pattern.ErrInvalidPattern)
	}
	if target, ok := template.ReductionTarget(tmpl); ok {
		if tp, err := pattern.Parse(target); err == nil && slices.Equal(tp, pat) {
			return fmt.Errorf("%w: %q", ErrSelfReduction, patternText)
		}
	}
	e.matcher.Add(pattern.Category{
		Pattern:  pat,
		That:     strings.TrimSpace(that),
		Topic:    strings.TrimSpace(topic),
		Template: tmpl,
		Priority: pattern.LearnedPriority,
		Source:   LearnSource,
	})
	return nil
}

// Reply is the outcome of [Engine.Reply].
type Reply struct {
	// Text is the rendered response, or the no-match response.
	Text string
	// Matched reports whether a category matched.
	Matched bool
	// Score is the specificity score of the winning category, 0 without a
	// match.
	Score float64
	// Stars holds the wildcard captures of the match.
	Stars []string
	// Source names where the winning category came from.
	Source string
	// Volatile reports that rendering read or changed session state, so the
	// same input may produce a different reply next time.
	Volatile bool
}

// Reply matches input against the categories, renders the winning template
// against s and records the exchange in s.
func (e *Engine) Reply(input string, s *Session) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := pattern.Normalize(input)
	s.pushInputLocked(normalized, e.historyLimit)
	s.lastActive = e.now()

	st := &state{e: e, s: s}
	res := e.matcher.Match(normalized, s.thatLocked(1), s.topicLocked())
	out := Reply{Text: e.noMatch}
	if res.Matched {
		text := tidy(e.eval.Process(res.Category.Template, res.Stars, st))
		out = Reply{
			Text:     text,
			Matched:  true,
			Score:    res.Score,
			Stars:    res.Stars,
			Source:   res.Category.Source,
			Volatile: st.volatile || filtered(res.Category.That) || filtered(res.Category.Topic),
		}
	}
	s.pushResponseLocked(out.Text, e.historyLimit)
	return out
}

// Respond is [Engine.Reply] returning only the text.
func (e *Engine) Respond(input string, s *Session) string {
	return e.Reply(input, s).Text
}

// RespondWithPersonality replies and then applies the warmth and formality
// styling for traits.
func (e *Engine) RespondWithPersonality(input string, s *Session, traits personality.Traits) string {
	return e.stylizer.Apply(e.Respond(input, s), traits)
}

// reduce renders the reply to text without touching the session history.
func (e *Engine) reduce(text string, st *state) string {
	normalized := pattern.Normalize(text)
	res := e.matcher.Match(normalized, st.s.thatLocked(1), st.s.topicLocked())
	if !res.Matched {
		return e.noMatch
	}
	return tidy(e.eval.Process(res.Category.Template, res.Stars, st))
}

// filtered reports whether a that or topic filter is active.
func filtered(f string) bool { return f != "" && f != "*" }

// tidy collapses whitespace left behind by template markup.
func tidy(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// state adapts a locked Session to [template.State] for one reply.
// Any access to session state marks the reply volatile.
type state struct {
	e        *Engine
	s        *Session
	depth    int
	volatile bool
}

func (st *state) Predicate(name string) (string, bool) {
	st.volatile = true
	v, ok := st.s.predicates[name]
	return v, ok
}

func (st *state) SetPredicate(name, value string) {
	st.volatile = true
	st.s.predicates[name] = value
}

func (st *state) Input(n int) string {
	st.volatile = true
	return nth(st.s.inputs, n)
}

func (st *state) That(n int) string {
	st.volatile = true
	return st.s.thatLocked(n)
}

func (st *state) Topic() string {
	st.volatile = true
	return st.s.topicLocked()
}

func (st *state) Reduce(text string) string {
	if st.depth >= st.e.maxDepth {
		slog.Debug("brain: reduction depth exceeded", "session", st.s.id, "input", text, "depth", st.depth)
		return ""
	}
	st.depth++
	defer func() { st.depth-- }()
	return st.e.reduce(text, st)
}

func (st *state) Learn(patternText, that, topic string, tmpl template.List) error {
	st.volatile = true
	return st.e.Learn(patternText, that, topic, tmpl)
}

var _ template.State = (*state)(nil)
