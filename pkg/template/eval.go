package template

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// State is the conversation state a template is evaluated against. It is
// implemented by the owning engine's session type.
type State interface {
	// Predicate returns a conversation variable.
	Predicate(name string) (string, bool)
	// SetPredicate stores a conversation variable.
	SetPredicate(name, value string)
	// Input returns the n-th most recent player input, 1 being the current one.
	Input(n int) string
	// That returns the n-th most recent NPC response, 1 being the last one.
	That(n int) string
	// Topic returns the current conversation topic.
	Topic() string
	// Reduce re-submits text as a new top-level input and returns the reply.
	// The implementation is responsible for bounding recursion.
	Reduce(text string) string
	// Learn adds a category at runtime.
	Learn(pattern, that, topic string, tmpl List) error
}

// TagHandler renders a [Custom] node. content is the node's rendered body.
type TagHandler func(tag string, attrs map[string]string, content string, st State) string

// Evaluator renders template trees. It is safe for concurrent use as long as
// the State values passed to Process are not shared between goroutines.
type Evaluator struct {
	handlersMu sync.RWMutex
	handlers   map[string]TagHandler
	bot      func(name string) string
	system   func(cmd string) string
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	onLearnError func(err error)
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithTagHandler registers a handler for a host-specific tag.
func WithTagHandler(tag string, h TagHandler) Option {
	return func(e *Evaluator) {
		e.handlers[strings.ToLower(tag)] = h
	}
}

// WithBotLookup sets the function used to resolve <bot name="..."/>.
func WithBotLookup(fn func(name string) string) Option {
	return func(e *Evaluator) {
		e.bot = fn
	}
}

// WithSystemHandler sets the function that renders <system> bodies. Without
// one, <system> renders nothing.
func WithSystemHandler(fn func(cmd string) string) Option {
	return func(e *Evaluator) {
		e.system = fn
	}
}

// WithClock overrides the time source used by <date>.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithRand sets the random source used by <random>.
func WithRand(r *rand.Rand) Option {
	return func(e *Evaluator) {
		e.rng = r
	}
}

// WithLearnErrorHandler is called when a learn node is rejected.
func WithLearnErrorHandler(fn func(err error)) Option {
	return func(e *Evaluator) {
		e.onLearnError = fn
	}
}

// NewEvaluator returns an Evaluator with the given options applied.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		handlers: make(map[string]TagHandler),
		bot:      func(string) string { return "" },
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RegisterTag adds or replaces a tag handler after construction. It may run
// concurrently with Process.
func (e *Evaluator) RegisterTag(tag string, h TagHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[strings.ToLower(tag)] = h
}

func (e *Evaluator) handler(tag string) (TagHandler, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	h, ok := e.handlers[tag]
	return h, ok
}

// Process renders n against the wildcard captures stars and state st.
func (e *Evaluator) Process(n Node, stars []string, st State) string {
	var b strings.Builder
	e.render(&b, n, stars, st)
	return b.String()
}

func (e *Evaluator) renderList(l List, stars []string, st State) string {
	var b strings.Builder
	for _, c := range l {
		e.render(&b, c, stars, st)
	}
	return b.String()
}

func (e *Evaluator) render(b *strings.Builder, n Node, stars []string, st State) {
	switch n := n.(type) {
	case List:
		for _, c := range n {
			e.render(b, c, stars, st)
		}
	case Text:
		b.WriteString(n.Value)
	case Star:
		if n.Index >= 1 && n.Index <= len(stars) {
			b.WriteString(stars[n.Index-1])
		}
	case Get:
		v, _ := st.Predicate(n.Name)
		b.WriteString(v)
	case Set:
		v := strings.TrimSpace(e.renderList(n.Body, stars, st))
		st.SetPredicate(n.Name, v)
		b.WriteString(v)
	case Think:
		e.renderList(n.Body, stars, st)
	case Random:
		if len(n.Items) == 0 {
			return
		}
		e.render(b, n.Items[e.intN(len(n.Items))], stars, st)
	case Condition:
		e.renderCondition(b, n, stars, st)
	case Srai:
		b.WriteString(st.Reduce(e.renderList(n.Body, stars, st)))
	case Learn:
		e.learn(n, stars, st)
	case Eval:
		b.WriteString(e.renderList(n.Body, stars, st))
	case Date:
		b.WriteString(formatDate(e.now(), n.Format))
	case Bot:
		b.WriteString(e.bot(n.Name))
	case Input:
		b.WriteString(st.Input(n.Index))
	case That:
		b.WriteString(st.That(n.Index))
	case Topic:
		b.WriteString(st.Topic())
	case System:
		cmd := e.renderList(n.Body, stars, st)
		if e.system != nil {
			b.WriteString(e.system(cmd))
		}
	case Custom:
		content := e.renderList(n.Body, stars, st)
		if h, ok := e.handler(n.Tag); ok {
			b.WriteString(h(n.Tag, n.Attrs, content, st))
			return
		}
		b.WriteString(content)
	}
}

func (e *Evaluator) renderCondition(b *strings.Builder, c Condition, stars []string, st State) {
	for _, br := range c.Branches {
		name := c.Name
		if br.Name != "" {
			name = br.Name
		}
		v, _ := st.Predicate(name)
		if valueMatches(v, br.Value) {
			e.render(b, br.Body, stars, st)
			return
		}
	}
	if c.HasDefault {
		e.render(b, c.Default, stars, st)
	}
}

func valueMatches(stored, want string) bool {
	stored = strings.TrimSpace(stored)
	want = strings.TrimSpace(want)
	if want == "*" {
		return stored != ""
	}
	return strings.EqualFold(stored, want)
}

func (e *Evaluator) learn(l Learn, stars []string, st State) {
	pat := strings.TrimSpace(e.renderList(l.Pattern, stars, st))
	that := strings.TrimSpace(e.renderList(l.That, stars, st))
	topic := strings.TrimSpace(e.renderList(l.Topic, stars, st))
	tmpl := e.resolveEval(l.Template, stars, st)
	if err := st.Learn(pat, that, topic, tmpl); err != nil && e.onLearnError != nil {
		e.onLearnError(err)
	}
}

// resolveEval returns a copy of l with every Eval node replaced by its
// rendered text.
func (e *Evaluator) resolveEval(l List, stars []string, st State) List {
	out := make(List, 0, len(l))
	for _, n := range l {
		switch n := n.(type) {
		case Eval:
			out = appendText(out, e.renderList(n.Body, stars, st))
		case Set:
			out = append(out, Set{Name: n.Name, Body: e.resolveEval(n.Body, stars, st)})
		case Think:
			out = append(out, Think{Body: e.resolveEval(n.Body, stars, st)})
		case Srai:
			out = append(out, Srai{Body: e.resolveEval(n.Body, stars, st)})
		case List:
			out = append(out, e.resolveEval(n, stars, st))
		default:
			out = append(out, n)
		}
	}
	return out
}

func (e *Evaluator) intN(n int) int {
	if e.rng == nil {
		return rand.IntN(n)
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}

// ctimeLayout matches the C library ctime() output without the newline.
const ctimeLayout = "Mon Jan _2 15:04:05 2006"

// formatDate renders t using a strftime-style format.
func formatDate(t time.Time, format string) string {
	if format == "" {
		return t.Format(ctimeLayout)
	}
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			b.WriteString(t.Format("2006"))
		case 'y':
			b.WriteString(t.Format("06"))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case 'e':
			b.WriteString(t.Format("_2"))
		case 'H':
			b.WriteString(t.Format("15"))
		case 'I':
			b.WriteString(t.Format("03"))
		case 'M':
			b.WriteString(t.Format("04"))
		case 'S':
			b.WriteString(t.Format("05"))
		case 'p':
			b.WriteString(t.Format("PM"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case 'Z':
			b.WriteString(t.Format("MST"))
		case 'c':
			b.WriteString(t.Format(ctimeLayout))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
