// Package template parses and evaluates category response templates.
//
// Templates are XML fragments. Parse turns a fragment into a tree built
// from a closed set of node types; an [Evaluator] walks the tree
// depth-first, left to right, against the wildcard captures of a match and
// a conversation [State]. Tags that are not part of the built-in set become
// [Custom] nodes and are rendered by handlers registered with
// [WithTagHandler].
package template

import "strings"

// Node is a template tree node. The set of implementations is closed; host
// extensions go through [Custom].
type Node interface {
	node()
}

// List is an ordered sequence of nodes rendered by concatenation.
type List []Node

// Text is literal output.
type Text struct {
	Value string
}

// Star renders the Index-th (1-based) wildcard capture.
type Star struct {
	Index int
}

// Get renders a conversation predicate.
type Get struct {
	Name string
}

// Set stores its rendered body in a predicate and renders the stored value.
type Set struct {
	Name string
	Body List
}

// Think renders its body for side effects only.
type Think struct {
	Body List
}

// Random renders one item chosen uniformly at random.
type Random struct {
	Items []List
}

// Branch is one <li> of a [Condition].
type Branch struct {
	// Name overrides the condition's predicate for this branch when set.
	Name string
	// Value is compared against the predicate. "*" matches any non-empty value.
	Value string
	Body  List
}

// Condition renders the first branch whose value matches the predicate
// Name, else Default when present, else nothing.
type Condition struct {
	Name       string
	Branches   []Branch
	Default    List
	HasDefault bool
}

// Srai re-submits its rendered body as a new input and renders the reply.
type Srai struct {
	Body List
}

// Learn adds a category at runtime. Pattern, That and Topic are rendered at
// learn time; Template is stored with its [Eval] nodes resolved.
type Learn struct {
	Pattern  List
	That     List
	Topic    List
	Template List
}

// Eval marks a part of a learned template that is rendered when the learn
// node runs rather than when the learned category later matches.
type Eval struct {
	Body List
}

// Date renders the current time. Format uses strftime verbs; empty means
// the classic ctime layout.
type Date struct {
	Format string
}

// Bot renders a bot property.
type Bot struct {
	Name string
}

// Input renders the Index-th most recent player input (1 = current).
type Input struct {
	Index int
}

// That renders the Index-th most recent NPC response (1 = previous).
type That struct {
	Index int
}

// Topic renders the conversation topic.
type Topic struct{}

// System passes its rendered body to the configured system handler.
type System struct {
	Body List
}

// Custom is any tag without built-in semantics.
type Custom struct {
	Tag   string
	Attrs map[string]string
	Body  List
}

func (List) node()      {}
func (Text) node()      {}
func (Star) node()      {}
func (Get) node()       {}
func (Set) node()       {}
func (Think) node()     {}
func (Random) node()    {}
func (Condition) node() {}
func (Srai) node()      {}
func (Learn) node()     {}
func (Eval) node()      {}
func (Date) node()      {}
func (Bot) node()       {}
func (Input) node()     {}
func (That) node()      {}
func (Topic) node()     {}
func (System) node()    {}
func (Custom) node()    {}

// ReductionTarget reports whether tmpl consists of a single srai (ignoring
// whitespace) whose body is made of text and star references, and returns
// that body in pattern form with each star rendered as "*". It is used to
// reject self-reducing learned categories.
func ReductionTarget(tmpl Node) (string, bool) {
	var srai *Srai
	switch n := tmpl.(type) {
	case Srai:
		srai = &n
	case List:
		for _, c := range n {
			switch cn := c.(type) {
			case Text:
				if strings.TrimSpace(cn.Value) != "" {
					return "", false
				}
			case Srai:
				if srai != nil {
					return "", false
				}
				srai = &cn
			default:
				return "", false
			}
		}
	}
	if srai == nil {
		return "", false
	}
	var b strings.Builder
	for _, c := range srai.Body {
		switch cn := c.(type) {
		case Text:
			b.WriteString(cn.Value)
		case Star:
			b.WriteString(" * ")
		default:
			return "", false
		}
	}
	return strings.Join(strings.Fields(b.String()), " "), true
}
