package template

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSyntax is returned by [Parse] for malformed template markup.
var ErrSyntax = errors.New("template: syntax error")

// wrapper is the synthetic root element used to parse fragments.
const wrapper = "template"

// Parse parses template markup into a node tree. Whitespace runs in text
// are collapsed to single spaces.
func Parse(markup string) (List, error) {
	d := xml.NewDecoder(strings.NewReader("<" + wrapper + ">" + markup + "</" + wrapper + ">"))
	d.Entity = xml.HTMLEntity

	tok, err := d.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if _, ok := tok.(xml.StartElement); !ok {
		return nil, fmt.Errorf("%w: unexpected %T", ErrSyntax, tok)
	}
	body, err := parseBody(d, wrapper)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// MustParse is like [Parse] but panics on error.
func MustParse(markup string) List {
	l, err := Parse(markup)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseElement parses the children of an already consumed start element
// from d up to and including its matching end element. It lets loaders that
// stream a larger document hand template subtrees to this package.
func ParseElement(d *xml.Decoder, start xml.StartElement) (List, error) {
	return parseBody(d, start.Name.Local)
}

func parseBody(d *xml.Decoder, end string) (List, error) {
	var out List
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: missing </%s>", ErrSyntax, end)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if s := collapse(string(t)); s != "" {
				out = appendText(out, s)
			}
		case xml.StartElement:
			n, err := parseElement(d, t)
			if err != nil {
				return nil, err
			}
			if n != nil {
				out = append(out, n)
			}
		case xml.EndElement:
			if t.Name.Local != end {
				return nil, fmt.Errorf("%w: </%s> closes <%s>", ErrSyntax, t.Name.Local, end)
			}
			return out, nil
		}
	}
}

func parseElement(d *xml.Decoder, start xml.StartElement) (Node, error) {
	tag := strings.ToLower(start.Name.Local)
	attrs := attrMap(start.Attr)
	local := start.Name.Local

	switch tag {
	case "star", "input", "that":
		if _, err := parseBody(d, local); err != nil {
			return nil, err
		}
		idx := index(attrs["index"])
		switch tag {
		case "star":
			return Star{Index: idx}, nil
		case "input":
			return Input{Index: idx}, nil
		default:
			return That{Index: idx}, nil
		}

	case "get", "bot":
		body, err := parseBody(d, local)
		if err != nil {
			return nil, err
		}
		name := attrs["name"]
		if name == "" {
			name = plainText(body)
		}
		if tag == "bot" {
			return Bot{Name: name}, nil
		}
		return Get{Name: name}, nil

	case "topic":
		if _, err := parseBody(d, local); err != nil {
			return nil, err
		}
		return Topic{}, nil

	case "date":
		if _, err := parseBody(d, local); err != nil {
			return nil, err
		}
		return Date{Format: attrs["format"]}, nil

	case "sr":
		if _, err := parseBody(d, local); err != nil {
			return nil, err
		}
		return Srai{Body: List{Star{Index: 1}}}, nil

	case "set":
		body, err := parseBody(d, local)
		if err != nil {
			return nil, err
		}
		return Set{Name: attrs["name"], Body: body}, nil

	case "think", "srai", "system", "eval":
		body, err := parseBody(d, local)
		if err != nil {
			return nil, err
		}
		switch tag {
		case "think":
			return Think{Body: body}, nil
		case "srai":
			return Srai{Body: body}, nil
		case "system":
			return System{Body: body}, nil
		default:
			return Eval{Body: body}, nil
		}

	case "random":
		items, err := parseItems(d, local)
		if err != nil {
			return nil, err
		}
		r := Random{}
		for _, it := range items {
			r.Items = append(r.Items, it.body)
		}
		return r, nil

	case "condition":
		return parseCondition(d, start, attrs)

	case "learn":
		return parseLearn(d, local)
	}

	body, err := parseBody(d, local)
	if err != nil {
		return nil, err
	}
	return Custom{Tag: tag, Attrs: attrs, Body: body}, nil
}

type item struct {
	attrs map[string]string
	body  List
}

// parseItems collects the <li> children of a random or condition element.
// Text between items is ignored.
func parseItems(d *xml.Decoder, end string) ([]item, error) {
	var items []item
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: in <%s>: %v", ErrSyntax, end, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !strings.EqualFold(t.Name.Local, "li") {
				return nil, fmt.Errorf("%w: <%s> inside <%s>", ErrSyntax, t.Name.Local, end)
			}
			body, err := parseBody(d, t.Name.Local)
			if err != nil {
				return nil, err
			}
			items = append(items, item{attrs: attrMap(t.Attr), body: body})
		case xml.EndElement:
			return items, nil
		}
	}
}

func parseCondition(d *xml.Decoder, start xml.StartElement, attrs map[string]string) (Node, error) {
	c := Condition{Name: attrs["name"]}

	// <condition name="x" value="y">body</condition>
	if v, ok := attrs["value"]; ok {
		body, err := parseBody(d, start.Name.Local)
		if err != nil {
			return nil, err
		}
		c.Branches = []Branch{{Value: v, Body: body}}
		return c, nil
	}

	items, err := parseItems(d, start.Name.Local)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		v, ok := it.attrs["value"]
		if !ok {
			c.Default = it.body
			c.HasDefault = true
			continue
		}
		c.Branches = append(c.Branches, Branch{Name: it.attrs["name"], Value: v, Body: it.body})
	}
	return c, nil
}

// parseLearn parses <learn><category><pattern/><that/><topic/><template/></category></learn>.
func parseLearn(d *xml.Decoder, end string) (Node, error) {
	var l Learn
	seenCategory := false
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: in <learn>: %v", ErrSyntax, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "category":
				seenCategory = true
			case "pattern":
				if l.Pattern, err = parseBody(d, t.Name.Local); err != nil {
					return nil, err
				}
			case "that":
				if l.That, err = parseBody(d, t.Name.Local); err != nil {
					return nil, err
				}
			case "topic":
				if l.Topic, err = parseBody(d, t.Name.Local); err != nil {
					return nil, err
				}
			case "template":
				if l.Template, err = parseBody(d, t.Name.Local); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("%w: <%s> inside <learn>", ErrSyntax, t.Name.Local)
			}
		case xml.EndElement:
			if t.Name.Local == end {
				if !seenCategory || l.Pattern == nil {
					return nil, fmt.Errorf("%w: <learn> without category pattern", ErrSyntax)
				}
				return l, nil
			}
		}
	}
}

func attrMap(attrs []xml.Attr) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[strings.ToLower(a.Name.Local)] = a.Value
	}
	return m
}

// index parses a 1-based index attribute. AIML allows "n,m" for that; only
// the first component is used.
func index(s string) int {
	s, _, _ = strings.Cut(s, ",")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// collapse replaces whitespace runs with a single space, keeping one space
// at either edge if the input had any there.
func collapse(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// appendText merges adjacent text nodes.
func appendText(l List, s string) List {
	if n := len(l); n > 0 {
		if t, ok := l[n-1].(Text); ok {
			l[n-1] = Text{Value: t.Value + s}
			return l
		}
	}
	return append(l, Text{Value: s})
}

func plainText(l List) string {
	var b strings.Builder
	for _, n := range l {
		if t, ok := n.(Text); ok {
			b.WriteString(t.Value)
		}
	}
	return strings.TrimSpace(b.String())
}
