package brain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/template"
)

// builtinTags returns the custom tags every engine understands:
//
//	<uppercase>, <lowercase>   case conversion
//	<formal>                   title case
//	<sentence>                 capitalise the first letter
//	<fact subject="" predicate=""/>   first known object, or the body
//	<remember subject="" predicate="">object</remember>   store a fact
func builtinTags(e *Engine) map[string]template.TagHandler {
	return map[string]template.TagHandler{
		"uppercase": func(_ string, _ map[string]string, content string, _ template.State) string {
			return cases.Upper(language.Und).String(content)
		},
		"lowercase": func(_ string, _ map[string]string, content string, _ template.State) string {
			return cases.Lower(language.Und).String(content)
		},
		"formal": func(_ string, _ map[string]string, content string, _ template.State) string {
			return cases.Title(language.Und).String(content)
		},
		"sentence": func(_ string, _ map[string]string, content string, _ template.State) string {
			return sentence(content)
		},
		"fact": func(_ string, attrs map[string]string, content string, _ template.State) string {
			for _, t := range e.kb.Infer(attrs["subject"]) {
				if strings.EqualFold(t.Predicate, attrs["predicate"]) {
					return t.Object
				}
			}
			return content
		},
		"remember": func(_ string, attrs map[string]string, content string, _ template.State) string {
			if s, p, o := attrs["subject"], attrs["predicate"], strings.TrimSpace(content); s != "" && p != "" && o != "" {
				e.kb.StoreTriple(knowledge.Triple{Subject: s, Predicate: p, Object: o, Confidence: 1, Source: "template"})
			}
			return ""
		},
	}
}

func sentence(s string) string {
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	r, size := utf8.DecodeRuneInString(trimmed)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + trimmed[size:]
}
