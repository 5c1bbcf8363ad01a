package brain_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/personality"
	"github.com/MrWong99/npcmind/pkg/pattern"
	"github.com/MrWong99/npcmind/pkg/template"
)

func newDefault(t *testing.T, opts ...brain.Option) *brain.Engine {
	t.Helper()
	e := brain.New(opts...)
	report, err := e.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if len(report.Diagnostics) > 0 {
		t.Fatalf("LoadDefault diagnostics: %v", report.Diagnostics)
	}
	if report.Categories == 0 {
		t.Fatal("LoadDefault loaded no categories")
	}
	return e
}

func mustAdd(t *testing.T, e *brain.Engine, pat, tmpl string) {
	t.Helper()
	if err := e.AddCategory(pat, "", "", tmpl, 0, "test"); err != nil {
		t.Fatalf("AddCategory(%q): %v", pat, err)
	}
}

func TestReply_RemembersPlayerName(t *testing.T) {
	t.Parallel()
	e := newDefault(t)
	s := brain.NewSession("iolo")

	steps := []struct {
		input string
		want  string
	}{
		{"What is my name?", "You have not told me your name yet."},
		{"My name is Iolo", "Pleased to meet you, Iolo."},
		{"What is my name?", "Your name is Iolo."},
		{"Do you know my name?", "Your name is Iolo."},
	}
	for _, step := range steps {
		if got := e.Respond(step.input, s); got != step.want {
			t.Errorf("Respond(%q) = %q, want %q", step.input, got, step.want)
		}
	}
	if v, _ := s.Predicate("name"); v != "Iolo" {
		t.Errorf("predicate name = %q, want %q", v, "Iolo")
	}
	if got := len(s.Inputs()); got != len(steps) {
		t.Errorf("recorded %d inputs, want %d", got, len(steps))
	}
	if got := s.LastResponse(); got != "Your name is Iolo." {
		t.Errorf("LastResponse() = %q", got)
	}
}

func TestReply_NameVariable(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "MY NAME IS *", `<think><set name="name"><star/></set></think>Pleased to meet you, <get name="name"/>.`)
	mustAdd(t, e, "WHAT IS MY NAME", `<get name="name"/>`)

	s := brain.NewSession("s")
	if got := e.Respond("My name is Iolo", s); got != "Pleased to meet you, Iolo." {
		t.Errorf("Respond(My name is Iolo) = %q", got)
	}
	if got := e.Respond("What is my name?", s); got != "Iolo" {
		t.Errorf("Respond(What is my name?) = %q, want %q", got, "Iolo")
	}
}

func TestReply_NoMatch(t *testing.T) {
	t.Parallel()
	e := brain.New()
	s := brain.NewSession("s")
	r := e.Reply("anything at all", s)
	if r.Matched || r.Text != brain.DefaultNoMatchResponse || r.Score != 0 {
		t.Errorf("Reply on empty engine = %+v", r)
	}

	e = brain.New(brain.WithNoMatchResponse("Eh?"))
	if got := e.Respond("hello", s); got != "Eh?" {
		t.Errorf("Respond = %q, want %q", got, "Eh?")
	}
}

func TestReply_Volatile(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "HELLO", "Well met.")
	mustAdd(t, e, "WHO ARE YOU", `I am <get name="npc_name"/>.`)
	mustAdd(t, e, "CALL ME *", `<set name="name"><star/></set>, then.`)
	if err := e.AddCategory("YES", "WILL YOU HELP", "", "Splendid.", 0, "test"); err != nil {
		t.Fatal(err)
	}
	s := brain.NewSession("s")
	s.SetPredicate("npc_name", "Gerald")

	tests := []struct {
		input string
		want  bool
	}{
		{"hello", false},
		{"who are you", true},
		{"call me Iolo", true},
	}
	for _, tt := range tests {
		if got := e.Reply(tt.input, s).Volatile; got != tt.want {
			t.Errorf("Reply(%q).Volatile = %v, want %v", tt.input, got, tt.want)
		}
	}

	mustAdd(t, e, "ASK", "Will you help?")
	e.Reply("ask", s)
	if r := e.Reply("yes", s); !r.Matched || !r.Volatile {
		t.Errorf("Reply(yes) after that = %+v, want a volatile match", r)
	}
}

func TestReply_ReductionTerminates(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "LOOP", "<srai>LOOP</srai>")
	mustAdd(t, e, "PING", "<srai>PONG</srai>")
	mustAdd(t, e, "PONG", "<srai>PING</srai>")

	s := brain.NewSession("s")
	for _, in := range []string{"loop", "ping"} {
		r := e.Reply(in, s)
		if !r.Matched || r.Text != "" {
			t.Errorf("Reply(%q) = %+v, want matched with empty text", in, r)
		}
	}
}

func TestReply_ReductionChainWithinBound(t *testing.T) {
	t.Parallel()
	e := brain.New(brain.WithMaxReductionDepth(5))
	for i := range 5 {
		mustAdd(t, e, fmt.Sprintf("STEP %d", i), fmt.Sprintf("<srai>STEP %d</srai>", i+1))
	}
	mustAdd(t, e, "STEP 5", "arrived")

	s := brain.NewSession("s")
	if got := e.Respond("step 0", s); got != "arrived" {
		t.Errorf("Respond(step 0) = %q, want %q", got, "arrived")
	}
	if got := e.Respond("step 0", s); got != "arrived" {
		t.Errorf("second Respond(step 0) = %q, want %q", got, "arrived")
	}
	// Reductions do not enter the history.
	if got := s.Inputs(); len(got) != 2 {
		t.Errorf("Inputs() = %q, want 2 entries", got)
	}

	shallow := brain.New(brain.WithMaxReductionDepth(3))
	for i := range 5 {
		mustAdd(t, shallow, fmt.Sprintf("STEP %d", i), fmt.Sprintf("<srai>STEP %d</srai>", i+1))
	}
	mustAdd(t, shallow, "STEP 5", "arrived")
	if got := shallow.Respond("step 0", brain.NewSession("s")); got != "" {
		t.Errorf("Respond past the bound = %q, want empty", got)
	}
}

func TestReply_ThatAndTopic(t *testing.T) {
	t.Parallel()
	e := newDefault(t)
	s := brain.NewSession("s")

	steps := []struct {
		input string
		want  string
	}{
		{"Do you have a quest?", "Wolves have been troubling the farms to the east. Will you help?"},
		{"Yes", "Good. Come back when the farms are safe."},
		{"I want to buy a sword", "What would you like to buy?"},
		{"hmm", "Let us keep to business. Are you buying or not?"},
		{"no", "Suit yourself."},
	}
	for _, step := range steps {
		if got := e.Respond(step.input, s); got != step.want {
			t.Errorf("Respond(%q) = %q, want %q", step.input, got, step.want)
		}
	}
	if v, _ := s.Predicate("quest"); v != "wolves" {
		t.Errorf("predicate quest = %q, want wolves", v)
	}
	if got := s.Topic(); got != "" {
		t.Errorf("Topic() = %q after leaving trade, want empty", got)
	}
}

func TestLearn(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "* MEANS *", `<think><learn><category>`+
		`<pattern>WHAT DOES <eval><star/></eval> MEAN</pattern>`+
		`<template><eval><star index="2"/></eval></template>`+
		`</category></learn></think>I will remember that.`)

	s := brain.NewSession("s")
	if got := e.Respond("Gold means power", s); got != "I will remember that." {
		t.Fatalf("Respond = %q", got)
	}
	r := e.Reply("What does gold mean", s)
	if r.Text != "power" || r.Source != brain.LearnSource {
		t.Errorf("Reply after learn = %+v, want text %q from %q", r, "power", brain.LearnSource)
	}
}

func TestLearn_RejectsSelfReduction(t *testing.T) {
	t.Parallel()
	e := brain.New()
	err := e.Learn("HELLO *", "", "", template.MustParse("<srai>hello <star/></srai>"))
	if !errors.Is(err, brain.ErrSelfReduction) {
		t.Fatalf("Learn self reduction err = %v, want ErrSelfReduction", err)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d after rejected learn", e.Len())
	}

	if err := e.Learn("HI", "", "", template.MustParse("<srai>HELLO</srai>")); err != nil {
		t.Errorf("Learn(HI) = %v", err)
	}
	if err := e.Learn("", "", "", template.MustParse("x")); !errors.Is(err, pattern.ErrInvalidPattern) {
		t.Errorf("Learn(empty) err = %v, want ErrInvalidPattern", err)
	}
}

func TestBuiltinTags(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "SHOUT *", "<uppercase><star/></uppercase>")
	mustAdd(t, e, "WHISPER *", "<lowercase><star/></lowercase>")
	mustAdd(t, e, "TITLE *", "<formal><star/></formal>")
	mustAdd(t, e, "SAY *", "<sentence><star/></sentence>")
	mustAdd(t, e, "GRETA LIKES *", `<remember subject="greta" predicate="likes"><star/></remember>Noted.`)
	mustAdd(t, e, "WHAT DOES GRETA LIKE", `<fact subject="greta" predicate="likes">nothing</fact>`)
	e.RegisterTag("mirror", func(_ string, _ map[string]string, content string, _ template.State) string {
		r := []rune(content)
		slices.Reverse(r)
		return string(r)
	})
	mustAdd(t, e, "MIRROR *", "<mirror><star/></mirror>")

	s := brain.NewSession("s")
	tests := []struct {
		input string
		want  string
	}{
		{"what does greta like", "nothing"},
		{"shout hello there", "HELLO THERE"},
		{"whisper HELLO", "hello"},
		{"title the old mill", "The Old Mill"},
		{"say hello", "Hello"},
		{"greta likes mead", "Noted."},
		{"what does greta like", "mead"},
		{"mirror abc", "cba"},
	}
	for _, tt := range tests {
		if got := e.Respond(tt.input, s); got != tt.want {
			t.Errorf("Respond(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestBotProperties(t *testing.T) {
	t.Parallel()
	e := newDefault(t)
	e.SetBotProperty("name", "Greta")
	s := brain.NewSession("s")
	if got := e.Respond("who are you", s); got != "My name is Greta." {
		t.Errorf("Respond = %q", got)
	}
	s.SetPredicate("npc_name", "Greta the innkeeper")
	if got := e.Respond("what is your name", s); got != "I am Greta the innkeeper." {
		t.Errorf("Respond with npc_name = %q", got)
	}
}

func TestRespondWithPersonality(t *testing.T) {
	t.Parallel()
	e := brain.New(brain.WithStylizer(personality.NewStylizer(rand.New(rand.NewPCG(3, 4)))))
	mustAdd(t, e, "STATUS", "I am sure it is fine.")
	s := brain.NewSession("s")
	got := e.RespondWithPersonality("status", s, personality.Traits{personality.Formality: 0.1})
	if got != "I'm sure it's fine." {
		t.Errorf("RespondWithPersonality = %q", got)
	}
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()
	e := brain.New(brain.WithHistoryLimit(2))
	mustAdd(t, e, "*", "ok <star/>")
	s := brain.NewSession("s")
	for _, in := range []string{"a", "b", "c"} {
		e.Respond(in, s)
	}
	if got := s.Inputs(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Inputs() = %q, want [b c]", got)
	}
	if got := s.Responses(); len(got) != 2 || got[1] != "ok c" {
		t.Errorf("Responses() = %q", got)
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	s := brain.NewSession("abc")
	if s.ID() != "abc" {
		t.Errorf("ID() = %q", s.ID())
	}
	s.SetCognitiveLoad(1.7)
	if got := s.CognitiveLoad(); got != 1 {
		t.Errorf("CognitiveLoad() = %v, want 1", got)
	}
	s.AddPreference("ale")
	s.AddPreference("ale")
	if got := s.Preferences(); len(got) != 1 {
		t.Errorf("Preferences() = %q, want one entry", got)
	}
	s.LearnFact("home", "Britain")
	facts := s.LearnedFacts()
	facts["home"] = "changed"
	if got := s.LearnedFacts()["home"]; got != "Britain" {
		t.Errorf("LearnedFacts returned shared map, home = %q", got)
	}
	s.SetTopic("trade")
	if got, _ := s.Predicate(brain.TopicPredicate); got != "trade" {
		t.Errorf("topic predicate = %q", got)
	}
}

func TestConcurrentReplies(t *testing.T) {
	t.Parallel()
	e := newDefault(t)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := brain.NewSession(fmt.Sprintf("p%d", i))
			name := fmt.Sprintf("Player%d", i)
			e.Respond("My name is "+name, s)
			if got := e.Respond("what is my name", s); got != "Your name is "+name+"." {
				t.Errorf("session %d: Respond = %q", i, got)
			}
		}()
	}
	wg.Wait()
}
