package dialogue_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/dialogue/mock"
)

var gerald = dialogue.NPCContext{
	ID:         "gerald",
	Name:       "Gerald",
	Occupation: "merchant",
	Mood:       "neutral",
	Location:   "Market Square",
}

// plainConfig disables styling so tests can compare raw texts.
func plainConfig() dialogue.Config {
	cfg := dialogue.DefaultConfig()
	cfg.EnablePersonality = false
	return cfg
}

func newEngine(t *testing.T, cfg dialogue.Config, gen dialogue.Generator, categories map[string]string) *dialogue.Engine {
	t.Helper()
	b := brain.New()
	for pat, tmpl := range categories {
		if err := b.AddCategory(pat, "", "", tmpl, 0, "test"); err != nil {
			t.Fatalf("AddCategory(%q): %v", pat, err)
		}
	}
	opts := []dialogue.Option{
		dialogue.WithConfig(cfg),
		dialogue.WithBrain(b),
		dialogue.WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	if gen != nil {
		opts = append(opts, dialogue.WithGenerator(gen))
	}
	e := dialogue.New(opts...)
	e.RegisterNPC(gerald)
	return e
}

func TestGenerateResponse_PatternWins(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Result: dialogue.Generation{Text: "unused", Confidence: 0.9}}
	e := newEngine(t, plainConfig(), gen, map[string]string{"HELLO": "Well met, traveler."})
	dctx := dialogue.NewContext(gerald.ID, "p1")

	res := e.GenerateResponse(context.Background(), "Hello!", gerald, dctx)
	if res.Text != "Well met, traveler." || res.Source != dialogue.SourcePattern {
		t.Errorf("GenerateResponse = %q (%s), want pattern reply", res.Text, res.Source)
	}
	if res.Confidence != 1 || res.PatternScore != 1 {
		t.Errorf("confidence = %v, pattern score = %v, want 1, 1", res.Confidence, res.PatternScore)
	}
	if n := len(gen.Calls()); n != 0 {
		t.Errorf("generator called %d times, want 0", n)
	}
	if ex := dctx.Exchanges(); len(ex) != 1 || ex[0].NPC != res.Text {
		t.Errorf("Exchanges = %+v, want one exchange with the reply", ex)
	}
}

func TestGenerateResponse_Generative(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Result: dialogue.Generation{
		Text: "The roads are full of danger.", Confidence: 0.7, Emotion: "fear",
	}}
	e := newEngine(t, plainConfig(), gen, nil)
	var gotInput, gotText string
	e.OnGenerated(func(input, text string) { gotInput, gotText = input, text })
	dctx := dialogue.NewContext(gerald.ID, "p1")

	res := e.GenerateResponse(context.Background(), "Tell me about the roads", gerald, dctx)
	if res.Source != dialogue.SourceGenerative || res.Text != "The roads are full of danger." {
		t.Errorf("GenerateResponse = %q (%s), want generated reply", res.Text, res.Source)
	}
	if res.Emotion != "fear" || res.GenerativeScore != 0.7 {
		t.Errorf("emotion = %q, generative score = %v; want fear, 0.7", res.Emotion, res.GenerativeScore)
	}
	if gotInput != "Tell me about the roads" || gotText != res.Text {
		t.Errorf("OnGenerated(%q, %q), want the input and the reply", gotInput, gotText)
	}
	// Later "that" patterns must see the generated line.
	if got := dctx.Session().LastResponse(); got != res.Text {
		t.Errorf("session last response = %q, want %q", got, res.Text)
	}
	calls := gen.Calls()
	if len(calls) != 1 || !calls[0].RequiresCreativity || calls[0].NPC.Name != "Gerald" {
		t.Errorf("generator requests = %+v", calls)
	}
}

func TestGenerateResponse_Hybrid(t *testing.T) {
	t.Parallel()
	cfg := plainConfig()
	cfg.PatternConfidenceThreshold = 1.5
	gen := &mock.Generator{Result: dialogue.Generation{Text: "Generated.", Confidence: 0.7}}
	e := newEngine(t, cfg, gen, map[string]string{"HELLO": "Well met."})

	res := e.GenerateResponse(context.Background(), "hello", gerald, dialogue.NewContext(gerald.ID, "p1"))
	if res.Source != dialogue.SourceHybrid {
		t.Fatalf("Source = %s, want hybrid", res.Source)
	}
	// A confident pattern is used verbatim.
	if res.Text != "Well met." {
		t.Errorf("Text = %q, want %q", res.Text, "Well met.")
	}
	if res.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", res.Confidence)
	}
}

func TestGenerateResponse_WeakGeneratorKeepsPattern(t *testing.T) {
	t.Parallel()
	cfg := plainConfig()
	cfg.PatternConfidenceThreshold = 1.5
	gen := &mock.Generator{Result: dialogue.Generation{Text: "Eh.", Confidence: 0.4}}
	e := newEngine(t, cfg, gen, map[string]string{"HELLO": "Well met."})

	res := e.GenerateResponse(context.Background(), "hello", gerald, dialogue.NewContext(gerald.ID, "p1"))
	if res.Source != dialogue.SourcePattern || res.Text != "Well met." {
		t.Errorf("GenerateResponse = %q (%s), want pattern reply", res.Text, res.Source)
	}
}

func TestGenerateResponse_Fallback(t *testing.T) {
	t.Parallel()
	cfg := plainConfig()
	cfg.FallbackResponses = []string{"Eh?"}

	tests := []struct {
		name string
		gen  dialogue.Generator
	}{
		{"no generator", nil},
		{"generator fails", &mock.Generator{Err: errors.New("boom")}},
		{"generator empty", &mock.Generator{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, cfg, tt.gen, nil)
			res := e.GenerateResponse(context.Background(), "xyzzy", gerald, dialogue.NewContext(gerald.ID, "p1"))
			if res.Text != "Eh?" || res.Source != dialogue.SourceFallback || res.Confidence != 0.2 {
				t.Errorf("GenerateResponse = %q (%s, %v), want fallback", res.Text, res.Source, res.Confidence)
			}
			if s := e.Stats(); s.Fallback != 1 || s.Total != 1 {
				t.Errorf("Stats = %+v, want one fallback", s)
			}
		})
	}
}

func TestGenerateResponse_Cache(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, map[string]string{"HELLO": "Well met."})
	dctx := dialogue.NewContext(gerald.ID, "p1")
	ctx := context.Background()

	first := e.GenerateResponse(ctx, "Hello!", gerald, dctx)
	second := e.GenerateResponse(ctx, "  hello ", gerald, dctx)
	if second.Source != dialogue.SourceCached || second.Text != first.Text {
		t.Errorf("second reply = %q (%s), want cached %q", second.Text, second.Source, first.Text)
	}
	if second.Confidence != 0.8 {
		t.Errorf("cached confidence = %v, want 0.8", second.Confidence)
	}
	if s := e.Stats(); s.CacheHits != 1 || s.Pattern != 1 || s.Total != 2 {
		t.Errorf("Stats = %+v, want 1 pattern and 1 cache hit", s)
	}
	if n := dctx.TurnCount(); n != 2 {
		t.Errorf("TurnCount = %d, want 2", n)
	}

	// The cache is per conversation.
	other := e.GenerateResponse(ctx, "hello", gerald, dialogue.NewContext(gerald.ID, "p2"))
	if other.Source != dialogue.SourcePattern {
		t.Errorf("other conversation Source = %s, want pattern", other.Source)
	}

	if err := e.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if res := e.GenerateResponse(ctx, "hello", gerald, dctx); res.Source != dialogue.SourcePattern {
		t.Errorf("after ClearCache Source = %s, want pattern", res.Source)
	}
}

func TestGenerateResponse_RepeatedInputIsCached(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, map[string]string{
		"MY NAME IS *": `<think><set name="name"><star/></set></think>Pleased to meet you, <get name="name"/>.`,
	})
	dctx := dialogue.NewContext(gerald.ID, "p1")
	ctx := context.Background()

	first := e.GenerateResponse(ctx, "My name is Iolo", gerald, dctx)
	if first.Source != dialogue.SourcePattern || first.Text != "Pleased to meet you, Iolo." {
		t.Fatalf("first reply = %q (%s)", first.Text, first.Source)
	}
	second := e.GenerateResponse(ctx, "My name is Iolo", gerald, dctx)
	if second.Source != dialogue.SourceCached || second.Text != first.Text {
		t.Errorf("second reply = %q (%s), want %q (cached)", second.Text, second.Source, first.Text)
	}
}

func TestGenerateResponse_SkipStatefulCaching(t *testing.T) {
	t.Parallel()
	cfg := plainConfig()
	cfg.SkipStatefulCaching = true
	e := newEngine(t, cfg, nil, map[string]string{
		"WHERE AM I": `You are in <get name="location"/>.`,
		"HELLO":      "Well met.",
	})
	dctx := dialogue.NewContext(gerald.ID, "p1")
	ctx := context.Background()

	if res := e.GenerateResponse(ctx, "where am I", gerald, dctx); res.Text != "You are in Market Square." {
		t.Fatalf("first reply = %q", res.Text)
	}
	dctx.SetLocation("the Docks")
	res := e.GenerateResponse(ctx, "where am I", gerald, dctx)
	if res.Source == dialogue.SourceCached || res.Text != "You are in the Docks." {
		t.Errorf("second reply = %q (%s), want a fresh render", res.Text, res.Source)
	}

	e.GenerateResponse(ctx, "hello", gerald, dctx)
	if res := e.GenerateResponse(ctx, "hello", gerald, dctx); res.Source != dialogue.SourceCached {
		t.Errorf("stateless reply Source = %s, want cached", res.Source)
	}
}

func TestGenerateResponse_CachingDisabled(t *testing.T) {
	t.Parallel()
	cfg := plainConfig()
	cfg.EnableCaching = false
	e := newEngine(t, cfg, nil, map[string]string{"HELLO": "Well met."})
	dctx := dialogue.NewContext(gerald.ID, "p1")

	for range 2 {
		if res := e.GenerateResponse(context.Background(), "hello", gerald, dctx); res.Source != dialogue.SourcePattern {
			t.Errorf("Source = %s, want pattern", res.Source)
		}
	}
}

func TestGenerateResponse_Inconsistent(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Result: dialogue.Generation{Text: "I am a blacksmith by trade.", Confidence: 0.7}}
	e := newEngine(t, plainConfig(), gen, nil)

	res := e.GenerateResponse(context.Background(), "what do you do", gerald, dialogue.NewContext(gerald.ID, "p1"))
	if res.Consistent {
		t.Fatal("Consistent = true, want false")
	}
	if len(res.Problems) == 0 || !strings.Contains(res.Problems[0], "blacksmith") {
		t.Errorf("Problems = %v, want the occupation contradiction", res.Problems)
	}
	if s := e.Stats(); s.ConsistencyFailures != 1 {
		t.Errorf("ConsistencyFailures = %d, want 1", s.ConsistencyFailures)
	}
}

func TestGenerateResponse_Personality(t *testing.T) {
	t.Parallel()
	e := newEngine(t, dialogue.DefaultConfig(), nil, map[string]string{"HELLO": "Well met."})
	npc := gerald
	npc.Mood = "happy"

	res := e.GenerateResponse(context.Background(), "hello", npc, dialogue.NewContext(npc.ID, "p1"))
	if res.Text != "*smiling* Well met." {
		t.Errorf("Text = %q, want %q", res.Text, "*smiling* Well met.")
	}
}

func TestGenerateResponse_CustomPersonality(t *testing.T) {
	t.Parallel()
	b := brain.New()
	if err := b.AddCategory("HELLO", "", "", "Well met.", 0, "test"); err != nil {
		t.Fatal(err)
	}
	e := dialogue.New(
		dialogue.WithBrain(b),
		dialogue.WithPersonality(func(text string, npc dialogue.NPCContext) string {
			return npc.Name + " says: " + text
		}),
	)
	res := e.GenerateResponse(context.Background(), "hello", gerald, dialogue.NewContext(gerald.ID, "p1"))
	if res.Text != "Gerald says: Well met." {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGenerateResponse_Topics(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, map[string]string{"* QUEST *": "Speak to the mayor."})
	e.AddKnownEntity("Aldric")
	dctx := dialogue.NewContext(gerald.ID, "p1")

	res := e.GenerateResponse(context.Background(), "Is there a quest from Aldrik?", gerald, dctx)
	if res.Intent != dialogue.IntentQuestion {
		t.Errorf("Intent = %q, want %q", res.Intent, dialogue.IntentQuestion)
	}
	if len(res.Topics) != 1 || res.Topics[0] != "quest" {
		t.Errorf("Topics = %v, want [quest]", res.Topics)
	}
	if len(res.Entities) != 1 || res.Entities[0] != "Aldric" {
		t.Errorf("Entities = %v, want [Aldric]", res.Entities)
	}
	if got := dctx.TopicMemory("quest"); got != "Speak to the mayor." {
		t.Errorf("TopicMemory(quest) = %q", got)
	}
}

func TestGenerateResponse_HistoryReachesGenerator(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Result: dialogue.Generation{Text: "Indeed, friend.", Confidence: 0.7}}
	e := newEngine(t, plainConfig(), gen, nil)
	dctx := dialogue.NewContext(gerald.ID, "p1")
	ctx := context.Background()

	e.GenerateResponse(ctx, "first line", gerald, dctx)
	e.GenerateResponse(ctx, "second line", gerald, dctx)

	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(calls))
	}
	if h := calls[1].History; len(h) != 1 || h[0].Player != "first line" || h[0].NPC != "Indeed, friend." {
		t.Errorf("History = %+v, want the first exchange", h)
	}
}

func TestAddPattern(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, map[string]string{"TELL ME ABOUT THE CAVE": "It is dark."})
	if err := e.AddPattern("TELL ME ABOUT THE CAVE", "A dragon sleeps there."); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	res := e.GenerateFromPattern("tell me about the cave", gerald, nil)
	if res.Text != "A dragon sleeps there." {
		t.Errorf("GenerateFromPattern = %q, want the injected reply", res.Text)
	}
}

func TestGenerateFromPattern_NoMatch(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, nil)
	res := e.GenerateFromPattern("xyzzy", gerald, nil)
	if res.Text != dialogue.EmptyPatternReply || res.Confidence != 0 {
		t.Errorf("GenerateFromPattern = %q (%v), want %q", res.Text, res.Confidence, dialogue.EmptyPatternReply)
	}
}

func TestGenerateFromGenerator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEngine(t, plainConfig(), nil, nil)
	if res := e.GenerateFromGenerator(ctx, "hi", gerald, nil); res.Text != dialogue.NoGeneratorReply || res.Confidence != 0.1 {
		t.Errorf("without generator = %q (%v)", res.Text, res.Confidence)
	}

	gen := &mock.Generator{Result: dialogue.Generation{Text: "Greetings.", Confidence: 0.7, Emotion: "neutral"}}
	e = newEngine(t, plainConfig(), gen, nil)
	res := e.GenerateFromGenerator(ctx, "hi", gerald, dialogue.NewContext(gerald.ID, "p1"))
	if res.Text != "Greetings." || res.Source != dialogue.SourceGenerative {
		t.Errorf("with generator = %q (%s)", res.Text, res.Source)
	}
}

func TestSetConfig(t *testing.T) {
	t.Parallel()
	e := newEngine(t, plainConfig(), nil, nil)
	cfg := e.Config()
	cfg.PatternConfidenceThreshold = 0.9
	cfg.FallbackResponses = []string{"Hm."}
	e.SetConfig(cfg)

	got := e.Config()
	if got.PatternConfidenceThreshold != 0.9 || len(got.FallbackResponses) != 1 {
		t.Errorf("Config = %+v", got)
	}
	got.FallbackResponses[0] = "mutated"
	if e.Config().FallbackResponses[0] != "Hm." {
		t.Error("Config returned a shared FallbackResponses slice")
	}
}

func TestEngine_ConcurrentConversations(t *testing.T) {
	t.Parallel()
	gen := &mock.Generator{Result: dialogue.Generation{Text: "Perhaps.", Confidence: 0.7}}
	e := newEngine(t, plainConfig(), gen, map[string]string{"HELLO": "Well met."})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx := dialogue.NewContext(gerald.ID, fmt.Sprintf("p%d", i))
			for j := range 10 {
				input := "hello"
				if j%2 == 1 {
					input = fmt.Sprintf("question %d", j)
				}
				e.GenerateResponse(ctx, input, gerald, dctx)
			}
		}()
	}
	wg.Wait()
	if s := e.Stats(); s.Total != 80 {
		t.Errorf("Stats.Total = %d, want 80", s.Total)
	}
}
