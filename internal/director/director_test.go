package director_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/director"
	"github.com/MrWong99/npcmind/internal/hooks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var gerald = dialogue.NPCContext{
	Name:       "Gerald",
	Occupation: "merchant",
	Mood:       "happy",
	Location:   "Market Square",
}

func newDirector(t *testing.T, opts ...director.Option) *director.Director {
	t.Helper()
	b := brain.New()
	for pat, tmpl := range map[string]string{
		"HELLO":          "Well met.",
		"WHERE AM I":     `You are in <get name="location"/>.`,
		"LET US TRADE":   `<think><set name="topic">trade</set></think>What would you like?`,
		"WHICH QUEST":    `We speak of <get name="quest"/>.`,
		"WHAT DO YOU DO": "I am a merchant.",
	} {
		if err := b.AddCategory(pat, "", "", tmpl, 0, "test"); err != nil {
			t.Fatalf("AddCategory(%q): %v", pat, err)
		}
	}
	cfg := dialogue.DefaultConfig()
	cfg.EnablePersonality = false
	e := dialogue.New(dialogue.WithBrain(b), dialogue.WithConfig(cfg))
	d := director.New(e, opts...)
	d.RegisterNPC("gerald", gerald)
	return d
}

func TestStartConversation(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()

	if got := d.StartConversation(ctx, "nobody", "p1"); got != director.UnknownReply {
		t.Errorf("StartConversation(unknown) = %q, want %q", got, director.UnknownReply)
	}
	want := "*smiling warmly* Greetings, traveler! I am Gerald. What a fine day!"
	if got := d.StartConversation(ctx, "gerald", "p1"); got != want {
		t.Errorf("StartConversation = %q, want %q", got, want)
	}
	if p, ok := d.ActivePlayer("gerald"); !ok || p != "p1" {
		t.Errorf("ActivePlayer = %q, %v; want p1", p, ok)
	}
	// Greeting again keeps the conversation.
	if got := d.StartConversation(ctx, "gerald", "p1"); got != want {
		t.Errorf("second StartConversation = %q", got)
	}
	if n := d.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}
}

func TestExclusivity(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()

	d.StartConversation(ctx, "gerald", "p1")
	d.ContinueConversation(ctx, "gerald", "p1", "hello")
	before := d.History("gerald", "p1")

	if got := d.StartConversation(ctx, "gerald", "p2"); got != director.BusyReply {
		t.Errorf("StartConversation(p2) = %q, want %q", got, director.BusyReply)
	}
	res := d.ContinueConversation(ctx, "gerald", "p2", "hello")
	if res.Text != director.BusyReply || res.Source != dialogue.SourceFallback {
		t.Errorf("ContinueConversation(p2) = %q (%s), want busy fallback", res.Text, res.Source)
	}
	if p, _ := d.ActivePlayer("gerald"); p != "p1" {
		t.Errorf("ActivePlayer = %q, want p1", p)
	}
	if after := d.History("gerald", "p1"); len(after) != len(before) {
		t.Errorf("p1 history changed from %d to %d exchanges", len(before), len(after))
	}
	if _, ok := d.Context("gerald", "p2"); ok {
		t.Error("busy NPC created a context for p2")
	}
}

func TestContinueConversation(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()

	if res := d.ContinueConversation(ctx, "nobody", "p1", "hello"); res.Text != director.UnknownReply {
		t.Errorf("ContinueConversation(unknown) = %q", res.Text)
	}

	// No explicit start: the conversation opens implicitly.
	res := d.ContinueConversation(ctx, "gerald", "p1", "Hello!")
	if res.Text != "Well met." || res.Source != dialogue.SourcePattern {
		t.Errorf("ContinueConversation = %q (%s)", res.Text, res.Source)
	}
	if !d.IsInConversation("gerald") {
		t.Error("IsInConversation = false after an implicit start")
	}
	if res := d.ContinueConversation(ctx, "gerald", "p1", "where am I"); res.Text != "You are in Market Square." {
		t.Errorf("location reply = %q", res.Text)
	}
	if h := d.History("gerald", "p1"); len(h) != 2 || h[0].Player != "Hello!" {
		t.Errorf("History = %+v", h)
	}
}

func TestEndConversation_KeepsHistory(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()

	d.ContinueConversation(ctx, "gerald", "p1", "hello")
	if got := d.EndConversation(ctx, "gerald", "p2"); got == director.UnknownReply {
		t.Errorf("EndConversation(p2) = %q", got)
	}
	if !d.IsInConversation("gerald") {
		t.Error("ending another player's conversation closed p1's")
	}

	want := "*waving cheerfully* Farewell, friend! May fortune smile upon you!"
	if got := d.EndConversation(ctx, "gerald", "p1"); got != want {
		t.Errorf("EndConversation = %q, want %q", got, want)
	}
	if d.IsInConversation("gerald") {
		t.Error("IsInConversation = true after EndConversation")
	}
	if h := d.History("gerald", "p1"); len(h) != 1 {
		t.Errorf("History after end has %d exchanges, want 1", len(h))
	}
	if got := d.StartConversation(ctx, "gerald", "p2"); got == director.BusyReply {
		t.Error("NPC still busy after EndConversation")
	}
	if got := d.EndConversation(ctx, "nobody", "p1"); got != director.UnknownReply {
		t.Errorf("EndConversation(unknown) = %q", got)
	}
}

func TestHooks(t *testing.T) {
	t.Parallel()
	reg := hooks.New()
	var mu sync.Mutex
	var events []hooks.Event
	record := func(_ context.Context, d hooks.Data) hooks.Result {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, d.Event)
		return hooks.Result{}
	}
	for _, ev := range []hooks.Event{hooks.ConversationStart, hooks.ConversationEnd, hooks.NPCSpeaks, hooks.TopicChanged} {
		reg.Register(ev, record)
	}
	reg.Register(hooks.NPCSpeaks, func(_ context.Context, d hooks.Data) hooks.Result {
		return hooks.Result{Handled: true, ModifiedText: strings.ToUpper(d.Text)}
	})
	reg.Register(hooks.ConversationStart, func(context.Context, hooks.Data) hooks.Result {
		return hooks.Result{Handled: true, Suppress: true}
	})

	d := newDirector(t, director.WithHooks(reg))
	ctx := context.Background()
	if got := d.StartConversation(ctx, "gerald", "p1"); got != "" {
		t.Errorf("suppressed greeting = %q, want empty", got)
	}
	if res := d.ContinueConversation(ctx, "gerald", "p1", "let us trade"); res.Text != "WHAT WOULD YOU LIKE?" {
		t.Errorf("modified reply = %q", res.Text)
	}
	d.EndConversation(ctx, "gerald", "p1")

	mu.Lock()
	defer mu.Unlock()
	want := []hooks.Event{hooks.ConversationStart, hooks.TopicChanged, hooks.NPCSpeaks, hooks.ConversationEnd}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestInjectQuestDialogue(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()
	d.StartConversation(ctx, "gerald", "p1")

	err := d.InjectQuestDialogue("gerald", "wolves", []director.QuestLine{
		{Trigger: "TELL ME ABOUT THE WOLVES", Response: "They came from the east."},
	})
	if err != nil {
		t.Fatalf("InjectQuestDialogue: %v", err)
	}
	if res := d.ContinueConversation(ctx, "gerald", "p1", "tell me about the wolves"); res.Text != "They came from the east." {
		t.Errorf("quest reply = %q", res.Text)
	}
	if res := d.ContinueConversation(ctx, "gerald", "p1", "which quest"); res.Text != "We speak of wolves." {
		t.Errorf("quest predicate reply = %q", res.Text)
	}

	if err := d.InjectQuestDialogue("nobody", "q", nil); !errors.Is(err, director.ErrUnknownNPC) {
		t.Errorf("InjectQuestDialogue(unknown) = %v, want ErrUnknownNPC", err)
	}
	if err := d.InjectQuestDialogue("gerald", "bad", []director.QuestLine{{Trigger: "", Response: "x"}}); err == nil {
		t.Error("InjectQuestDialogue accepted an empty trigger")
	}
}

func TestUpdateNPC(t *testing.T) {
	t.Parallel()
	d := newDirector(t)

	before, _ := d.NPC("gerald")
	if err := d.UpdateNPCKnowledge("gerald", "The bridge is out."); err != nil {
		t.Fatal(err)
	}
	if err := d.UpdateNPCKnowledge("gerald", "The bridge is out."); err != nil {
		t.Fatal(err)
	}
	if err := d.SetMood("gerald", "angry"); err != nil {
		t.Fatal(err)
	}
	npc, ok := d.NPC("gerald")
	if !ok || len(npc.KnownFacts) != 1 || npc.Mood != "angry" {
		t.Errorf("NPC = %+v", npc)
	}
	if len(before.KnownFacts) != 0 || before.Mood != "happy" {
		t.Errorf("earlier copy changed: %+v", before)
	}
	if npc.ID != "gerald" {
		t.Errorf("NPC.ID = %q, want gerald", npc.ID)
	}
	if got := d.StartConversation(context.Background(), "gerald", "p1"); !strings.HasPrefix(got, "*scowling*") {
		t.Errorf("angry greeting = %q", got)
	}

	if err := d.SetMood("nobody", "sad"); !errors.Is(err, director.ErrUnknownNPC) {
		t.Errorf("SetMood(unknown) = %v", err)
	}
	if err := d.UpdateNPCKnowledge("nobody", "x"); !errors.Is(err, director.ErrUnknownNPC) {
		t.Errorf("UpdateNPCKnowledge(unknown) = %v", err)
	}
	if ids := d.NPCs(); len(ids) != 1 || ids[0] != "gerald" {
		t.Errorf("NPCs = %v", ids)
	}
}

func TestEvictIdle(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	d := newDirector(t, director.WithClock(clock))
	d.RegisterNPC("mira", dialogue.NPCContext{Name: "Mira", Occupation: "baker"})
	ctx := context.Background()

	d.ContinueConversation(ctx, "gerald", "p1", "hello")
	d.EndConversation(ctx, "gerald", "p1")
	d.ContinueConversation(ctx, "mira", "p2", "hello")

	if n := d.EvictIdle(ctx, time.Hour); n != 0 {
		t.Errorf("EvictIdle evicted %d fresh conversations", n)
	}

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	if n := d.EvictIdle(ctx, time.Hour); n != 2 {
		t.Errorf("EvictIdle = %d, want 2", n)
	}
	if d.IsInConversation("mira") {
		t.Error("idle active conversation was not ended")
	}
	if h := d.History("gerald", "p1"); h != nil {
		t.Errorf("History after eviction = %+v, want nil", h)
	}
}

func TestRunEvictor_StopsOnCancel(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunEvictor(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEvictor did not return after cancel")
	}
}

func TestConcurrentPlayers(t *testing.T) {
	t.Parallel()
	d := newDirector(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.StartConversation(ctx, "gerald", string(rune('a'+i)))
		}()
	}
	wg.Wait()

	busy := 0
	for _, r := range results {
		if r == director.BusyReply {
			busy++
		}
	}
	if busy != len(results)-1 {
		t.Errorf("%d of %d players were turned away, want %d", busy, len(results), len(results)-1)
	}
}
