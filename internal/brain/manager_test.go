package brain_test

import (
	"math"
	"testing"

	"github.com/MrWong99/npcmind/internal/brain"
)

func TestManager_Emotions(t *testing.T) {
	t.Parallel()
	e := brain.New()
	mustAdd(t, e, "HOW DO YOU FEEL", `<condition name="emotion_anger">`+
		`<li value="*">Angry, at <get name="emotion_anger"/>.</li>`+
		`<li>Calm.</li></condition>`)
	m := brain.NewManager(e)

	if got := m.GenerateResponse("greta", "how do you feel", nil); got != "Calm." {
		t.Errorf("before emotions: %q, want Calm.", got)
	}

	m.UpdateEmotion("greta", "anger", 0.9)
	m.UpdateEmotion("greta", "fear", 0.6)
	m.UpdateEmotion("greta", "joy", 4)
	if got := m.GenerateResponse("greta", "how do you feel", nil); got != "Angry, at 0.9." {
		t.Errorf("with anger: %q", got)
	}
	if got := m.Emotions("greta")["joy"]; got != 1 {
		t.Errorf("joy = %v, want clamped to 1", got)
	}
	if got := m.Session("greta").CognitiveLoad(); math.Abs(got-2.5/3) > 1e-9 {
		t.Errorf("CognitiveLoad() = %v, want 2.5/3", got)
	}

	// Other NPCs are unaffected.
	if got := m.GenerateResponse("bram", "how do you feel", nil); got != "Calm." {
		t.Errorf("bram: %q, want Calm.", got)
	}
}

func TestManager_CognitiveLoadCapped(t *testing.T) {
	t.Parallel()
	m := brain.NewManager(brain.New())
	for _, em := range []string{"anger", "fear", "joy", "sadness"} {
		m.UpdateEmotion("npc", em, 1)
	}
	m.GenerateResponse("npc", "hello", nil)
	if got := m.Session("npc").CognitiveLoad(); got != 1 {
		t.Errorf("CognitiveLoad() = %v, want 1", got)
	}
}

func TestManager_Sessions(t *testing.T) {
	t.Parallel()
	m := brain.NewManager(brain.New())
	a := m.Session("a")
	if m.Session("a") != a {
		t.Error("Session returned a different session for the same NPC")
	}
	m.DropSession("a")
	if m.Session("a") == a {
		t.Error("Session after DropSession returned the old session")
	}
}

func TestManager_Knowledge(t *testing.T) {
	t.Parallel()
	m := brain.NewManager(brain.New())
	if got := m.NPCKnowledge("greta"); got != "No information about greta" {
		t.Errorf("NPCKnowledge(empty) = %q", got)
	}
	m.StoreNPCFact("greta", "occupation", "innkeeper")
	m.StoreNPCFact("greta", "location", "Britain")
	want := "About greta:\n  - occupation: innkeeper\n  - location: Britain\n"
	if got := m.NPCKnowledge("greta"); got != want {
		t.Errorf("NPCKnowledge = %q, want %q", got, want)
	}
}

func TestManager_ApplyEmotions(t *testing.T) {
	t.Parallel()
	m := brain.NewManager(brain.New())
	s := brain.NewSession("conv-1")

	m.ApplyEmotions("greta", s)
	if _, ok := s.Predicate("emotion_fear"); ok {
		t.Error("ApplyEmotions without emotions set a predicate")
	}

	m.UpdateEmotion("greta", "fear", 0.75)
	m.ApplyEmotions("greta", s)
	if got, _ := s.Predicate("emotion_fear"); got != "0.75" {
		t.Errorf("emotion_fear = %q, want 0.75", got)
	}
	if got := s.CognitiveLoad(); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("CognitiveLoad() = %v, want 0.25", got)
	}
}
