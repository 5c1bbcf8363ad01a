package knowledge_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/npcmind/pkg/knowledge"
)

func seeded() *knowledge.Base {
	kb := knowledge.New()
	kb.Store("Iolo", "is-a", "bard", 1)
	kb.Store("Iolo", "lives-in", "Britain", 1)
	kb.Store("bard", "plays", "lute", 0.9)
	kb.Store("bard", "likes", "songs", 1)
	kb.Store("Dupre", "is", "knight", 1)
	return kb
}

func TestQuery(t *testing.T) {
	t.Parallel()
	kb := seeded()

	tests := []struct {
		s, p, o string
		want    int
	}{
		{"Iolo", "*", "*", 2},
		{"*", "plays", "*", 1},
		{"*", "*", "knight", 1},
		{"*", "*", "*", 5},
		{"Iolo", "lives-in", "Britain", 1},
		{"Iolo", "lives-in", "Yew", 0},
		{"Nobody", "*", "*", 0},
	}
	for _, tt := range tests {
		if got := kb.Query(tt.s, tt.p, tt.o); len(got) != tt.want {
			t.Errorf("Query(%q,%q,%q) returned %d triples, want %d", tt.s, tt.p, tt.o, len(got), tt.want)
		}
	}
}

func TestInfer_OneHop(t *testing.T) {
	t.Parallel()
	kb := seeded()

	got := kb.Infer("Iolo")
	if len(got) != 4 {
		t.Fatalf("Infer(Iolo) returned %d triples, want 4: %+v", len(got), got)
	}
	inherited := got[2]
	if inherited.Subject != "Iolo" || inherited.Predicate != "plays" || inherited.Object != "lute" {
		t.Errorf("inherited triple = %+v", inherited)
	}
	if math.Abs(inherited.Confidence-0.72) > 1e-9 {
		t.Errorf("inherited confidence = %f, want 0.72", inherited.Confidence)
	}
}

func TestInfer_ConfigurableDiscount(t *testing.T) {
	t.Parallel()
	kb := knowledge.New(knowledge.WithHopDiscount(0.5))
	kb.Store("Dupre", "is", "knight", 1)
	kb.Store("knight", "carries", "sword", 1)

	got := kb.Infer("Dupre")
	if len(got) != 2 || got[1].Confidence != 0.5 {
		t.Errorf("Infer(Dupre) = %+v, want inherited confidence 0.5", got)
	}
}

func TestHasFactAndSummarize(t *testing.T) {
	t.Parallel()
	kb := seeded()

	if !kb.HasFact("bard", "plays", "*") {
		t.Error("HasFact(bard, plays, *) = false, want true")
	}
	if kb.HasFact("bard", "plays", "drum") {
		t.Error("HasFact(bard, plays, drum) = true, want false")
	}

	want := "About Iolo:\n  - is-a: bard\n  - lives-in: Britain\n"
	if got := kb.Summarize("Iolo"); got != want {
		t.Errorf("Summarize(Iolo) = %q, want %q", got, want)
	}
	if got := kb.Summarize("Blackthorn"); got != "No information about Blackthorn" {
		t.Errorf("Summarize(Blackthorn) = %q", got)
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	kb := seeded()

	var buf bytes.Buffer
	if err := kb.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Iolo\tis-a\tbard\t1\n") {
		t.Errorf("Save output starts with %q", buf.String()[:20])
	}

	other := knowledge.New()
	other.Store("stale", "x", "y", 1)
	input := buf.String() + "broken line\nbard\tplays\tdrum\tnot-a-number\n"
	skipped, err := other.Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 2 {
		t.Errorf("Load skipped %d lines, want 2", skipped)
	}
	if other.Len() != kb.Len() {
		t.Errorf("Len after Load = %d, want %d", other.Len(), kb.Len())
	}
	if other.HasFact("stale", "*", "*") {
		t.Error("Load kept triples from before")
	}
	if got := other.Query("bard", "plays", "lute"); len(got) != 1 || got[0].Confidence != 0.9 {
		t.Errorf("reloaded bard/plays = %+v", got)
	}
}
