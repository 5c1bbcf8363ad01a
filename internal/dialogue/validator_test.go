package dialogue_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

func newValidator(t *testing.T, npcs ...dialogue.NPCContext) (*dialogue.Validator, *reasoning.Reasoner) {
	t.Helper()
	r := reasoning.New(reasoning.WithFunctional(dialogue.FunctionalPredicates...))
	v := dialogue.NewValidator(r, nil)
	for _, npc := range npcs {
		dialogue.SeedFacts(r, npc)
		v.AddKnownEntity(npc.Name)
	}
	return v, r
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()
	mira := dialogue.NPCContext{
		ID:         "mira",
		Name:       "Mira",
		Occupation: "baker",
		Location:   "Riverwood",
		Secrets:    []string{"the vault key"},
	}
	aldric := dialogue.NPCContext{ID: "aldric", Name: "Aldric", Occupation: "blacksmith"}
	v, r := newValidator(t, gerald, mira, aldric)
	r.AddFact("sells", []string{"mira", "bread"}, 1)

	tests := []struct {
		name     string
		npc      dialogue.NPCContext
		text     string
		problems int
	}{
		{"plain line", gerald, "Welcome to my stall, friend.", 0},
		{"merchant denies trading", gerald, "Sorry, I don't sell to strangers.", 1},
		{"wrong name", gerald, "My name is Bob.", 1},
		{"own name", gerald, "My name is Gerald.", 0},
		{"misspelled own name", gerald, "I am Gerrald, at your service.", 0},
		{"impersonation", gerald, "I am Aldric, the smith.", 1},
		{"secret leak", mira, "Between us, the vault key is hidden upstairs.", 1},
		{"occupation contradiction", mira, "I'm a blacksmith, not a cook.", 1},
		{"own occupation", mira, "I am a baker, as was my mother.", 0},
		{"not an occupation", mira, "I am a bit tired today.", 0},
		{"location contradiction", gerald, "I live in Riverwood these days.", 1},
		{"same location", gerald, "I'm in the Market Square every morning.", 0},
		{"denies known fact", mira, "I don't sell bread anymore.", 1},
		{"denies unknown fact", mira, "I don't sell fish.", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.Validate(tt.text, tt.npc)
			got := dialogue.Problems(err)
			if len(got) != tt.problems {
				t.Fatalf("Validate(%q) problems = %q, want %d", tt.text, got, tt.problems)
			}
			if tt.problems > 0 && !errors.Is(err, dialogue.ErrInconsistent) {
				t.Errorf("Validate(%q) = %v, want it to wrap ErrInconsistent", tt.text, err)
			}
		})
	}
}

func TestValidator_WithoutReasoner(t *testing.T) {
	t.Parallel()
	v := dialogue.NewValidator(nil, nil)
	if err := v.Validate("I am a blacksmith.", gerald); err != nil {
		t.Errorf("Validate without reasoner = %v, want nil", err)
	}
	if err := v.Validate("I'm not a merchant.", gerald); err == nil {
		t.Error("Validate did not flag a merchant denial")
	}
}

func TestSubject(t *testing.T) {
	t.Parallel()
	if got := dialogue.Subject(gerald); got != "gerald" {
		t.Errorf("Subject(gerald) = %q, want %q", got, "gerald")
	}
	if got := dialogue.Subject(dialogue.NPCContext{Name: "Old Tom"}); got != "old tom" {
		t.Errorf("Subject(no id) = %q, want %q", got, "old tom")
	}
}

func TestSeedFacts(t *testing.T) {
	t.Parallel()
	_, r := newValidator(t, gerald)
	for _, tt := range []struct{ pred, value string }{
		{dialogue.PredName, "gerald"},
		{dialogue.PredOccupation, "merchant"},
		{dialogue.PredLocation, "market square"},
	} {
		if _, ok := r.QueryFact(tt.pred, []string{"gerald", tt.value}); !ok {
			t.Errorf("fact %s(gerald, %s) not seeded", tt.pred, tt.value)
		}
	}
}

func TestProblems(t *testing.T) {
	t.Parallel()
	if got := dialogue.Problems(nil); got != nil {
		t.Errorf("Problems(nil) = %v, want nil", got)
	}
	if got := dialogue.Problems(errors.New("single")); len(got) != 1 || got[0] != "single" {
		t.Errorf("Problems(single) = %v", got)
	}
}
