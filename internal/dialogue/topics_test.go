package dialogue_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/npcmind/internal/dialogue"
)

func TestDetectIntent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"Where is the castle?", dialogue.IntentLocationQuery},
		{"Who rules these lands?", dialogue.IntentPersonQuery},
		{"What is that smell?", dialogue.IntentInfoQuery},
		{"How do I get there?", dialogue.IntentMethodQuery},
		{"Why is the gate shut?", dialogue.IntentReasonQuery},
		{"Is it raining?", dialogue.IntentQuestion},
		{"Hello there", dialogue.IntentGreeting},
		{"hi friend", dialogue.IntentGreeting},
		{"This is my ship", dialogue.IntentStatement},
		{"Goodbye for now", dialogue.IntentFarewell},
		{"I want to buy a sword", dialogue.IntentPurchase},
		{"I would sell my horse", dialogue.IntentSale},
		{"I need help", dialogue.IntentHelpRequest},
		{"Any job for me", dialogue.IntentQuestInquiry},
		{"The weather is fine", dialogue.IntentStatement},
	}
	for _, tt := range tests {
		if got := dialogue.DetectIntent(tt.input); got != tt.want {
			t.Errorf("DetectIntent(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDetectSentiment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"Thanks, that was great, I really appreciate it", dialogue.SentimentPositive},
		{"You stupid fool, I hate this", dialogue.SentimentNegative},
		{"Good, but I hate waiting", dialogue.SentimentNeutral},
		{"The cart has two wheels", dialogue.SentimentNeutral},
	}
	for _, tt := range tests {
		if got := dialogue.DetectSentiment(tt.input); got != tt.want {
			t.Errorf("DetectSentiment(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()
	got := dialogue.Keywords("Where is the Blue Boar tavern, my friend?")
	want := []string{"Where", "Blue", "Boar", "tavern", "friend"}
	if !slices.Equal(got, want) {
		t.Errorf("Keywords = %q, want %q", got, want)
	}
}

func TestTopicExtractor_Extract(t *testing.T) {
	t.Parallel()
	x := dialogue.NewTopicExtractor(nil)
	x.AddKnownEntity("Gerald")
	x.AddKnownEntity("Gerald")
	if n := len(x.KnownEntities()); n != 1 {
		t.Errorf("KnownEntities has %d entries, want 1", n)
	}

	got := x.Extract("Did Jerald sell you that Magic potion? Jerald is a thief and The Tavern knows it.")
	if want := []string{"sell", "magic", "potion", "tavern"}; !slices.Equal(got.Topics, want) {
		t.Errorf("Topics = %q, want %q", got.Topics, want)
	}
	// Misspellings collapse onto the known spelling; stop words are not
	// entities even when capitalised.
	if want := []string{"Gerald", "Magic", "Tavern"}; !slices.Equal(got.Entities, want) {
		t.Errorf("Entities = %q, want %q", got.Entities, want)
	}
	if got.Intent != dialogue.IntentQuestion {
		t.Errorf("Intent = %q, want %q", got.Intent, dialogue.IntentQuestion)
	}
}
