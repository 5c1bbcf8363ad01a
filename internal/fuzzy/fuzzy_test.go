package fuzzy_test

import (
	"testing"

	"github.com/MrWong99/npcmind/internal/fuzzy"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	names := []string{"Eldrinax", "Britain", "Tower of Whispers", "Greta"}
	tests := []struct {
		word    string
		want    string
		wantOK  bool
		minConf float64
	}{
		{"elder nacks", "Eldrinax", true, 0.7},
		{"Brittain", "Britain", true, 0.9},
		{"tower of wispers", "Tower of Whispers", true, 0.7},
		{"GRETA", "Greta", true, 1},
		{"hello", "hello", false, 0},
		{"", "", false, 0},
	}
	m := fuzzy.New()
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.word, names)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.word, got, ok, tt.want, tt.wantOK)
			}
			if conf < tt.minConf {
				t.Errorf("Match(%q) confidence = %f, want >= %f", tt.word, conf, tt.minConf)
			}
			if !ok && conf != 0 {
				t.Errorf("Match(%q) confidence = %f without a match, want 0", tt.word, conf)
			}
		})
	}
}

func TestMatcher_NoNames(t *testing.T) {
	t.Parallel()
	got, conf, ok := fuzzy.New().Match("Eldrinax", nil)
	if ok || got != "Eldrinax" || conf != 0 {
		t.Errorf("Match with no names = %q, %f, %v; want word unchanged", got, conf, ok)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()
	m := fuzzy.New(fuzzy.WithPhoneticThreshold(0.99), fuzzy.WithFuzzyThreshold(0.99))
	if _, _, ok := m.Match("elder nacks", []string{"Eldrinax"}); ok {
		t.Error("strict thresholds accepted a near match")
	}
	if _, _, ok := m.Match("eldrinax", []string{"Eldrinax"}); !ok {
		t.Error("strict thresholds rejected an exact match")
	}
}

func TestMatcher_SameName(t *testing.T) {
	t.Parallel()
	m := fuzzy.New()
	tests := []struct {
		a, b string
		want bool
	}{
		{"Greta", "greta", true},
		{"Gretta", "Greta", true},
		{"Iolo", "Greta", false},
	}
	for _, tt := range tests {
		if got := m.SameName(tt.a, tt.b); got != tt.want {
			t.Errorf("SameName(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
