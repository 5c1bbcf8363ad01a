package store_test

import (
	"testing"

	"github.com/MrWong99/npcmind/internal/store"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

func world(t *testing.T) (*knowledge.Base, *reasoning.Reasoner) {
	t.Helper()
	kb := knowledge.New()
	kb.Store("gerald", "occupation", "merchant", 1)
	kb.Store("gerald", "location", "market", 0.9)

	r := reasoning.New(reasoning.WithEmbeddings(reasoning.NewEmbeddings(4)))
	r.AddFact("occupation", []string{"gerald", "merchant"}, 1)
	r.AddFact("has", []string{"gerald", "potion"}, 0.8)
	err := r.AddRule(reasoning.Rule{
		Name:       "merchant-sells",
		Premises:   []reasoning.Formula{reasoning.MustParseFormula("occupation(?x, merchant)"), reasoning.MustParseFormula("has(?x, ?item)")},
		Conclusion: reasoning.MustParseFormula("sells(?x, ?item)"),
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	r.ForwardChain(5)
	return kb, r
}

func TestCapture(t *testing.T) {
	t.Parallel()
	kb, r := world(t)
	if got := r.Query("sells", "gerald", "potion"); len(got) != 1 {
		t.Fatalf("fixture did not derive sells(gerald, potion): %v", got)
	}

	snap := store.Capture(kb, r)
	if len(snap.Triples) != 2 {
		t.Errorf("Triples = %d, want 2", len(snap.Triples))
	}
	if len(snap.Facts) != 2 {
		t.Errorf("Facts = %v, want the 2 observed facts only", snap.Facts)
	}
	for _, f := range snap.Facts {
		if f.Derived {
			t.Errorf("derived fact %s captured", f)
		}
	}
	for _, e := range []string{"gerald", "merchant", "potion"} {
		if len(snap.Entities[e]) != 4 {
			t.Errorf("Entities[%q] = %v, want 4 dimensions", e, snap.Entities[e])
		}
	}
	if snap.Dimension() != 4 {
		t.Errorf("Dimension = %d, want 4", snap.Dimension())
	}
	if snap.Empty() {
		t.Error("Empty = true for a populated world")
	}
}

func TestCapture_Nil(t *testing.T) {
	t.Parallel()
	snap := store.Capture(nil, nil)
	if !snap.Empty() || snap.Dimension() != 0 {
		t.Errorf("Capture(nil, nil) = %+v, want empty", snap)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	kb, r := world(t)
	snap := store.Capture(kb, r)

	kb2 := knowledge.New()
	kb2.Store("stale", "is", "gone", 1)
	r2 := reasoning.New(reasoning.WithEmbeddings(reasoning.NewEmbeddings(4)))
	if err := store.Restore(snap, kb2, r2); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if kb2.HasFact("stale", "is", "gone") {
		t.Error("Restore kept a triple that was not in the snapshot")
	}
	if !kb2.HasFact("gerald", "occupation", "merchant") {
		t.Error("Restore lost gerald's occupation")
	}
	if v, ok := r2.QueryFact("has", []string{"gerald", "potion"}); !ok || v.Truth != 0.8 {
		t.Errorf("QueryFact(has) = %v, %v, want truth 0.8", v, ok)
	}
	if _, ok := r2.QueryFact("sells", []string{"gerald", "potion"}); ok {
		t.Error("derived fact restored without a rule")
	}
	if sim := r2.Embeddings().Similarity("gerald", "gerald"); sim < 0.999 {
		t.Errorf("Similarity(gerald, gerald) = %v after restore", sim)
	}
	want := r.Embeddings().Similarity("gerald", "potion")
	if got := r2.Embeddings().Similarity("gerald", "potion"); got-want > 1e-4 || want-got > 1e-4 {
		t.Errorf("Similarity(gerald, potion) = %v, want %v", got, want)
	}
}

func TestRestore_DimensionMismatch(t *testing.T) {
	t.Parallel()
	snap := store.Snapshot{Entities: map[string][]float32{"gerald": {1, 0}}}
	r := reasoning.New(reasoning.WithEmbeddings(reasoning.NewEmbeddings(4)))
	if err := store.Restore(snap, nil, r); err == nil {
		t.Error("Restore with 2-dimensional vectors into a 4-dimensional table succeeded")
	}
}
