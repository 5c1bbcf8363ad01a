package hooks_test

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/npcmind/internal/hooks"
)

func constant(res hooks.Result) hooks.Func {
	return func(context.Context, hooks.Data) hooks.Result { return res }
}

func TestInvoke_Merge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		hooks []hooks.Result
		want  hooks.Result
	}{
		{"none", nil, hooks.Result{}},
		{"unhandled ignored", []hooks.Result{{ModifiedText: "x", Suppress: true}}, hooks.Result{}},
		{
			"later text wins",
			[]hooks.Result{{Handled: true, ModifiedText: "first"}, {Handled: true, ModifiedText: "second"}},
			hooks.Result{Handled: true, ModifiedText: "second"},
		},
		{
			"empty text keeps earlier",
			[]hooks.Result{{Handled: true, ModifiedText: "first"}, {Handled: true}},
			hooks.Result{Handled: true, ModifiedText: "first"},
		},
		{
			"suppress sticks",
			[]hooks.Result{{Handled: true, Suppress: true}, {Handled: true, ModifiedText: "t"}},
			hooks.Result{Handled: true, ModifiedText: "t", Suppress: true},
		},
		{
			"choices replaced",
			[]hooks.Result{{Handled: true, ModifiedChoices: []string{"a"}}, {Handled: true, ModifiedChoices: []string{"b", "c"}}},
			hooks.Result{Handled: true, ModifiedChoices: []string{"b", "c"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := hooks.New()
			for _, res := range tt.hooks {
				r.Register(hooks.NPCSpeaks, constant(res))
			}
			got := r.OnNPCSpeaks(context.Background(), "gerald", "p1", "Hello.")
			if got.Handled != tt.want.Handled || got.ModifiedText != tt.want.ModifiedText ||
				got.Suppress != tt.want.Suppress || !slices.Equal(got.ModifiedChoices, tt.want.ModifiedChoices) {
				t.Errorf("Invoke = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInvoke_OnlyMatchingEvent(t *testing.T) {
	t.Parallel()
	r := hooks.New()
	var got []hooks.Data
	r.Register(hooks.PlayerChoiceSelected, func(_ context.Context, d hooks.Data) hooks.Result {
		got = append(got, d)
		return hooks.Result{}
	})
	r.OnConversationStart(context.Background(), "gerald", "p1")
	r.OnPlayerChoiceSelected(context.Background(), "gerald", "p1", 2, "Buy")

	if len(got) != 1 {
		t.Fatalf("hook called %d times, want 1", len(got))
	}
	if d := got[0]; d.Event != hooks.PlayerChoiceSelected || d.ChoiceIndex != 2 || d.Text != "Buy" || d.NPCID != "gerald" {
		t.Errorf("Data = %+v", d)
	}
}

func TestInvoke_RecoversPanic(t *testing.T) {
	t.Parallel()
	r := hooks.New()
	r.Register(hooks.TopicChanged, func(context.Context, hooks.Data) hooks.Result { panic("boom") })
	r.Register(hooks.TopicChanged, constant(hooks.Result{Handled: true, ModifiedText: "after"}))

	got := r.OnTopicChanged(context.Background(), "gerald", "p1", "trade")
	if !got.Handled || got.ModifiedText != "after" {
		t.Errorf("Invoke = %+v, want the hook after the panic to apply", got)
	}
}

func TestRegistry_UnregisterAndClear(t *testing.T) {
	t.Parallel()
	r := hooks.New()
	h1 := r.Register(hooks.ConversationStart, constant(hooks.Result{}))
	h2 := r.Register(hooks.ConversationStart, constant(hooks.Result{}))
	r.Register(hooks.ConversationEnd, constant(hooks.Result{}))
	r.Register(hooks.PlayerChoicesShown, hooks.Log(slog.Default()))
	if h1 == h2 {
		t.Fatalf("Register returned duplicate handle %d", h1)
	}

	r.Unregister(h1)
	r.Unregister(h1)
	if n := r.Len(hooks.ConversationStart); n != 1 {
		t.Errorf("Len(start) after Unregister = %d, want 1", n)
	}
	r.Clear(hooks.ConversationStart)
	if n := r.Len(hooks.ConversationStart); n != 0 {
		t.Errorf("Len(start) after Clear = %d, want 0", n)
	}
	if n := r.Len(hooks.ConversationEnd); n != 1 {
		t.Errorf("Clear removed other events: Len(end) = %d", n)
	}
	r.ClearAll()
	if n := r.Len(hooks.ConversationEnd) + r.Len(hooks.PlayerChoicesShown); n != 0 {
		t.Errorf("ClearAll left %d hooks", n)
	}
}

func TestInvoke_ChoicesAreCopied(t *testing.T) {
	t.Parallel()
	r := hooks.New()
	r.Register(hooks.PlayerChoicesShown, func(_ context.Context, d hooks.Data) hooks.Result {
		d.Choices[0] = "mutated"
		return hooks.Result{}
	})
	choices := []string{"Buy", "Sell"}
	r.OnPlayerChoicesShown(context.Background(), "gerald", "p1", choices)
	if choices[0] != "Buy" {
		t.Errorf("hook mutated the caller's choices: %q", choices)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()
	var r hooks.Registry
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := r.Register(hooks.NPCSpeaks, constant(hooks.Result{Handled: true}))
			r.Unregister(h)
		}()
		go func() {
			defer wg.Done()
			r.OnNPCSpeaks(context.Background(), "n", "p", "t")
		}()
	}
	wg.Wait()
	if n := r.Len(hooks.NPCSpeaks); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}
