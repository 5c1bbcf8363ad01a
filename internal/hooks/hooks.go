// Package hooks lets a host game intercept dialogue as it happens. A host
// registers callbacks for conversation events; the director invokes them
// when a conversation starts, when the NPC speaks and when it ends, and
// applies whatever the callbacks ask for.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/npcmind/internal/observe"
)

// Event identifies a point in a conversation.
type Event string

const (
	ConversationStart    Event = "conversation_start"
	ConversationEnd      Event = "conversation_end"
	NPCSpeaks            Event = "npc_speaks"
	PlayerChoicesShown   Event = "player_choices_shown"
	PlayerChoiceSelected Event = "player_choice_selected"
	TopicChanged         Event = "topic_changed"
)

// Data describes an event. Fields that do not apply to the event are zero.
type Data struct {
	Event    Event
	NPCID    string
	PlayerID string
	Text     string
	// ChoiceIndex is the selected choice for [PlayerChoiceSelected], -1
	// otherwise.
	ChoiceIndex int
	Choices     []string
	Topic       string
}

// Result is what a hook asks for. Unless Handled is set the rest is
// ignored.
type Result struct {
	// Handled skips the default processing of the event.
	Handled         bool
	ModifiedText    string
	ModifiedChoices []string
	// Suppress asks the host not to display anything.
	Suppress bool
}

// Func is a hook callback.
type Func func(ctx context.Context, d Data) Result

// Handle identifies a registered hook.
type Handle uint64

type entry struct {
	handle Handle
	event  Event
	fn     Func
}

// Registry holds the registered hooks. The zero value is ready to use and
// all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	next    Handle
	entries []entry
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// Register adds fn for event. Hooks run in registration order.
func (r *Registry) Register(event Event, fn Func) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry{handle: r.next, event: event, fn: fn})
	return r.next
}

// Unregister removes the hook h. Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = slices.DeleteFunc(r.entries, func(e entry) bool { return e.handle == h })
}

// Clear removes every hook for event.
func (r *Registry) Clear(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = slices.DeleteFunc(r.entries, func(e entry) bool { return e.event == event })
}

// ClearAll removes every hook.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Len returns the number of hooks registered for event.
func (r *Registry) Len(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.event == event {
			n++
		}
	}
	return n
}

// Invoke runs the hooks for d.Event and merges the results of those that
// handled it: later hooks override text and choices, and any hook can
// suppress. A panicking hook is logged and skipped.
func (r *Registry) Invoke(ctx context.Context, d Data) Result {
	r.mu.RLock()
	var fns []entry
	for _, e := range r.entries {
		if e.event == d.Event {
			fns = append(fns, e)
		}
	}
	r.mu.RUnlock()

	var out Result
	for _, e := range fns {
		res, err := call(ctx, e.fn, d)
		if err != nil {
			observe.Logger(ctx).Error("hooks: hook failed", "event", d.Event, "handle", e.handle, "err", err)
			continue
		}
		if !res.Handled {
			continue
		}
		out.Handled = true
		if res.ModifiedText != "" {
			out.ModifiedText = res.ModifiedText
		}
		if len(res.ModifiedChoices) > 0 {
			out.ModifiedChoices = slices.Clone(res.ModifiedChoices)
		}
		out.Suppress = out.Suppress || res.Suppress
	}
	return out
}

func call(ctx context.Context, fn Func, d Data) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	d.Choices = slices.Clone(d.Choices)
	return fn(ctx, d), nil
}

// OnConversationStart invokes the [ConversationStart] hooks.
func (r *Registry) OnConversationStart(ctx context.Context, npcID, playerID string) Result {
	return r.Invoke(ctx, Data{Event: ConversationStart, NPCID: npcID, PlayerID: playerID, ChoiceIndex: -1})
}

// OnConversationEnd invokes the [ConversationEnd] hooks.
func (r *Registry) OnConversationEnd(ctx context.Context, npcID, playerID string) Result {
	return r.Invoke(ctx, Data{Event: ConversationEnd, NPCID: npcID, PlayerID: playerID, ChoiceIndex: -1})
}

// OnNPCSpeaks invokes the [NPCSpeaks] hooks with the line about to be said.
func (r *Registry) OnNPCSpeaks(ctx context.Context, npcID, playerID, text string) Result {
	return r.Invoke(ctx, Data{Event: NPCSpeaks, NPCID: npcID, PlayerID: playerID, Text: text, ChoiceIndex: -1})
}

// OnPlayerChoicesShown invokes the [PlayerChoicesShown] hooks.
func (r *Registry) OnPlayerChoicesShown(ctx context.Context, npcID, playerID string, choices []string) Result {
	return r.Invoke(ctx, Data{Event: PlayerChoicesShown, NPCID: npcID, PlayerID: playerID, Choices: choices, ChoiceIndex: -1})
}

// OnPlayerChoiceSelected invokes the [PlayerChoiceSelected] hooks.
func (r *Registry) OnPlayerChoiceSelected(ctx context.Context, npcID, playerID string, index int, text string) Result {
	return r.Invoke(ctx, Data{Event: PlayerChoiceSelected, NPCID: npcID, PlayerID: playerID, ChoiceIndex: index, Text: text})
}

// OnTopicChanged invokes the [TopicChanged] hooks.
func (r *Registry) OnTopicChanged(ctx context.Context, npcID, playerID, topic string) Result {
	return r.Invoke(ctx, Data{Event: TopicChanged, NPCID: npcID, PlayerID: playerID, Topic: topic, ChoiceIndex: -1})
}

// Log returns a hook that logs every event at Debug and handles nothing.
// It is handy while wiring a new host.
func Log(logger *slog.Logger) Func {
	return func(_ context.Context, d Data) Result {
		logger.Debug("hooks: event", "event", d.Event, "npc", d.NPCID, "player", d.PlayerID,
			"text", d.Text, "topic", d.Topic)
		return Result{}
	}
}
