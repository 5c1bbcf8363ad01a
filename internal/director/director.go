// Package director manages who an NPC is talking to. Each NPC is either idle
// or in a conversation with exactly one player; conversations with other
// players are turned away until it ends. Every (NPC, player) pair keeps its
// own [dialogue.Context], which survives the end of a conversation so that
// it can be resumed.
package director

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/hooks"
	"github.com/MrWong99/npcmind/internal/observe"
)

// Fixed replies of the director.
const (
	UnknownReply = "..."
	BusyReply    = "I'm busy with someone else right now."
)

// ErrUnknownNPC is returned for NPC ids that were never registered.
var ErrUnknownNPC = errors.New("director: unknown npc")

// QuestLine is one trigger/response pair of injected quest dialogue.
type QuestLine struct {
	Trigger  string `json:"trigger" yaml:"trigger"`
	Response string `json:"response" yaml:"response"`
}

type pairKey struct{ npc, player string }

type npcState struct {
	npc    dialogue.NPCContext
	active string // player id, "" when idle
}

// Director routes conversations to a shared [dialogue.Engine]. All methods
// are safe for concurrent use.
type Director struct {
	engine  *dialogue.Engine
	hooks   *hooks.Registry
	metrics *observe.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	npcs  map[string]*npcState
	convs map[pairKey]*dialogue.Context
}

// Option configures a [Director].
type Option func(*Director)

// WithHooks sets the host hook registry. An empty registry is used
// otherwise.
func WithHooks(r *hooks.Registry) Option {
	return func(d *Director) { d.hooks = r }
}

// WithMetrics sets the metrics sink. [observe.DefaultMetrics] is used
// otherwise.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Director) { d.metrics = m }
}

// WithClock overrides time.Now for idle eviction.
func WithClock(now func() time.Time) Option {
	return func(d *Director) { d.now = now }
}

// New returns a director using engine for every conversation.
func New(engine *dialogue.Engine, opts ...Option) *Director {
	d := &Director{
		engine: engine,
		now:    time.Now,
		npcs:   make(map[string]*npcState),
		convs:  make(map[pairKey]*dialogue.Context),
	}
	for _, o := range opts {
		o(d)
	}
	if d.hooks == nil {
		d.hooks = hooks.New()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Engine returns the dialogue engine.
func (d *Director) Engine() *dialogue.Engine { return d.engine }

// Hooks returns the hook registry.
func (d *Director) Hooks() *hooks.Registry { return d.hooks }

// RegisterNPC adds or replaces the NPC id. An empty npc.ID is set to id.
// Replacing an NPC keeps its conversation state.
func (d *Director) RegisterNPC(id string, npc dialogue.NPCContext) {
	if npc.ID == "" {
		npc.ID = id
	}
	d.engine.RegisterNPC(npc)

	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.npcs[id]; ok {
		st.npc = npc
		return
	}
	d.npcs[id] = &npcState{npc: npc}
}

// NPC returns a copy of the registered NPC id.
func (d *Director) NPC(id string) (dialogue.NPCContext, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.npcs[id]
	if !ok {
		return dialogue.NPCContext{}, false
	}
	return cloneNPC(st.npc), true
}

// NPCs returns the ids of all registered NPCs, sorted.
func (d *Director) NPCs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.npcs))
	for id := range d.npcs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func cloneNPC(n dialogue.NPCContext) dialogue.NPCContext {
	n.KnownFacts = slices.Clone(n.KnownFacts)
	n.Secrets = slices.Clone(n.Secrets)
	n.RecentEvents = slices.Clone(n.RecentEvents)
	n.Traits = maps.Clone(n.Traits)
	return n
}

// begin makes playerID the NPC's partner and returns the pair's context.
// busy reports that the NPC talks to someone else; nothing changes then.
func (d *Director) begin(ctx context.Context, npcID, playerID string) (npc dialogue.NPCContext, dctx *dialogue.Context, known, busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.npcs[npcID]
	if !ok {
		return dialogue.NPCContext{}, nil, false, false
	}
	if st.active != "" && st.active != playerID {
		return cloneNPC(st.npc), nil, true, true
	}
	if st.active == "" {
		st.active = playerID
		d.metrics.ActiveConversations.Add(ctx, 1)
	}
	key := pairKey{npcID, playerID}
	dctx, ok = d.convs[key]
	if !ok {
		dctx = dialogue.NewContext(npcID, playerID)
		dctx.SetHistorySize(d.engine.Config().HistorySize)
		dctx.SetLocation(st.npc.Location)
		d.convs[key] = dctx
	}
	return cloneNPC(st.npc), dctx, true, false
}

// StartConversation opens a conversation and returns the NPC's greeting.
// An unknown NPC answers [UnknownReply] and an NPC talking to another
// player answers [BusyReply]. Starting an already running conversation
// greets again.
func (d *Director) StartConversation(ctx context.Context, npcID, playerID string) string {
	npc, _, known, busy := d.begin(ctx, npcID, playerID)
	switch {
	case !known:
		return UnknownReply
	case busy:
		return BusyReply
	}
	ctx = observe.WithConversation(ctx, npcID, playerID)
	greeting := dialogue.Greeting(npc.Name, npc.Mood)
	res := d.hooks.OnConversationStart(ctx, npcID, playerID)
	observe.Logger(ctx).Info("director: conversation started")
	return applyHook(res, greeting)
}

// ContinueConversation answers input. A player the NPC is not yet talking
// to starts a conversation implicitly; a player it cannot talk to gets a
// fallback result with [BusyReply].
func (d *Director) ContinueConversation(ctx context.Context, npcID, playerID, input string) dialogue.Result {
	ctx, span := observe.StartSpan(observe.WithConversation(ctx, npcID, playerID), "director.ContinueConversation")
	defer span.End()

	npc, dctx, known, busy := d.begin(ctx, npcID, playerID)
	switch {
	case !known:
		return dialogue.Result{Text: UnknownReply, Source: dialogue.SourceFallback, Consistent: true}
	case busy:
		return dialogue.Result{Text: BusyReply, Source: dialogue.SourceFallback, Consistent: true}
	}

	topic := dctx.Session().Topic()
	res := d.engine.GenerateResponse(ctx, input, npc, dctx)
	if now := dctx.Session().Topic(); now != topic {
		d.hooks.OnTopicChanged(ctx, npcID, playerID, now)
	}
	res.Text = applyHook(d.hooks.OnNPCSpeaks(ctx, npcID, playerID, res.Text), res.Text)
	return res
}

// applyHook returns the text the host wants shown instead of text.
func applyHook(res hooks.Result, text string) string {
	switch {
	case !res.Handled:
		return text
	case res.Suppress:
		return ""
	case res.ModifiedText != "":
		return res.ModifiedText
	}
	return text
}

// EndConversation closes the conversation and returns the NPC's farewell.
// The pair's history is kept. Ending a conversation the player is not part
// of only says farewell.
func (d *Director) EndConversation(ctx context.Context, npcID, playerID string) string {
	d.mu.Lock()
	st, ok := d.npcs[npcID]
	if !ok {
		d.mu.Unlock()
		return UnknownReply
	}
	ended := st.active == playerID
	if ended {
		st.active = ""
	}
	mood := st.npc.Mood
	d.mu.Unlock()

	farewell := dialogue.Farewell(mood)
	if !ended {
		return farewell
	}
	ctx = observe.WithConversation(ctx, npcID, playerID)
	d.metrics.ActiveConversations.Add(ctx, -1)
	res := d.hooks.OnConversationEnd(ctx, npcID, playerID)
	observe.Logger(ctx).Info("director: conversation ended")
	return applyHook(res, farewell)
}

// Context returns the conversation context of the pair, if one exists.
func (d *Director) Context(npcID, playerID string) (*dialogue.Context, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.convs[pairKey{npcID, playerID}]
	return c, ok
}

// History returns the kept exchanges of the pair, oldest first.
func (d *Director) History(npcID, playerID string) []dialogue.Exchange {
	c, ok := d.Context(npcID, playerID)
	if !ok {
		return nil
	}
	return c.Exchanges()
}

// IsInConversation reports whether the NPC is talking to anyone.
func (d *Director) IsInConversation(npcID string) bool {
	_, ok := d.ActivePlayer(npcID)
	return ok
}

// ActivePlayer returns the player the NPC is talking to.
func (d *Director) ActivePlayer(npcID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.npcs[npcID]
	if !ok || st.active == "" {
		return "", false
	}
	return st.active, true
}

// ActiveCount returns the number of NPCs in a conversation.
func (d *Director) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, st := range d.npcs {
		if st.active != "" {
			n++
		}
	}
	return n
}

// InjectQuestDialogue adds quest lines to the engine and marks questID as
// the quest under discussion in the NPC's conversations, where templates
// can read it as the "quest" predicate.
func (d *Director) InjectQuestDialogue(npcID, questID string, lines []QuestLine) error {
	d.mu.RLock()
	_, ok := d.npcs[npcID]
	var convs []*dialogue.Context
	for k, c := range d.convs {
		if k.npc == npcID {
			convs = append(convs, c)
		}
	}
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("director: inject quest %q: %w: %q", questID, ErrUnknownNPC, npcID)
	}

	var errs []error
	for _, l := range lines {
		if err := d.engine.AddPattern(l.Trigger, l.Response); err != nil {
			errs = append(errs, fmt.Errorf("director: inject quest %q: %w", questID, err))
		}
	}
	for _, c := range convs {
		c.SetQuest(questID)
	}
	return errors.Join(errs...)
}

// UpdateNPCKnowledge appends fact to what the NPC knows. Known facts reach
// the generator's prompt.
func (d *Director) UpdateNPCKnowledge(npcID, fact string) error {
	return d.updateNPC(npcID, func(n *dialogue.NPCContext) {
		if !slices.Contains(n.KnownFacts, fact) {
			n.KnownFacts = append(n.KnownFacts, fact)
		}
	})
}

// SetMood changes the NPC's mood.
func (d *Director) SetMood(npcID, mood string) error {
	return d.updateNPC(npcID, func(n *dialogue.NPCContext) { n.Mood = mood })
}

func (d *Director) updateNPC(npcID string, fn func(*dialogue.NPCContext)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.npcs[npcID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNPC, npcID)
	}
	// Copy first so NPC values handed out earlier never change.
	n := cloneNPC(st.npc)
	fn(&n)
	st.npc = n
	return nil
}

// EvictIdle drops the contexts of pairs that have been quiet for longer
// than maxIdle and ends their conversation if it is still running. It
// returns the number of dropped contexts.
func (d *Director) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := d.now().Add(-maxIdle)

	d.mu.Lock()
	var ended []pairKey
	evicted := 0
	for k, c := range d.convs {
		if !c.LastActive().Before(cutoff) {
			continue
		}
		delete(d.convs, k)
		evicted++
		if st := d.npcs[k.npc]; st != nil && st.active == k.player {
			st.active = ""
			ended = append(ended, k)
		}
	}
	d.mu.Unlock()

	for _, k := range ended {
		d.metrics.ActiveConversations.Add(ctx, -1)
		d.hooks.OnConversationEnd(ctx, k.npc, k.player)
	}
	if evicted > 0 {
		observe.Logger(ctx).Info("director: evicted idle conversations", "count", evicted, "ended", len(ended))
	}
	return evicted
}

// RunEvictor calls [Director.EvictIdle] every interval until ctx is done.
func (d *Director) RunEvictor(ctx context.Context, interval, maxIdle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.EvictIdle(ctx, maxIdle)
		}
	}
}
