// Package app wires all npcmind subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the knowledge base,
// reasoner, brain, response cache, dialogue engine and director from the
// config and restores persisted state; Run serves the HTTP API and the
// background loops; Shutdown saves state and tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithStore,
// WithCache, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/config"
	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/dialogue/rediscache"
	"github.com/MrWong99/npcmind/internal/director"
	"github.com/MrWong99/npcmind/internal/embedseed"
	"github.com/MrWong99/npcmind/internal/feedback"
	"github.com/MrWong99/npcmind/internal/health"
	"github.com/MrWong99/npcmind/internal/hooks"
	"github.com/MrWong99/npcmind/internal/observe"
	"github.com/MrWong99/npcmind/internal/server"
	"github.com/MrWong99/npcmind/internal/store"
	"github.com/MrWong99/npcmind/internal/store/postgres"
	"github.com/MrWong99/npcmind/internal/store/sqlite"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
	"github.com/MrWong99/npcmind/pkg/provider/llm"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// DefaultEvictInterval is how often idle conversations are looked for when
// server.idle_timeout is set.
const DefaultEvictInterval = time.Minute

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by the command via the config
// registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	logLevel *slog.LevelVar
	hooks    *hooks.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	kb       *knowledge.Base
	reasoner *reasoning.Reasoner
	brain    *brain.Engine
	report   brain.LoadReport
	cache    dialogue.Cache
	engine   *dialogue.Engine
	director *director.Director
	store    store.Store
	health   *health.Handler
	server   *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	mu       sync.Mutex // guards cfg during reloads
	saveMu   sync.Mutex // serialises snapshot saves
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snapshot store instead of opening the configured one.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCache injects a response cache instead of creating one from config.
func WithCache(c dialogue.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithHooks uses r for conversation hooks. A logging hook is added to it.
func WithHooks(r *hooks.Registry) Option {
	return func(a *App) { a.hooks = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from the command (populated via the config registry). Use
// Option functions to inject test doubles.
//
// New performs all initialisation synchronously: reasoner and rule loading,
// brain loading, store restore, embedding seeding, cache connection and NPC
// registration. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.hooks == nil {
		a.hooks = hooks.New()
	}
	a.hooks.Register(hooks.ConversationStart, hooks.Log(slog.Default()))
	a.hooks.Register(hooks.ConversationEnd, hooks.Log(slog.Default()))
	a.health = health.New()

	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Knowledge base + reasoner ─────────────────────────────────────
	if err := a.initReasoning(); err != nil {
		return nil, fmt.Errorf("app: init reasoning: %w", err)
	}

	// ── 2. Brain ─────────────────────────────────────────────────────────
	if err := a.initBrain(ctx); err != nil {
		return nil, fmt.Errorf("app: init brain: %w", err)
	}

	// ── 3. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 4. Response cache ────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 5. Dialogue engine + director ────────────────────────────────────
	a.initEngine()
	if err := a.registerNPCs(cfg.NPCs); err != nil {
		return nil, fmt.Errorf("app: register npcs: %w", err)
	}

	// ── 6. Embeddings + inference ────────────────────────────────────────
	if err := a.initEmbeddings(ctx); err != nil {
		return nil, fmt.Errorf("app: seed embeddings: %w", err)
	}
	derived := a.reasoner.ForwardChain(cfg.Reasoning.MaxIterations)
	a.metrics.RecordDerivedFacts(ctx, len(derived))
	slog.Info("app: forward chaining done", "derived", len(derived), "facts", len(a.reasoner.Facts()))

	// ── 7. HTTP server ───────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithMaxDepth(cfg.Reasoning.MaxDepth),
	}
	if a.gatherer != nil {
		srvOpts = append(srvOpts, server.WithGatherer(a.gatherer))
	}
	if tls := cfg.Server.TLS; tls != nil {
		srvOpts = append(srvOpts, server.WithTLS(tls.CertFile, tls.KeyFile))
	}
	if path := cfg.Server.FeedbackPath; path != "" {
		srvOpts = append(srvOpts, server.WithFeedback(feedback.NewFileStore(path)))
	}
	a.server = server.New(a.director, srvOpts...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initReasoning creates the knowledge base and reasoner and loads the
// configured facts and rules files.
func (a *App) initReasoning() error {
	rc := a.cfg.Reasoning
	a.kb = knowledge.New(knowledge.WithHopDiscount(rc.HopDiscount))
	a.reasoner = reasoning.New(
		reasoning.WithEmbeddings(reasoning.NewEmbeddings(rc.EmbeddingDimensions)),
		reasoning.WithTruthThreshold(rc.TruthThreshold),
		reasoning.WithDerivedDiscount(rc.DerivedDiscount),
		reasoning.WithFunctional(dialogue.FunctionalPredicates...),
	)

	if rc.Facts != "" {
		f, err := os.Open(rc.Facts)
		if err != nil {
			return fmt.Errorf("open facts %q: %w", rc.Facts, err)
		}
		skipped, err := a.reasoner.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load facts %q: %w", rc.Facts, err)
		}
		if skipped > 0 {
			slog.Warn("app: skipped malformed fact lines", "path", rc.Facts, "skipped", skipped)
		}
	}
	if rc.Rules != "" {
		f, err := os.Open(rc.Rules)
		if err != nil {
			return fmt.Errorf("open rules %q: %w", rc.Rules, err)
		}
		rules, facts, err := a.reasoner.LoadRules(f)
		f.Close()
		if err != nil {
			// Invalid entries are skipped; the rest is usable.
			slog.Warn("app: rules file has invalid entries", "path", rc.Rules, "err", err)
		}
		slog.Info("app: loaded rules", "path", rc.Rules, "rules", rules, "facts", facts)
	}
	return nil
}

// initBrain builds the pattern brain on the shared knowledge base and loads
// the configured category files, or the embedded default brain when none
// are configured.
func (a *App) initBrain(ctx context.Context) error {
	bc := a.cfg.Brain
	opts := []brain.Option{brain.WithKnowledgeBase(a.kb)}
	if bc.MaxReductionDepth > 0 {
		opts = append(opts, brain.WithMaxReductionDepth(bc.MaxReductionDepth))
	}
	if bc.NoMatchResponse != "" {
		opts = append(opts, brain.WithNoMatchResponse(bc.NoMatchResponse))
	}
	a.brain = brain.New(opts...)
	for k, v := range bc.Bot {
		a.brain.SetBotProperty(k, v)
	}
	for name, members := range bc.Sets {
		a.brain.AddSet(name, members)
	}

	var err error
	if len(bc.Files) == 0 {
		a.report, err = a.brain.LoadDefault()
	} else {
		a.report, err = a.brain.LoadFiles(ctx, bc.Files...)
	}
	if err != nil {
		return err
	}
	slog.Info("app: brain loaded", "categories", a.brain.Len(), "files", len(bc.Files))
	return nil
}

// OpenStore opens the snapshot store selected by cfg. It returns nil and
// no error when persistence is disabled.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, sc.PostgresDSN, cfg.Reasoning.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// initStore opens the configured snapshot store and restores its content.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		s, err := OpenStore(ctx, a.cfg)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		a.store = s
	}
	if p, ok := a.store.(pinger); ok {
		a.health.Add(health.Checker{Name: "store", Check: p.Ping})
	}
	a.closers = append(a.closers, a.store.Close)

	snap, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if snap.Empty() {
		slog.Info("app: store is empty, starting fresh", "backend", a.cfg.Store.Backend)
		return nil
	}
	if err := store.Restore(snap, a.kb, a.reasoner); err != nil {
		return err
	}
	slog.Info("app: restored snapshot",
		"triples", len(snap.Triples),
		"facts", len(snap.Facts),
		"entities", len(snap.Entities),
	)
	return nil
}

// initCache creates the response cache if one wasn't injected.
func (a *App) initCache(ctx context.Context) error {
	if a.cache != nil {
		return nil
	}
	cc := a.cfg.Cache
	if cc.Backend != config.CacheRedis {
		a.cache = dialogue.NewMemoryCache(a.cfg.Dialogue.EngineConfig().CacheMaxSize)
		return nil
	}

	opts := []rediscache.Option{rediscache.WithMaxSize(a.cfg.Dialogue.EngineConfig().CacheMaxSize)}
	if cc.Prefix != "" {
		opts = append(opts, rediscache.WithPrefix(cc.Prefix))
	}
	if cc.TTL > 0 {
		opts = append(opts, rediscache.WithTTL(cc.TTL))
	}
	rc, err := rediscache.Dial(ctx, cc.RedisURL, opts...)
	if err != nil {
		return err
	}
	a.cache = rc
	a.closers = append(a.closers, rc.Close)
	a.health.Add(health.Checker{Name: "cache", Check: rc.Ping})
	return nil
}

// initEngine builds the dialogue engine and the director on top of it.
func (a *App) initEngine() {
	dc := a.cfg.Dialogue
	opts := []dialogue.Option{
		dialogue.WithConfig(dc.EngineConfig()),
		dialogue.WithBrain(a.brain),
		dialogue.WithReasoner(a.reasoner),
		dialogue.WithCache(a.cache),
		dialogue.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		var genOpts []dialogue.GeneratorOption
		if dc.Temperature != nil {
			genOpts = append(genOpts, dialogue.WithTemperature(*dc.Temperature))
		}
		if dc.CreativeTemperature != nil {
			genOpts = append(genOpts, dialogue.WithCreativeTemperature(*dc.CreativeTemperature))
		}
		if dc.MaxTokens > 0 {
			genOpts = append(genOpts, dialogue.WithMaxTokens(dc.MaxTokens))
		}
		opts = append(opts, dialogue.WithGenerator(dialogue.NewLLMGenerator(a.providers.LLM, genOpts...)))
	} else {
		slog.Warn("app: no LLM provider, low-confidence inputs get fallback responses")
	}
	a.engine = dialogue.New(opts...)
	a.director = director.New(a.engine,
		director.WithHooks(a.hooks),
		director.WithMetrics(a.metrics),
	)
}

// registerNPCs registers every NPC with the director and injects its
// quest dialogue.
func (a *App) registerNPCs(npcs []config.NPCConfig) error {
	if len(npcs) == 0 {
		slog.Warn("no NPCs configured")
	}
	var errs []error
	for _, npc := range npcs {
		a.director.RegisterNPC(npc.ID, npc.NPCContext())
		if err := a.injectQuests(npc); err != nil {
			errs = append(errs, err)
		}
		slog.Info("app: registered NPC", "id", npc.ID, "name", npc.Name, "quests", len(npc.Quests))
	}
	return errors.Join(errs...)
}

func (a *App) injectQuests(npc config.NPCConfig) error {
	var errs []error
	for _, q := range npc.Quests {
		lines := make([]director.QuestLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			lines = append(lines, director.QuestLine{Trigger: l.Trigger, Response: l.Response})
		}
		if err := a.director.InjectQuestDialogue(npc.ID, q.ID, lines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initEmbeddings replaces random entity vectors with model embeddings.
func (a *App) initEmbeddings(ctx context.Context) error {
	if !a.cfg.Reasoning.SeedEmbeddings {
		return nil
	}
	if a.providers.Embeddings == nil {
		slog.Warn("app: reasoning.seed_embeddings is set but no embeddings provider was created")
		return nil
	}
	n, err := embedseed.New(a.providers.Embeddings).SeedReasoner(ctx, a.reasoner)
	if err != nil {
		return err
	}
	slog.Info("app: seeded entity embeddings", "entities", n, "model", a.providers.Embeddings.ModelID())
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Director returns the conversation director.
func (a *App) Director() *director.Director { return a.director }

// Engine returns the dialogue engine.
func (a *App) Engine() *dialogue.Engine { return a.engine }

// Knowledge returns the shared knowledge base.
func (a *App) Knowledge() *knowledge.Base { return a.kb }

// Reasoner returns the logic reasoner.
func (a *App) Reasoner() *reasoning.Reasoner { return a.reasoner }

// Server returns the HTTP API server.
func (a *App) Server() *server.Server { return a.server }

// BrainReport returns the diagnostics of the brain load.
func (a *App) BrainReport() brain.LoadReport { return a.report }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API, evicts idle conversations and autosaves until
// ctx is cancelled, then returns context.Canceled (or the first failure).
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, cfg.Server.ListenAddr)
	})
	if cfg.Server.IdleTimeout > 0 {
		g.Go(func() error {
			a.director.RunEvictor(gctx, min(DefaultEvictInterval, cfg.Server.IdleTimeout), cfg.Server.IdleTimeout)
			return nil
		})
	}
	if a.store != nil && cfg.Store.AutosaveInterval > 0 {
		g.Go(func() error {
			a.autosave(gctx, cfg.Store.AutosaveInterval)
			return nil
		})
	}

	slog.Info("app running", "npcs", len(a.director.NPCs()), "listen_addr", cfg.Server.ListenAddr)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) autosave(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.Save(ctx); err != nil {
				slog.Warn("app: autosave failed", "err", err)
			}
		}
	}
}

// Save writes the knowledge base, observed facts and embeddings to the
// store. Without a store it does nothing.
func (a *App) Save(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	snap := store.Capture(a.kb, a.reasoner)
	if err := a.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("app: save: %w", err)
	}
	slog.Debug("app: snapshot saved", "triples", len(snap.Triples), "facts", len(snap.Facts))
	return nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next: the log level, the
// dialogue tuning and NPC profiles. Sections that need a restart are
// logged. It is meant as a [config.Watcher] callback.
func (a *App) Reload(next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.DialogueChanged {
		a.engine.SetConfig(next.Dialogue.EngineConfig())
		slog.Info("app: dialogue config reloaded")
	}

	npcs := make(map[string]config.NPCConfig, len(next.NPCs))
	for _, n := range next.NPCs {
		npcs[n.ID] = n
	}
	for _, nd := range d.NPCChanges {
		npc, ok := npcs[nd.ID]
		switch {
		case nd.Removed:
			// The director has no removal; the NPC keeps answering until
			// restart.
			slog.Warn("app: NPC removed from config, restart to drop it", "id", nd.ID)
		case !ok:
		case nd.Added || nd.ProfileChanged || nd.LocationChanged || nd.KnowledgeChanged:
			a.director.RegisterNPC(npc.ID, npc.NPCContext())
		case nd.MoodChanged:
			if err := a.director.SetMood(npc.ID, npc.Mood); err != nil {
				slog.Warn("app: set mood", "id", npc.ID, "err", err)
			}
		}
		if ok && (nd.Added || nd.QuestsChanged) {
			if err := a.injectQuests(npc); err != nil {
				slog.Warn("app: inject quests", "id", npc.ID, "err", err)
			}
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: some config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown saves a final snapshot and tears down all subsystems. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.Save(ctx); err != nil {
			slog.Error("final save failed", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
