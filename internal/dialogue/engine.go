package dialogue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/npcmind/internal/brain"
	"github.com/MrWong99/npcmind/internal/fuzzy"
	"github.com/MrWong99/npcmind/internal/observe"
	"github.com/MrWong99/npcmind/internal/personality"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// Thresholds of the blending step.
const (
	hybridPatternMin    = 0.3
	hybridGenerativeMin = 0.5
	verbatimPattern     = 0.7
	shortPatternLen     = 50
	preferPattern       = 0.5
)

// Replies used when one side of the engine has nothing to say.
const (
	EmptyPatternReply = "Hmm?"
	NoGeneratorReply  = "I'm at a loss for words..."
)

// InjectedPriority is the category priority of [Engine.AddPattern].
const InjectedPriority = 5

const (
	injectedSource      = "inject"
	generatorStatusOK   = "ok"
	generatorStatusFail = "error"
)

// PersonalityFunc styles a finished response for the speaking NPC.
type PersonalityFunc func(text string, npc NPCContext) string

// DefaultPersonality applies the Big Five modifiers of npc's traits and a
// moderate stage direction for its mood.
func DefaultPersonality(text string, npc NPCContext) string {
	return personality.AddEmotion(personality.Modify(text, npc.Traits), npc.Mood, 0.5)
}

// Engine is the hybrid dialogue engine. Construct it with [New]; all methods
// are safe for concurrent use.
type Engine struct {
	brain       *brain.Engine
	generator   Generator
	reasoner    *reasoning.Reasoner
	validator   *Validator
	topics      *TopicExtractor
	cache       Cache
	personality PersonalityFunc
	metrics     *observe.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.RWMutex
	cfg         Config
	onGenerated func(input, text string)

	statsMu sync.Mutex
	stats   Stats
}

// Option configures an [Engine].
type Option func(*Engine)

// WithConfig replaces [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithBrain sets the pattern engine. An empty brain is used otherwise.
func WithBrain(b *brain.Engine) Option {
	return func(e *Engine) { e.brain = b }
}

// WithGenerator sets the generative fallback. Without one the engine answers
// from patterns only.
func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithReasoner sets the reasoner consulted by the consistency validator. It
// should mark [FunctionalPredicates] as functional.
func WithReasoner(r *reasoning.Reasoner) Option {
	return func(e *Engine) { e.reasoner = r }
}

// WithCache replaces the in-memory response cache.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithPersonality replaces [DefaultPersonality].
func WithPersonality(f PersonalityFunc) Option {
	return func(e *Engine) { e.personality = f }
}

// WithMetrics sets the metrics sink. [observe.DefaultMetrics] is used
// otherwise.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRand sets the source used to pick fallback responses.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithFuzzyMatcher sets the name matcher shared by the validator and the
// topic extractor.
func WithFuzzyMatcher(m *fuzzy.Matcher) Option {
	return func(e *Engine) {
		e.validator = NewValidator(nil, m)
		e.topics = NewTopicExtractor(m)
	}
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:         DefaultConfig(),
		personality: DefaultPersonality,
	}
	for _, o := range opts {
		o(e)
	}
	if e.brain == nil {
		e.brain = brain.New()
	}
	if e.reasoner == nil {
		e.reasoner = reasoning.New(reasoning.WithFunctional(FunctionalPredicates...))
	}
	if e.topics == nil {
		e.topics = NewTopicExtractor(nil)
	}
	if e.validator == nil {
		e.validator = NewValidator(e.reasoner, nil)
	} else {
		e.validator.reasoner = e.reasoner
	}
	if e.cache == nil {
		e.cache = NewMemoryCache(e.cfg.CacheMaxSize)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Brain returns the pattern engine.
func (e *Engine) Brain() *brain.Engine { return e.brain }

// Reasoner returns the reasoner used for consistency checks.
func (e *Engine) Reasoner() *reasoning.Reasoner { return e.reasoner }

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.cfg
	cfg.FallbackResponses = slices.Clone(cfg.FallbackResponses)
	return cfg
}

// SetConfig replaces the configuration. A new CacheMaxSize applies to the
// built-in memory cache immediately.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	if mc, ok := e.cache.(*MemoryCache); ok {
		mc.SetMaxSize(cfg.CacheMaxSize)
	}
}

// OnGenerated registers a callback invoked with the player input and the
// generated text whenever a response comes from the generator alone.
func (e *Engine) OnGenerated(fn func(input, text string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGenerated = fn
}

// RegisterNPC makes npc known to the engine: its name, occupation and
// location become reasoner facts, and its name joins the roster used for
// entity extraction and impersonation checks.
func (e *Engine) RegisterNPC(npc NPCContext) {
	SeedFacts(e.reasoner, npc)
	e.AddKnownEntity(npc.Name)
}

// AddKnownEntity adds a proper name that topic extraction canonicalises and
// that NPCs must not claim to be.
func (e *Engine) AddKnownEntity(name string) {
	e.topics.AddKnownEntity(name)
	e.validator.AddKnownEntity(name)
}

// AddPattern injects a category, typically quest dialogue. It outranks
// loaded categories of equal specificity.
func (e *Engine) AddPattern(pattern, template string) error {
	return e.brain.AddCategory(pattern, "", "", template, InjectedPriority, injectedSource)
}

// ClearCache empties the response cache.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ValidateResponse checks text against npc. See [Validator.Validate].
func (e *Engine) ValidateResponse(text string, npc NPCContext) error {
	return e.validator.Validate(text, npc)
}

// GenerateResponse answers input from npc within the conversation dctx.
func (e *Engine) GenerateResponse(ctx context.Context, input string, npc NPCContext, dctx *Context) Result {
	ctx, span := observe.StartSpan(ctx, "dialogue.GenerateResponse",
		trace.WithAttributes(
			attribute.String("npc_id", npc.ID),
			attribute.String("conversation_id", dctx.ID()),
		),
	)
	defer span.End()

	start := time.Now()
	cfg := e.Config()
	key := CacheKey(dctx.ID(), input)

	if cfg.EnableCaching {
		if text, ok := e.cacheGet(ctx, key); ok {
			res := Result{
				Text:       text,
				Source:     SourceCached,
				Confidence: cachedConfidence,
				Consistent: true,
			}
			dctx.AddExchange(Exchange{Player: input, NPC: text, Source: SourceCached})
			e.metrics.RecordCacheHit(ctx)
			return e.finish(ctx, span, res, npc, start)
		}
	}

	reply := e.patternReply(input, npc, dctx)
	patternText := ""
	if reply.Matched {
		patternText = reply.Text
	}
	res := Result{PatternScore: reply.Score, Consistent: true}

	switch {
	case reply.Score >= cfg.PatternConfidenceThreshold:
		res.Text, res.Source, res.Confidence = patternText, SourcePattern, reply.Score
	case e.generator != nil:
		gen := e.generate(ctx, GenerationRequest{
			PlayerInput:        input,
			NPC:                npc,
			History:            dctx.Exchanges(),
			RequiresCreativity: true,
		})
		res.GenerativeScore = gen.Confidence
		switch {
		case reply.Score > hybridPatternMin && gen.Confidence > hybridGenerativeMin:
			res.Text = combine(patternText, gen.Text, reply.Score)
			res.Source = SourceHybrid
			res.Confidence = (reply.Score + gen.Confidence) / 2
		case gen.Confidence > reply.Score:
			res.Text, res.Source, res.Confidence = gen.Text, SourceGenerative, gen.Confidence
			res.Emotion = gen.Emotion
			e.notifyGenerated(input, gen.Text)
		default:
			res.Text, res.Source, res.Confidence = patternText, SourcePattern, reply.Score
		}
	case patternText != "":
		res.Text, res.Source, res.Confidence = patternText, SourcePattern, reply.Score
	}

	if res.Text == "" {
		res.Text = e.pickFallback(cfg.FallbackResponses)
		res.Source = SourceFallback
		res.Confidence = fallbackConfidence
	}

	// "that" patterns must see what the player actually heard.
	if res.Text != reply.Text {
		dctx.Session().ReplaceLastResponse(res.Text)
	}

	if cfg.EnablePersonality && e.personality != nil {
		res.Text = e.personality(res.Text, npc)
	}

	if cfg.EnableConsistencyCheck {
		if err := e.validator.Validate(res.Text, npc); err != nil {
			res.Consistent = false
			res.Problems = Problems(err)
			dctx.Session().SetReasoning(err.Error())
			e.metrics.RecordConsistencyFailure(ctx, npc.ID)
			observe.Logger(ctx).Debug("dialogue: inconsistent response",
				"npc", npc.ID, "problems", res.Problems)
		}
	}

	info := e.topics.Extract(input)
	res.Topics, res.Entities, res.Keywords = info.Topics, info.Entities, info.Keywords
	res.Intent, res.Sentiment = info.Intent, info.Sentiment
	for _, t := range info.Topics {
		dctx.RememberTopic(t, res.Text)
	}

	stateful := cfg.SkipStatefulCaching && reply.Volatile && res.Source != SourceGenerative
	if cfg.EnableCaching && res.Confidence > cacheMinConfidence && !stateful {
		if err := e.cache.Set(ctx, key, res.Text); err != nil {
			observe.Logger(ctx).Warn("dialogue: cache set failed", "err", err)
		}
	}

	dctx.AddExchange(Exchange{Player: input, NPC: res.Text, Source: res.Source})
	return e.finish(ctx, span, res, npc, start)
}

// patternReply renders the brain's answer against the conversation's
// session after exposing the NPC's state to templates.
func (e *Engine) patternReply(input string, npc NPCContext, dctx *Context) brain.Reply {
	s := dctx.Session()
	s.SetPredicate("npc_name", npc.Name)
	s.SetPredicate("mood", npc.Mood)
	loc := dctx.Location()
	if loc == "" {
		loc = npc.Location
	}
	s.SetPredicate("location", loc)
	if q := dctx.Quest(); q != "" {
		s.SetPredicate("quest", q)
	}
	return e.brain.Reply(input, s)
}

// generate calls the generator. A failure is logged and reported as a
// zero-confidence generation.
func (e *Engine) generate(ctx context.Context, req GenerationRequest) Generation {
	ctx, span := observe.StartSpan(ctx, "dialogue.Generate")
	start := time.Now()
	gen, err := e.generator.Generate(ctx, req)
	observe.EndSpan(span, err)
	if err != nil {
		e.metrics.RecordGeneratorRequest(ctx, generatorStatusFail, time.Since(start))
		observe.Logger(ctx).Warn("dialogue: generator failed", "npc", req.NPC.ID, "err", err)
		return Generation{}
	}
	e.metrics.RecordGeneratorRequest(ctx, generatorStatusOK, time.Since(start))
	return gen
}

func (e *Engine) notifyGenerated(input, text string) {
	e.mu.RLock()
	fn := e.onGenerated
	e.mu.RUnlock()
	if fn != nil {
		fn(input, text)
	}
}

func (e *Engine) cacheGet(ctx context.Context, key string) (string, bool) {
	text, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		observe.Logger(ctx).Warn("dialogue: cache get failed", "err", err)
		return "", false
	}
	return text, ok
}

func (e *Engine) pickFallback(responses []string) string {
	if len(responses) == 0 {
		responses = DefaultFallbackResponses
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return responses[e.rng.IntN(len(responses))]
}

// finish stamps the latency and updates counters and metrics.
func (e *Engine) finish(ctx context.Context, span trace.Span, res Result, npc NPCContext, start time.Time) Result {
	res.Latency = time.Since(start)

	e.statsMu.Lock()
	s := &e.stats
	s.Total++
	switch res.Source {
	case SourcePattern:
		s.Pattern++
	case SourceGenerative:
		s.Generative++
	case SourceHybrid:
		s.Hybrid++
	case SourceFallback:
		s.Fallback++
	case SourceCached:
		s.CacheHits++
	}
	if !res.Consistent {
		s.ConsistencyFailures++
	}
	s.AvgLatency += (res.Latency - s.AvgLatency) / time.Duration(s.Total)
	e.statsMu.Unlock()

	e.metrics.RecordResponse(ctx, npc.ID, string(res.Source), res.Latency)
	span.SetAttributes(
		attribute.String("source", string(res.Source)),
		attribute.Float64("confidence", res.Confidence),
		attribute.Bool("consistent", res.Consistent),
	)
	slog.Debug("dialogue: response", "npc", npc.ID, "source", res.Source,
		"confidence", res.Confidence, "latency", res.Latency)
	return res
}

// combine blends a pattern reply with a generated one.
func combine(patternText, generated string, score float64) string {
	if score > verbatimPattern {
		return patternText
	}
	if len(patternText) < shortPatternLen && generated != "" {
		if patternText == "" {
			return generated
		}
		return patternText + " " + generated
	}
	if score > preferPattern {
		return patternText
	}
	return generated
}

// GenerateFromPattern answers from the brain alone. A nil dctx renders
// against a throwaway session.
func (e *Engine) GenerateFromPattern(input string, npc NPCContext, dctx *Context) Result {
	if dctx == nil {
		dctx = NewContext(npc.ID, "")
	}
	reply := e.patternReply(input, npc, dctx)
	text := ""
	if reply.Matched {
		text = reply.Text
	}
	if text == "" {
		text = EmptyPatternReply
	}
	return Result{
		Text:         text,
		Source:       SourcePattern,
		Confidence:   reply.Score,
		PatternScore: reply.Score,
		Consistent:   true,
	}
}

// GenerateFromGenerator answers from the generator alone.
func (e *Engine) GenerateFromGenerator(ctx context.Context, input string, npc NPCContext, dctx *Context) Result {
	fallback := Result{
		Text:       NoGeneratorReply,
		Source:     SourceFallback,
		Confidence: noGenConfidence,
		Consistent: true,
	}
	if e.generator == nil {
		return fallback
	}
	var history []Exchange
	if dctx != nil {
		history = dctx.Exchanges()
	}
	gen := e.generate(ctx, GenerationRequest{
		PlayerInput:        input,
		NPC:                npc,
		History:            history,
		RequiresCreativity: true,
	})
	if gen.Text == "" {
		return fallback
	}
	return Result{
		Text:            gen.Text,
		Source:          SourceGenerative,
		Confidence:      gen.Confidence,
		GenerativeScore: gen.Confidence,
		Emotion:         gen.Emotion,
		Consistent:      true,
	}
}
