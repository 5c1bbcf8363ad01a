package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "openai-compat", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultMaxIterations = 10
	DefaultMaxDepth      = 5
	DefaultSQLitePath    = "npcmind.db"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults. NPC IDs default to
// their names.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Reasoning.EmbeddingDimensions == 0 {
		cfg.Reasoning.EmbeddingDimensions = reasoning.DefaultDimension
	}
	if cfg.Reasoning.HopDiscount == 0 {
		cfg.Reasoning.HopDiscount = knowledge.DefaultHopDiscount
	}
	if cfg.Reasoning.TruthThreshold == 0 {
		cfg.Reasoning.TruthThreshold = reasoning.DefaultThreshold
	}
	if cfg.Reasoning.DerivedDiscount == 0 {
		cfg.Reasoning.DerivedDiscount = reasoning.DefaultDerivedDiscount
	}
	if cfg.Reasoning.MaxIterations == 0 {
		cfg.Reasoning.MaxIterations = DefaultMaxIterations
	}
	if cfg.Reasoning.MaxDepth == 0 {
		cfg.Reasoning.MaxDepth = DefaultMaxDepth
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreNone
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = DefaultSQLitePath
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	for i := range cfg.NPCs {
		if cfg.NPCs[i].ID == "" {
			cfg.NPCs[i].ID = cfg.NPCs[i].Name
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be within [0, 1]", r))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout %s must not be negative", cfg.Server.IdleTimeout))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks is set but providers.llm is not configured"))
	}
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
	}
	if len(cfg.Providers.EmbeddingsFallbacks) > 0 && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings_fallbacks is set but providers.embeddings is not configured"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; NPCs will answer from patterns only")
	}

	// Brain
	if cfg.Brain.MaxReductionDepth < 0 {
		errs = append(errs, fmt.Errorf("brain.max_reduction_depth %d must not be negative", cfg.Brain.MaxReductionDepth))
	}

	// Dialogue
	d := cfg.Dialogue
	if t := d.PatternConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("dialogue.pattern_confidence_threshold %.2f is out of range [0, 1]", *t))
	}
	for name, t := range map[string]*float64{"temperature": d.Temperature, "creative_temperature": d.CreativeTemperature} {
		if t != nil && (*t < 0 || *t > 2) {
			errs = append(errs, fmt.Errorf("dialogue.%s %.2f is out of range [0, 2]", name, *t))
		}
	}
	if d.CacheMaxSize < 0 {
		errs = append(errs, fmt.Errorf("dialogue.cache_max_size %d must not be negative", d.CacheMaxSize))
	}
	if d.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("dialogue.history_size %d must not be negative", d.HistorySize))
	}

	// Reasoning
	r := cfg.Reasoning
	if r.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("reasoning.embedding_dimensions %d must be positive", r.EmbeddingDimensions))
	}
	for name, v := range map[string]float64{"hop_discount": r.HopDiscount, "truth_threshold": r.TruthThreshold, "derived_discount": r.DerivedDiscount} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("reasoning.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if r.SeedEmbeddings && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("reasoning.seed_embeddings requires providers.embeddings"))
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: none, sqlite, postgres", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	case cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "":
		errs = append(errs, errors.New("store.sqlite_path is required when store.backend is sqlite"))
	}
	if cfg.Store.AutosaveInterval < 0 {
		errs = append(errs, fmt.Errorf("store.autosave_interval %s must not be negative", cfg.Store.AutosaveInterval))
	}

	// Cache
	switch {
	case cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid():
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, redis", cfg.Cache.Backend))
	case cfg.Cache.Backend == CacheRedis && cfg.Cache.RedisURL == "":
		errs = append(errs, errors.New("cache.redis_url is required when cache.backend is redis"))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// NPCs
	idsSeen := make(map[string]int, len(cfg.NPCs))
	for i, npc := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		if npc.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if npc.ID != "" {
			if prev, ok := idsSeen[npc.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of npcs[%d]", prefix, npc.ID, prev))
			}
			idsSeen[npc.ID] = i
		}
		for trait, v := range npc.Traits {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("%s.traits.%s %.2f is out of range [0, 1]", prefix, trait, v))
			}
		}
		for qi, q := range npc.Quests {
			if q.ID == "" {
				errs = append(errs, fmt.Errorf("%s.quests[%d].id is required", prefix, qi))
			}
			for li, l := range q.Lines {
				if l.Trigger == "" || l.Response == "" {
					errs = append(errs, fmt.Errorf("%s.quests[%d].lines[%d] needs both trigger and response", prefix, qi, li))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
