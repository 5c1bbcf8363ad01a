// Package config provides the configuration schema, loader, watcher and
// provider registry for the npcmind dialogue server.
package config

import (
	"time"

	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/personality"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StoreBackend selects where knowledge and reasoner state is persisted.
type StoreBackend string

const (
	StoreNone     StoreBackend = "none"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreNone, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// CacheBackend selects the dialogue response cache.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// IsValid reports whether b is a recognised cache backend.
func (b CacheBackend) IsValid() bool {
	return b == CacheMemory || b == CacheRedis
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Brain     BrainConfig     `yaml:"brain"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	NPCs      []NPCConfig     `yaml:"npcs"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// IdleTimeout ends conversations that saw no input for this long.
	// Zero disables eviction.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// FeedbackPath is the JSON lines file player ratings are appended to.
	// Empty disables the feedback route.
	FeedbackPath string `yaml:"feedback_path"`

	// TraceSampleRatio is the fraction of new traces sampled. Zero samples
	// every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the generative and embedding backends. Each entry
// selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`

	// EmbeddingsFallbacks must produce vectors of the same dimension as
	// the primary.
	EmbeddingsFallbacks []ProviderEntry `yaml:"embeddings_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// BrainConfig configures the pattern brain.
type BrainConfig struct {
	// Files lists AIML (.aiml, .xml) or YAML (.yaml, .yml) category files.
	// Entries may be globs or directories. When empty the embedded default
	// brain is loaded.
	Files []string `yaml:"files"`

	// Bot holds <bot name="..."/> properties.
	Bot map[string]string `yaml:"bot"`

	// Sets holds named word sets for <set>name</set> pattern tokens.
	Sets map[string][]string `yaml:"sets"`

	MaxReductionDepth int    `yaml:"max_reduction_depth"`
	NoMatchResponse   string `yaml:"no_match_response"`
}

// DialogueConfig tunes the hybrid engine. Unset pointer toggles default to
// true; SkipStatefulCaching defaults to false.
type DialogueConfig struct {
	PatternConfidenceThreshold *float64 `yaml:"pattern_confidence_threshold"`
	ConsistencyCheck           *bool    `yaml:"consistency_check"`
	Personality                *bool    `yaml:"personality"`
	Caching                    *bool    `yaml:"caching"`
	SkipStatefulCaching        bool     `yaml:"skip_stateful_caching"`
	CacheMaxSize               int      `yaml:"cache_max_size"`
	FallbackResponses          []string `yaml:"fallback_responses"`
	HistorySize                int      `yaml:"history_size"`

	// Temperature and CreativeTemperature feed the LLM generator.
	Temperature         *float64 `yaml:"temperature"`
	CreativeTemperature *float64 `yaml:"creative_temperature"`
	MaxTokens           int      `yaml:"max_tokens"`
}

// EngineConfig overlays the configured values on [dialogue.DefaultConfig].
func (d DialogueConfig) EngineConfig() dialogue.Config {
	cfg := dialogue.DefaultConfig()
	if d.PatternConfidenceThreshold != nil {
		cfg.PatternConfidenceThreshold = *d.PatternConfidenceThreshold
	}
	if d.ConsistencyCheck != nil {
		cfg.EnableConsistencyCheck = *d.ConsistencyCheck
	}
	if d.Personality != nil {
		cfg.EnablePersonality = *d.Personality
	}
	if d.Caching != nil {
		cfg.EnableCaching = *d.Caching
	}
	cfg.SkipStatefulCaching = d.SkipStatefulCaching
	if d.CacheMaxSize > 0 {
		cfg.CacheMaxSize = d.CacheMaxSize
	}
	if len(d.FallbackResponses) > 0 {
		cfg.FallbackResponses = append([]string(nil), d.FallbackResponses...)
	}
	if d.HistorySize > 0 {
		cfg.HistorySize = d.HistorySize
	}
	return cfg
}

// ReasoningConfig configures the knowledge base and the reasoner.
type ReasoningConfig struct {
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	HopDiscount         float64 `yaml:"hop_discount"`
	TruthThreshold      float64 `yaml:"truth_threshold"`
	DerivedDiscount     float64 `yaml:"derived_discount"`

	// MaxIterations bounds forward chaining; MaxDepth bounds backward
	// chaining in queries.
	MaxIterations int `yaml:"max_iterations"`
	MaxDepth      int `yaml:"max_depth"`

	// Rules is a YAML rules file; Facts a line-oriented facts file.
	Rules string `yaml:"rules"`
	Facts string `yaml:"facts"`

	// SeedEmbeddings replaces random entity vectors with vectors from
	// providers.embeddings at startup.
	SeedEmbeddings bool `yaml:"seed_embeddings"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	Backend     StoreBackend `yaml:"backend"`
	SQLitePath  string       `yaml:"sqlite_path"`
	PostgresDSN string       `yaml:"postgres_dsn"`

	// AutosaveInterval saves a snapshot periodically while serving. Zero
	// saves only on shutdown.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

// CacheConfig selects the response cache.
type CacheConfig struct {
	Backend  CacheBackend  `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// NPCConfig describes one NPC.
type NPCConfig struct {
	// ID is the stable identifier used in API paths.
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name"`
	Occupation string             `yaml:"occupation"`
	Traits     personality.Traits `yaml:"traits"`
	Mood       string             `yaml:"mood"`
	Location   string             `yaml:"location"`
	KnownFacts []string           `yaml:"known_facts"`
	Secrets    []string           `yaml:"secrets"`
	Quests     []QuestConfig      `yaml:"quests"`
}

// QuestConfig is quest dialogue injected into an NPC at startup.
type QuestConfig struct {
	ID    string            `yaml:"id"`
	Lines []QuestLineConfig `yaml:"lines"`
}

// QuestLineConfig maps a player pattern to the NPC's quest reply.
type QuestLineConfig struct {
	Trigger  string `yaml:"trigger"`
	Response string `yaml:"response"`
}

// NPCContext converts the entry into the engine's NPC description.
func (n NPCConfig) NPCContext() dialogue.NPCContext {
	return dialogue.NPCContext{
		ID:         n.ID,
		Name:       n.Name,
		Occupation: n.Occupation,
		Traits:     n.Traits,
		Mood:       n.Mood,
		Location:   n.Location,
		KnownFacts: append([]string(nil), n.KnownFacts...),
		Secrets:    append([]string(nil), n.Secrets...),
	}
}
