package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/npcmind/internal/app"
	"github.com/MrWong99/npcmind/internal/config"
	"github.com/MrWong99/npcmind/internal/resilience"
	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/npcmind/pkg/provider/embeddings/openai"
	"github.com/MrWong99/npcmind/pkg/provider/llm"
	"github.com/MrWong99/npcmind/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/npcmind/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm-go backend shares the same pattern: optional APIKey +
	// optional BaseURL. ollama is a local server and ignores the key.
	for _, providerName := range anyllm.Backends() {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// openai-compat talks to any server speaking the OpenAI chat API
	// (vLLM, LM Studio, LocalAI) through the official SDK.
	reg.RegisterLLM("openai-compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return newOpenAIEmbeddings(entry.APIKey, entry)
	})

	// ollama serves an OpenAI-compatible /v1/embeddings endpoint.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		if entry.BaseURL == "" {
			entry.BaseURL = "http://localhost:11434/v1"
		}
		return newOpenAIEmbeddings("ollama", entry)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

func newOpenAIEmbeddings(apiKey string, entry config.ProviderEntry) (embeddings.Provider, error) {
	p, err := oaembed.New(apiKey, entry.Model, embeddingOptions(entry)...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func embeddingOptions(entry config.ProviderEntry) []oaembed.Option {
	var opts []oaembed.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, oaembed.WithOrganization(org))
	}
	if n := optInt(entry.Options, "dimensions"); n > 0 {
		opts = append(opts, oaembed.WithDimensions(n))
	}
	if d := optDuration(entry.Options, "timeout"); d > 0 {
		opts = append(opts, oaembed.WithTimeout(d))
	}
	return opts
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Configured fallbacks wrap the primary in a circuit-breaking
// [resilience] group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := createLLM(reg, cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		if p != nil && len(cfg.Providers.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLMFallbacks {
				fb, err := createLLM(reg, entry)
				if err != nil {
					return nil, err
				}
				if fb != nil {
					group.AddFallback(entry.Name, fb)
				}
			}
			p = group
		}
		ps.LLM = p
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := createEmbeddings(reg, cfg.Providers.Embeddings)
		if err != nil {
			return nil, err
		}
		if p != nil && len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			group := resilience.NewEmbeddingsFallback(p, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.EmbeddingsFallbacks {
				fb, err := createEmbeddings(reg, entry)
				if err != nil {
					return nil, err
				}
				if fb == nil {
					continue
				}
				if err := group.AddFallback(entry.Name, fb); err != nil {
					return nil, fmt.Errorf("embeddings fallback %q: %w", entry.Name, err)
				}
			}
			p = group
		}
		ps.Embeddings = p
	}

	return ps, nil
}

// createLLM returns nil without error for names the registry does not know.
func createLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", "llm", "name", entry.Name)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	return p, nil
}

// createEmbeddings returns nil without error for names the registry does
// not know.
func createEmbeddings(reg *config.Registry, entry config.ProviderEntry) (embeddings.Provider, error) {
	p, err := reg.CreateEmbeddings(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", "embeddings", "name", entry.Name)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes
// whole numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration string such as "30s" from a provider
// Options map. Missing or malformed values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, _ := time.ParseDuration(optString(opts, key))
	return d
}
