package resilience

import (
	"context"

	"github.com/MrWong99/npcmind/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [FallbackGroup] of LLM
// backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete sends req to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks the primary. Token estimates are local and a failure here
// says nothing about backend health, so it bypasses the breakers.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

// Capabilities returns the smallest limits across all entries, since any of
// them may end up serving a request.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	f.mu.RLock()
	defer f.mu.RUnlock()
	caps := f.entries[0].value.Capabilities()
	for _, e := range f.entries[1:] {
		c := e.value.Capabilities()
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}
