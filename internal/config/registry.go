package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
	"github.com/MrWong99/npcmind/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when no factory exists for the name
// in a [ProviderEntry].
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a name to factory table for one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(e ProviderEntry) (T, error) {
	fn, ok := f.m[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return fn(e)
}

// Registry maps provider names to factories. A name registered twice keeps
// the last factory. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        factories[llm.Provider]{kind: "llm", m: make(map[string]Factory[llm.Provider])},
		embeddings: factories[embeddings.Provider]{kind: "embeddings", m: make(map[string]Factory[embeddings.Provider])},
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = f
}

// CreateLLM builds the LLM provider named by e. Unknown names yield
// [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(e)
}

// CreateEmbeddings builds the embeddings provider named by e.
func (r *Registry) CreateEmbeddings(e ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(e)
}

// LLMNames returns the registered LLM names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm.m))
}

// EmbeddingsNames returns the registered embeddings names, sorted.
func (r *Registry) EmbeddingsNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.embeddings.m))
}
