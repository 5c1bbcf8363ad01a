package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] over a [FallbackGroup].
// Vectors from different models are not comparable, so every fallback must
// report the same Dimensions as the primary.
type EmbeddingsFallback struct {
	*FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers p unless its dimensions differ from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) error {
	if want := f.Primary().Dimensions(); p.Dimensions() != want {
		return fmt.Errorf("resilience: embeddings fallback %q has %d dimensions, primary has %d",
			name, p.Dimensions(), want)
	}
	f.FallbackGroup.AddFallback(name, p)
	return nil
}

// Embed implements [embeddings.Provider].
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch implements [embeddings.Provider].
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's dimensions.
func (f *EmbeddingsFallback) Dimensions() int { return f.Primary().Dimensions() }

// ModelID returns the primary's model.
func (f *EmbeddingsFallback) ModelID() string { return f.Primary().ModelID() }
