// Package mock provides a test double for the embeddings.Provider interface.
//
//	p := &mock.Provider{
//	    Vectors:         map[string][]float32{"wolf": {1, 0}, "dog": {0.9, 0.1}},
//	    DimensionsValue: 2,
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps a text to the vector returned for it. Texts missing from
	// the map get a zero vector of length DimensionsValue.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records the text of every Embed call.
	EmbedCalls []string

	// EmbedBatchCalls records a copy of the texts of every EmbedBatch call.
	EmbedBatchCalls [][]string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch records the call and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, slices.Clone(texts))
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *Provider) vector(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return slices.Clone(v)
	}
	return make([]float32, p.DimensionsValue)
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}
