// Package embeddings defines the Provider interface for text embedding
// backends.
//
// NPC reasoning keeps one vector per entity (people, places, items) so that
// an NPC can guess facts about an entity it has never heard of from entities
// that look alike. Those vectors start out random; an embeddings provider
// lets the host seed them from a real model instead, so that "wolf" starts
// near "dog" and far from "tavern".
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the same length, reported by
// Dimensions.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes one vector per text in a single call. The i-th
	// result corresponds to texts[i]. On error the whole slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector.
	Dimensions() int

	// ModelID returns the model identifier, e.g. "text-embedding-3-small".
	ModelID() string
}
