// Package embedseed replaces the random initial entity embeddings of a
// reasoner with vectors from a text-embedding model, so that similarity
// based inference starts from meaningful neighbours.
package embedseed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// ErrDimensionMismatch is returned when the model's vectors do not fit the
// embedding table.
var ErrDimensionMismatch = errors.New("embedseed: dimension mismatch")

const (
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

// Seeder fetches entity vectors from an embeddings provider.
type Seeder struct {
	provider    embeddings.Provider
	batchSize   int
	concurrency int
}

// Option configures a [Seeder].
type Option func(*Seeder)

// WithBatchSize sets how many entities go into one EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency sets how many batches are in flight at once.
func WithConcurrency(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New returns a seeder backed by p.
func New(p embeddings.Provider, opts ...Option) *Seeder {
	s := &Seeder{provider: p, batchSize: defaultBatchSize, concurrency: defaultConcurrency}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Seed embeds each entity and stores the vector in emb. Entities the model
// returns an all-zero vector for keep their current embedding. It returns
// the number of entities seeded; on error some batches may already have
// been stored.
func (s *Seeder) Seed(ctx context.Context, emb *reasoning.Embeddings, entities []string) (int, error) {
	if d := s.provider.Dimensions(); d != emb.Dimension() {
		return 0, fmt.Errorf("%w: model %s has %d, table has %d", ErrDimensionMismatch, s.provider.ModelID(), d, emb.Dimension())
	}
	entities = slices.Compact(slices.Sorted(slices.Values(entities)))
	if len(entities) > 0 && entities[0] == "" {
		entities = entities[1:]
	}

	var seeded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for batch := range slices.Chunk(entities, s.batchSize) {
		g.Go(func() error {
			vecs, err := s.provider.EmbedBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("embedseed: embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedseed: embed batch: got %d vectors for %d texts", len(vecs), len(batch))
			}
			for i, v := range vecs {
				if isZero(v) {
					continue
				}
				if err := emb.Set(batch[i], v); err != nil {
					return fmt.Errorf("embedseed: %w", err)
				}
				seeded.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	n := int(seeded.Load())
	slog.Info("embedseed: seeded entity embeddings", "model", s.provider.ModelID(), "entities", len(entities), "seeded", n)
	return n, err
}

// SeedReasoner seeds every entity that appears as an argument of one of r's
// facts.
func (s *Seeder) SeedReasoner(ctx context.Context, r *reasoning.Reasoner) (int, error) {
	var entities []string
	for _, f := range r.Facts() {
		entities = append(entities, f.Args...)
	}
	return s.Seed(ctx, r.Embeddings(), entities)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
