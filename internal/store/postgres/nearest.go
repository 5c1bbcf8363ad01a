package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// Neighbour is one result of [Store.Nearest].
type Neighbour struct {
	Name string
	// Distance is the cosine distance to the query, in [0,2].
	Distance float64
}

// Nearest returns the k stored vectors of the given kind closest to query by
// cosine distance, nearest first.
func (s *Store) Nearest(ctx context.Context, kind Kind, query []float32, k int) ([]Neighbour, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimension, len(query), s.dimensions)
	}
	if k <= 0 {
		return []Neighbour{}, nil
	}

	const q = `
		SELECT name, embedding <=> $1 AS distance
		FROM   embeddings
		WHERE  kind = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), string(kind), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbour, error) {
		var n Neighbour
		err := row.Scan(&n.Name, &n.Distance)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan neighbours: %w", err)
	}
	if out == nil {
		out = []Neighbour{}
	}
	return out, nil
}
