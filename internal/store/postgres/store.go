package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/npcmind/internal/store"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

var _ store.Store = (*Store)(nil)

// ErrDimension is returned when a vector does not match the column size.
var ErrDimension = errors.New("postgres store: embedding dimension mismatch")

// Kind selects the entity or relation half of the embeddings table.
type Kind string

const (
	KindEntity   Kind = "entity"
	KindRelation Kind = "relation"
)

// Store persists snapshots in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewStore connects to the database at dsn, installs the vector extension,
// registers pgvector types on every pooled connection and runs [Migrate].
//
// dimensions must match the reasoner's embedding size.
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// The vector type must exist before AfterConnect can register it.
	boot, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	_, err = boot.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	boot.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create extension: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	slog.Info("postgres store: connected", "dimensions", dimensions)
	return &Store{pool: pool, dimensions: dimensions}, nil
}

// Dimensions returns the vector column size.
func (s *Store) Dimensions() int { return s.dimensions }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Save implements [store.Store]. The tables are truncated and refilled in
// one transaction; a vector of the wrong size aborts the save with
// [ErrDimension].
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	for name, v := range snap.Entities {
		if len(v) != s.dimensions {
			return fmt.Errorf("%w: entity %q has %d, want %d", ErrDimension, name, len(v), s.dimensions)
		}
	}
	for name, v := range snap.Relations {
		if len(v) != s.dimensions {
			return fmt.Errorf("%w: relation %q has %d, want %d", ErrDimension, name, len(v), s.dimensions)
		}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "TRUNCATE kb_triples, reasoner_facts, embeddings"); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}

		batch := &pgx.Batch{}
		for _, t := range snap.Triples {
			batch.Queue(
				`INSERT INTO kb_triples (subject, predicate, object, confidence, source) VALUES ($1, $2, $3, $4, $5)`,
				t.Subject, t.Predicate, t.Object, t.Confidence, t.Source,
			)
		}
		for _, f := range snap.Facts {
			batch.Queue(
				`INSERT INTO reasoner_facts (predicate, args, truth, confidence, relevance, source) VALUES ($1, $2, $3, $4, $5, $6)`,
				f.Predicate, f.Args, f.Value.Truth, f.Value.Confidence, f.Value.Relevance, f.Source,
			)
		}
		queueEmbeddings(batch, KindEntity, snap.Entities)
		queueEmbeddings(batch, KindRelation, snap.Relations)

		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

func queueEmbeddings(batch *pgx.Batch, kind Kind, vecs map[string][]float32) {
	for name, v := range vecs {
		batch.Queue(
			`INSERT INTO embeddings (kind, name, embedding) VALUES ($1, $2, $3)`,
			string(kind), name, pgvector.NewVector(v),
		)
	}
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot

	rows, err := s.pool.Query(ctx, `SELECT subject, predicate, object, confidence, source FROM kb_triples ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("postgres store: query triples: %w", err)
	}
	snap.Triples, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Triple, error) {
		var t knowledge.Triple
		err := row.Scan(&t.Subject, &t.Predicate, &t.Object, &t.Confidence, &t.Source)
		return t, err
	})
	if err != nil {
		return snap, fmt.Errorf("postgres store: scan triples: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT predicate, args, truth, confidence, relevance, source FROM reasoner_facts ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("postgres store: query facts: %w", err)
	}
	snap.Facts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (reasoning.Fact, error) {
		var f reasoning.Fact
		err := row.Scan(&f.Predicate, &f.Args, &f.Value.Truth, &f.Value.Confidence, &f.Value.Relevance, &f.Source)
		return f, err
	})
	if err != nil {
		return snap, fmt.Errorf("postgres store: scan facts: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT kind, name, embedding FROM embeddings`)
	if err != nil {
		return snap, fmt.Errorf("postgres store: query embeddings: %w", err)
	}
	type embRow struct {
		kind, name string
		vec        pgvector.Vector
	}
	embs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (embRow, error) {
		var e embRow
		err := r.Scan(&e.kind, &e.name, &e.vec)
		return e, err
	})
	if err != nil {
		return snap, fmt.Errorf("postgres store: scan embeddings: %w", err)
	}
	for _, e := range embs {
		target := &snap.Entities
		if Kind(e.kind) == KindRelation {
			target = &snap.Relations
		}
		if *target == nil {
			*target = make(map[string][]float32)
		}
		(*target)[e.name] = e.vec.Slice()
	}

	if len(snap.Triples) == 0 {
		snap.Triples = nil
	}
	if len(snap.Facts) == 0 {
		snap.Facts = nil
	}
	return snap, nil
}
