// Package postgres is a [store.Store] backed by PostgreSQL with the pgvector
// extension. Entity and relation embeddings are kept in vector columns so
// that nearest-neighbour lookups run in the database.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 64)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Save(ctx, store.Capture(kb, reasoner))
//	near, _ := st.Nearest(ctx, postgres.KindEntity, vec, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlKnowledge = `
CREATE TABLE IF NOT EXISTS kb_triples (
    seq         BIGSERIAL         PRIMARY KEY,
    subject     TEXT              NOT NULL,
    predicate   TEXT              NOT NULL,
    object      TEXT              NOT NULL,
    confidence  DOUBLE PRECISION  NOT NULL,
    source      TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_kb_triples_subject   ON kb_triples (subject);
CREATE INDEX IF NOT EXISTS idx_kb_triples_predicate ON kb_triples (predicate);

CREATE TABLE IF NOT EXISTS reasoner_facts (
    seq         BIGSERIAL         PRIMARY KEY,
    predicate   TEXT              NOT NULL,
    args        TEXT[]            NOT NULL,
    truth       DOUBLE PRECISION  NOT NULL,
    confidence  DOUBLE PRECISION  NOT NULL,
    relevance   DOUBLE PRECISION  NOT NULL,
    source      TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reasoner_facts_predicate ON reasoner_facts (predicate);
`

// ddlEmbeddings returns the embedding DDL with the vector size baked into
// the column type.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embeddings (
    kind       TEXT       NOT NULL CHECK (kind IN ('entity', 'relation')),
    name       TEXT       NOT NULL,
    embedding  vector(%d) NOT NULL,
    PRIMARY KEY (kind, name)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_hnsw
    ON embeddings USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates the tables, indexes and the vector extension. It is
// idempotent and safe to call on every start. Changing dimensions after the
// first migration requires dropping the embeddings table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", dimensions)
	}
	for _, stmt := range []string{ddlKnowledge, ddlEmbeddings(dimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
