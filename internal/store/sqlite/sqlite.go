// Package sqlite is a single-file [store.Store] backed by the pure-Go
// modernc SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/npcmind/internal/store"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS triples (
    seq         INTEGER PRIMARY KEY,
    subject     TEXT    NOT NULL,
    predicate   TEXT    NOT NULL,
    object      TEXT    NOT NULL,
    confidence  REAL    NOT NULL,
    source      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples (subject);

CREATE TABLE IF NOT EXISTS facts (
    seq         INTEGER PRIMARY KEY,
    predicate   TEXT    NOT NULL,
    args        TEXT    NOT NULL,
    truth       REAL    NOT NULL,
    confidence  REAL    NOT NULL,
    relevance   REAL    NOT NULL,
    source      TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS embeddings (
    kind        TEXT    NOT NULL CHECK (kind IN ('entity', 'relation')),
    name        TEXT    NOT NULL,
    vector      BLOB    NOT NULL,
    PRIMARY KEY (kind, name)
);
`

// Store keeps snapshots in one SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema exists.
// The parent directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One writer at a time; SQLite serialises them anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	slog.Debug("sqlite store: opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save implements [store.Store]. The whole snapshot is written in one
// transaction.
func (s *Store) Save(ctx context.Context, snap store.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"triples", "facts", "embeddings"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlite store: clear %s: %w", table, err)
		}
	}

	for _, t := range snap.Triples {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO triples (subject, predicate, object, confidence, source) VALUES (?, ?, ?, ?, ?)`,
			t.Subject, t.Predicate, t.Object, t.Confidence, t.Source,
		); err != nil {
			return fmt.Errorf("sqlite store: insert triple: %w", err)
		}
	}

	for _, f := range snap.Facts {
		args, merr := json.Marshal(f.Args)
		if merr != nil {
			return fmt.Errorf("sqlite store: encode args of %s: %w", f, merr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO facts (predicate, args, truth, confidence, relevance, source) VALUES (?, ?, ?, ?, ?, ?)`,
			f.Predicate, string(args), f.Value.Truth, f.Value.Confidence, f.Value.Relevance, f.Source,
		); err != nil {
			return fmt.Errorf("sqlite store: insert fact: %w", err)
		}
	}

	for kind, vecs := range map[string]map[string][]float32{"entity": snap.Entities, "relation": snap.Relations} {
		for name, v := range vecs {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO embeddings (kind, name, vector) VALUES (?, ?, ?)`,
				kind, name, encodeVector(v),
			); err != nil {
				return fmt.Errorf("sqlite store: insert %s embedding: %w", kind, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot

	rows, err := s.db.QueryContext(ctx, `SELECT subject, predicate, object, confidence, source FROM triples ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("sqlite store: query triples: %w", err)
	}
	for rows.Next() {
		var t knowledge.Triple
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object, &t.Confidence, &t.Source); err != nil {
			rows.Close()
			return snap, fmt.Errorf("sqlite store: scan triple: %w", err)
		}
		snap.Triples = append(snap.Triples, t)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("sqlite store: triples: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT predicate, args, truth, confidence, relevance, source FROM facts ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("sqlite store: query facts: %w", err)
	}
	for rows.Next() {
		var (
			f    reasoning.Fact
			args string
		)
		if err := rows.Scan(&f.Predicate, &args, &f.Value.Truth, &f.Value.Confidence, &f.Value.Relevance, &f.Source); err != nil {
			rows.Close()
			return snap, fmt.Errorf("sqlite store: scan fact: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &f.Args); err != nil {
			rows.Close()
			return snap, fmt.Errorf("sqlite store: decode args of %s: %w", f.Predicate, err)
		}
		snap.Facts = append(snap.Facts, f)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("sqlite store: facts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT kind, name, vector FROM embeddings`)
	if err != nil {
		return snap, fmt.Errorf("sqlite store: query embeddings: %w", err)
	}
	for rows.Next() {
		var (
			kind, name string
			raw        []byte
		)
		if err := rows.Scan(&kind, &name, &raw); err != nil {
			rows.Close()
			return snap, fmt.Errorf("sqlite store: scan embedding: %w", err)
		}
		v, err := decodeVector(raw)
		if err != nil {
			rows.Close()
			return snap, fmt.Errorf("sqlite store: embedding %q: %w", name, err)
		}
		target := &snap.Entities
		if kind == "relation" {
			target = &snap.Relations
		}
		if *target == nil {
			*target = make(map[string][]float32)
		}
		(*target)[name] = v
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("sqlite store: embeddings: %w", err)
	}
	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// encodeVector packs v as little-endian IEEE 754 float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
