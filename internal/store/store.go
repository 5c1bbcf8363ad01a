// Package store defines the persistence contract for an NPC world: the
// knowledge base triples, the reasoner's observed facts and the learned
// entity and relation embeddings.
//
// Backends live in subpackages:
//
//   - [github.com/MrWong99/npcmind/internal/store/sqlite] for a local file
//   - [github.com/MrWong99/npcmind/internal/store/postgres] for a shared server
//     with pgvector columns
//
// A backend persists a [Snapshot] as a whole. [Capture] builds one from live
// components and [Restore] loads one back into them.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// Store persists snapshots. Implementations must be safe for concurrent use.
type Store interface {
	// Save replaces the persisted state with snap.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the persisted state. An empty store yields an empty
	// snapshot and no error.
	Load(ctx context.Context) (Snapshot, error)

	// Close releases the backend's resources.
	Close() error
}

// Snapshot is the persistable state of one world.
type Snapshot struct {
	Triples []knowledge.Triple

	// Facts holds only observed facts. Derived facts are recomputed by
	// forward chaining after a restore.
	Facts []reasoning.Fact

	// Entities and Relations hold embedding vectors keyed by name.
	Entities  map[string][]float32
	Relations map[string][]float32
}

// Empty reports whether the snapshot holds nothing.
func (s Snapshot) Empty() bool {
	return len(s.Triples) == 0 && len(s.Facts) == 0 && len(s.Entities) == 0 && len(s.Relations) == 0
}

// Dimension returns the vector size shared by the snapshot's embeddings, or
// 0 when there are none.
func (s Snapshot) Dimension() int {
	for _, v := range s.Entities {
		return len(v)
	}
	for _, v := range s.Relations {
		return len(v)
	}
	return 0
}

// Capture reads the current state of kb and r. Either may be nil.
func Capture(kb *knowledge.Base, r *reasoning.Reasoner) Snapshot {
	var snap Snapshot
	if kb != nil {
		snap.Triples = kb.All()
	}
	if r == nil {
		return snap
	}
	for _, f := range r.Facts() {
		if !f.Derived {
			snap.Facts = append(snap.Facts, f)
		}
	}
	if emb := r.Embeddings(); emb != nil {
		snap.Entities = narrow(emb.Snapshot())
		snap.Relations = narrow(emb.Relations())
	}
	return snap
}

// Restore loads snap into kb and r. Either may be nil. The knowledge base
// contents are replaced; facts and embeddings are merged into r.
func Restore(snap Snapshot, kb *knowledge.Base, r *reasoning.Reasoner) error {
	if kb != nil {
		kb.Replace(snap.Triples)
	}
	if r == nil {
		return nil
	}
	for _, f := range snap.Facts {
		r.AddFactValue(f.Predicate, f.Args, f.Value)
	}

	emb := r.Embeddings()
	if emb == nil {
		return nil
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(snap.Entities)) {
		if err := emb.Set(name, snap.Entities[name]); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(snap.Relations)) {
		if err := emb.SetRelation(name, widen(snap.Relations[name])); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("store: restore embeddings: %w", err)
	}
	return nil
}

func narrow(in map[string][]float64) map[string][]float32 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]float32, len(in))
	for k, v := range in {
		f := make([]float32, len(v))
		for i, x := range v {
			f[i] = float32(x)
		}
		out[k] = f
	}
	return out
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
