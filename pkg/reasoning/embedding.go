package reasoning

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultDimension is the embedding size used when none is configured.
const DefaultDimension = 64

// relationRate is the step size LearnRelation uses.
const relationRate = 0.1

// Similar is one entry returned by [Embeddings.FindSimilar].
type Similar struct {
	Entity     string
	Similarity float64
}

// Embeddings maps entities and relations to fixed-size unit vectors.
// Entity vectors start random and are refined with [Embeddings.Update] or
// seeded from an external model with [Embeddings.Set]. Relation vectors are
// learned as translations from subject to object.
type Embeddings struct {
	mu        sync.RWMutex
	dim       int
	entities  map[string][]float64
	order     []string
	relations map[string][]float64
	rng       *rand.Rand
}

// EmbeddingOption configures [NewEmbeddings].
type EmbeddingOption func(*Embeddings)

// WithSeed makes vector initialisation deterministic.
func WithSeed(seed uint64) EmbeddingOption {
	return func(e *Embeddings) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewEmbeddings returns an empty table of dim-sized vectors. A dim ≤ 0 uses
// [DefaultDimension].
func NewEmbeddings(dim int, opts ...EmbeddingOption) *Embeddings {
	if dim <= 0 {
		dim = DefaultDimension
	}
	e := &Embeddings{
		dim:       dim,
		entities:  make(map[string][]float64),
		relations: make(map[string][]float64),
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Dimension returns the vector size.
func (e *Embeddings) Dimension() int { return e.dim }

// Len returns the number of entity vectors.
func (e *Embeddings) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entities)
}

// Has reports whether entity has a vector.
func (e *Embeddings) Has(entity string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.entities[entity]
	return ok
}

// Get returns a copy of the vector for entity, creating a random unit vector
// on first use.
func (e *Embeddings) Get(entity string) []float64 {
	e.mu.RLock()
	v, ok := e.entities[entity]
	e.mu.RUnlock()
	if ok {
		return slices.Clone(v)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.getLocked(entity))
}

func (e *Embeddings) getLocked(entity string) []float64 {
	if v, ok := e.entities[entity]; ok {
		return v
	}
	v := make([]float64, e.dim)
	for i := range v {
		v[i] = e.rng.Float64()*2 - 1
	}
	normalize(v)
	e.entities[entity] = v
	e.order = append(e.order, entity)
	return v
}

// Set stores vec (normalised) as the embedding of entity. Vectors of the
// wrong size are rejected.
func (e *Embeddings) Set(entity string, vec []float32) error {
	if len(vec) != e.dim {
		return fmt.Errorf("reasoning: embedding for %q has %d dimensions, want %d", entity, len(vec), e.dim)
	}
	v := make([]float64, e.dim)
	for i, x := range vec {
		v[i] = float64(x)
	}
	normalize(v)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entities[entity]; !ok {
		e.order = append(e.order, entity)
	}
	e.entities[entity] = v
	return nil
}

// Update moves the embedding of entity towards context by rate and
// renormalises: emb += rate·(context−emb).
func (e *Embeddings) Update(entity string, context []float64, rate float64) {
	if len(context) != e.dim {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.getLocked(entity)
	next := slices.Clone(v)
	for i := range next {
		next[i] += rate * (context[i] - next[i])
	}
	normalize(next)
	e.entities[entity] = next
}

// LearnRelation nudges the relation vector towards the translation from
// subject to object.
func (e *Embeddings) LearnRelation(subject, relation, object string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.getLocked(subject)
	o := e.getLocked(object)
	rel, ok := e.relations[relation]
	if !ok {
		rel = make([]float64, e.dim)
	} else {
		rel = slices.Clone(rel)
	}
	for i := range rel {
		rel[i] += relationRate * ((o[i] - s[i]) - rel[i])
	}
	e.relations[relation] = rel
}

// PredictObject returns the entity whose vector is closest to
// subject+relation, excluding subject itself. It returns "" when the
// relation has never been learned or there are no candidates.
func (e *Embeddings) PredictObject(subject, relation string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rel, ok := e.relations[relation]
	if !ok {
		return ""
	}
	s, ok := e.entities[subject]
	if !ok {
		return ""
	}
	target := make([]float64, e.dim)
	for i := range target {
		target[i] = s[i] + rel[i]
	}

	best, bestSim := "", math.Inf(-1)
	for _, name := range e.order {
		if name == subject {
			continue
		}
		if sim := cosine(target, e.entities[name]); sim > bestSim {
			best, bestSim = name, sim
		}
	}
	return best
}

// Similarity returns the cosine similarity of two entities, or 0 when either
// is unknown.
func (e *Embeddings) Similarity(a, b string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	va, okA := e.entities[a]
	vb, okB := e.entities[b]
	if !okA || !okB {
		return 0
	}
	return cosine(va, vb)
}

// FindSimilar returns up to k entities ordered by descending cosine
// similarity to entity. The entity itself is excluded. Ties keep insertion
// order.
func (e *Embeddings) FindSimilar(entity string, k int) []Similar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.entities[entity]
	if !ok || k <= 0 {
		return nil
	}
	out := make([]Similar, 0, len(e.order))
	for _, name := range e.order {
		if name == entity {
			continue
		}
		out = append(out, Similar{Entity: name, Similarity: cosine(v, e.entities[name])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Snapshot returns a copy of every entity vector.
func (e *Embeddings) Snapshot() map[string][]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]float64, len(e.entities))
	for k, v := range e.entities {
		out[k] = slices.Clone(v)
	}
	return out
}

// Relations returns a copy of every relation vector.
func (e *Embeddings) Relations() map[string][]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]float64, len(e.relations))
	for k, v := range e.relations {
		out[k] = slices.Clone(v)
	}
	return out
}

// SetRelation stores a relation vector as is.
func (e *Embeddings) SetRelation(relation string, vec []float64) error {
	if len(vec) != e.dim {
		return fmt.Errorf("reasoning: relation %q has %d dimensions, want %d", relation, len(vec), e.dim)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.relations[relation] = slices.Clone(vec)
	return nil
}

// Clone returns an independent copy of the table.
func (e *Embeddings) Clone() *Embeddings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := &Embeddings{
		dim:       e.dim,
		entities:  make(map[string][]float64, len(e.entities)),
		relations: make(map[string][]float64, len(e.relations)),
		order:     slices.Clone(e.order),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for k, v := range e.entities {
		c.entities[k] = slices.Clone(v)
	}
	for k, v := range e.relations {
		c.relations[k] = slices.Clone(v)
	}
	return c
}

// Save writes the entity vectors in a line-oriented format: the dimension,
// the entity count, then for each entity its name on one line and its
// space-separated components on the next.
func (e *Embeddings) Save(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%d\n", e.dim, len(e.order))
	for _, name := range e.order {
		bw.WriteString(name)
		bw.WriteByte('\n')
		for i, x := range e.entities[name] {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("reasoning: save embeddings: %w", err)
	}
	return nil
}

// Load replaces the entity vectors with those read from r. The dimension in
// the stream must match the table's.
func (e *Embeddings) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	line, ok := next()
	if !ok {
		return fmt.Errorf("reasoning: load embeddings: missing dimension")
	}
	dim, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("reasoning: load embeddings: dimension: %w", err)
	}
	if dim != e.dim {
		return fmt.Errorf("reasoning: load embeddings: dimension %d, want %d", dim, e.dim)
	}
	line, ok = next()
	if !ok {
		return fmt.Errorf("reasoning: load embeddings: missing count")
	}
	count, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("reasoning: load embeddings: count: %w", err)
	}

	entities := make(map[string][]float64, count)
	order := make([]string, 0, count)
	for n := range count {
		name, ok := next()
		if !ok {
			return fmt.Errorf("reasoning: load embeddings: entity %d: unexpected end of input", n)
		}
		values, ok := next()
		if !ok {
			return fmt.Errorf("reasoning: load embeddings: %q: missing vector", name)
		}
		fields := strings.Fields(values)
		if len(fields) != dim {
			return fmt.Errorf("reasoning: load embeddings: %q has %d values, want %d", name, len(fields), dim)
		}
		v := make([]float64, dim)
		for i, f := range fields {
			if v[i], err = strconv.ParseFloat(f, 64); err != nil {
				return fmt.Errorf("reasoning: load embeddings: %q: %w", name, err)
			}
		}
		if _, dup := entities[name]; !dup {
			order = append(order, name)
		}
		entities[name] = v
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reasoning: load embeddings: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.entities = entities
	e.order = order
	return nil
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
