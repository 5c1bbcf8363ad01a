package reasoning

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// TemporalFact is a fact that holds during [Start, End]. A zero End means the
// fact still holds.
type TemporalFact struct {
	Fact
	Start time.Time
	End   time.Time
}

// HoldsAt reports whether the interval contains t.
func (tf TemporalFact) HoldsAt(t time.Time) bool {
	if t.Before(tf.Start) {
		return false
	}
	return tf.End.IsZero() || !t.After(tf.End)
}

// TemporalReasoner answers questions about facts over time.
type TemporalReasoner struct {
	mu    sync.RWMutex
	facts []TemporalFact
}

// NewTemporalReasoner returns an empty TemporalReasoner.
func NewTemporalReasoner() *TemporalReasoner {
	return &TemporalReasoner{}
}

// AddTemporalFact records that f holds from start until end.
func (t *TemporalReasoner) AddTemporalFact(f Fact, start, end time.Time) {
	f.Args = slices.Clone(f.Args)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.facts = append(t.facts, TemporalFact{Fact: f, Start: start, End: end})
}

func (t *TemporalReasoner) matchingLocked(pred string, args []string) []TemporalFact {
	var out []TemporalFact
	for _, tf := range t.facts {
		if tf.Predicate == pred && argsMatch(args, tf.Args) {
			out = append(out, tf)
		}
	}
	return out
}

// QueryAt returns the value of pred(args...) at instant at. When several
// intervals contain at, the most recently started one wins.
func (t *TemporalReasoner) QueryAt(pred string, args []string, at time.Time) (LogicalValue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best *TemporalFact
	for _, tf := range t.matchingLocked(pred, args) {
		if !tf.HoldsAt(at) {
			continue
		}
		if best == nil || tf.Start.After(best.Start) {
			best = &tf
		}
	}
	if best == nil {
		return Unknown, false
	}
	return best.Value, true
}

// QueryEver returns the strongest value pred(args...) has had in any
// interval.
func (t *TemporalReasoner) QueryEver(pred string, args []string) (LogicalValue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, found := Unknown, false
	for _, tf := range t.matchingLocked(pred, args) {
		if !found || tf.Value.Truth > out.Truth {
			out, found = tf.Value, true
		}
	}
	return out, found
}

// QueryAlways reports whether pred(args...) held throughout [from, to]. When
// the recorded intervals cover the whole range the weakest value among them
// is returned; otherwise the answer is truth 0 at confidence 0.5.
func (t *TemporalReasoner) QueryAlways(pred string, args []string, from, to time.Time) LogicalValue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	notAlways := LogicalValue{Truth: 0, Confidence: 0.5, Relevance: 1}

	var spans []TemporalFact
	for _, tf := range t.matchingLocked(pred, args) {
		if !tf.End.IsZero() && tf.End.Before(from) || tf.Start.After(to) {
			continue
		}
		spans = append(spans, tf)
	}
	if len(spans) == 0 {
		return notAlways
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })

	cursor := from
	value := spans[0].Value
	for _, s := range spans {
		if s.Start.After(cursor) {
			return notAlways
		}
		value = value.And(s.Value)
		if s.End.IsZero() {
			return value
		}
		if s.End.After(cursor) {
			cursor = s.End
		}
		if !cursor.Before(to) {
			return value
		}
	}
	return notAlways
}

// Project returns the facts that hold at instant at, as plain facts.
func (t *TemporalReasoner) Project(at time.Time) []Fact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Fact
	for _, tf := range t.facts {
		if tf.HoldsAt(at) {
			out = append(out, tf.Fact)
		}
	}
	return out
}

// ProjectInto asserts every fact that holds at instant at into r.
func (t *TemporalReasoner) ProjectInto(r *Reasoner, at time.Time) {
	for _, f := range t.Project(at) {
		r.AddFactValue(f.Predicate, f.Args, f.Value)
	}
}
