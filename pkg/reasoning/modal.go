package reasoning

import "sync"

// ObservationStrength is the belief strength [ModalReasoner.Observe]
// assigns.
const ObservationStrength = 0.9

type belief struct {
	formula Formula
	value   LogicalValue
}

type mind struct {
	beliefs    []belief
	knowledge  []Formula
	intentions []Formula
}

// ModalReasoner tracks what each agent believes, knows and intends.
// Formulas are compared structurally.
type ModalReasoner struct {
	mu    sync.RWMutex
	minds map[string]*mind
}

// NewModalReasoner returns an empty ModalReasoner.
func NewModalReasoner() *ModalReasoner {
	return &ModalReasoner{minds: make(map[string]*mind)}
}

func (m *ModalReasoner) mindLocked(agent string) *mind {
	md, ok := m.minds[agent]
	if !ok {
		md = &mind{}
		m.minds[agent] = md
	}
	return md
}

// SetBelief records that agent believes f with the given strength. An
// existing belief in f is replaced.
func (m *ModalReasoner) SetBelief(agent string, f Formula, strength float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.mindLocked(agent)
	v := Value(clamp01(strength))
	for i := range md.beliefs {
		if md.beliefs[i].formula.Equal(f) {
			md.beliefs[i].value = v
			return
		}
	}
	md.beliefs = append(md.beliefs, belief{formula: f, value: v})
}

// QueryBelief returns how strongly agent believes f. A belief in ¬f counts
// as the negated value. An unknown agent yields truth 0 at confidence 0; a
// known agent with no opinion yields 0.5 at confidence 0.5. Knowledge of f
// counts as full belief.
func (m *ModalReasoner) QueryBelief(agent string, f Formula) LogicalValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.minds[agent]
	if !ok {
		return LogicalValue{Truth: 0, Confidence: 0, Relevance: 1}
	}
	for _, k := range md.knowledge {
		if k.Equal(f) {
			return Value(1)
		}
	}
	neg := Not(f)
	for _, b := range md.beliefs {
		switch {
		case b.formula.Equal(f):
			return b.value
		case b.formula.Equal(neg):
			return b.value.Not()
		case f.Kind == KindNot && b.formula.Equal(f.Sub[0]):
			return b.value.Not()
		}
	}
	return LogicalValue{Truth: 0.5, Confidence: 0.5, Relevance: 1}
}

// SetKnowledge records that agent knows f.
func (m *ModalReasoner) SetKnowledge(agent string, f Formula) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.mindLocked(agent)
	for _, k := range md.knowledge {
		if k.Equal(f) {
			return
		}
	}
	md.knowledge = append(md.knowledge, f)
}

// QueryKnowledge returns full truth when agent knows f and [Unknown]
// otherwise.
func (m *ModalReasoner) QueryKnowledge(agent string, f Formula) LogicalValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if md, ok := m.minds[agent]; ok {
		for _, k := range md.knowledge {
			if k.Equal(f) {
				return Value(1)
			}
		}
	}
	return Unknown
}

// SetIntention records that agent intends f.
func (m *ModalReasoner) SetIntention(agent string, f Formula) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.mindLocked(agent)
	md.intentions = append(md.intentions, f)
}

// Intentions returns what agent intends, in the order recorded.
func (m *ModalReasoner) Intentions(agent string) []Formula {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.minds[agent]
	if !ok {
		return nil
	}
	out := make([]Formula, len(md.intentions))
	copy(out, md.intentions)
	return out
}

// Observe records that agent saw f happen. The observation revises any
// conflicting belief.
func (m *ModalReasoner) Observe(agent string, f Formula) {
	m.ReviseBeliefs(agent, f, ObservationStrength)
}

// ReviseBeliefs drops every belief of agent in f or its negation and then
// adds f at strength.
func (m *ModalReasoner) ReviseBeliefs(agent string, f Formula, strength float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.mindLocked(agent)
	neg := Not(f)
	kept := md.beliefs[:0]
	for _, b := range md.beliefs {
		if b.formula.Equal(f) || b.formula.Equal(neg) || (f.Kind == KindNot && b.formula.Equal(f.Sub[0])) {
			continue
		}
		kept = append(kept, b)
	}
	md.beliefs = append(kept, belief{formula: f, value: Value(clamp01(strength))})
}

// QueryNestedBelief answers "agents[0] believes agents[1] believes ... f".
// The innermost agent's belief is consulted first; each outer level is
// looked up as an explicit belief about the inner one and falls back to
// attenuating the inner value by half its confidence.
func (m *ModalReasoner) QueryNestedBelief(agents []string, f Formula) LogicalValue {
	if len(agents) == 0 {
		return Unknown
	}
	if len(agents) == 1 {
		return m.QueryBelief(agents[0], f)
	}
	nested := f
	for i := len(agents) - 1; i >= 1; i-- {
		nested = Believes(agents[i], nested)
	}

	m.mu.RLock()
	md, ok := m.minds[agents[0]]
	if ok {
		for _, b := range md.beliefs {
			if b.formula.Equal(nested) {
				m.mu.RUnlock()
				return b.value
			}
		}
	}
	m.mu.RUnlock()

	inner := m.QueryNestedBelief(agents[1:], f)
	inner.Confidence *= 0.5
	return inner
}

// Agents returns the agents with any recorded mental state.
func (m *ModalReasoner) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.minds))
	for a := range m.minds {
		out = append(out, a)
	}
	return out
}
