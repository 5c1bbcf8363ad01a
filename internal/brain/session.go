package brain

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// TopicPredicate is the predicate that holds the conversation topic.
const TopicPredicate = "topic"

// Session is the state of one conversation between an NPC and a player.
// Templates read and write its predicates; the engine records every input
// and response.
//
// All methods are safe for concurrent use.
type Session struct {
	id string

	mu         sync.Mutex
	inputs     []string
	responses  []string
	predicates map[string]string

	learnedFacts  map[string]string
	preferences   []string
	cognitiveLoad float64
	reasoning     string
	lastActive    time.Time
}

// NewSession returns an empty session with the given id.
func NewSession(id string) *Session {
	return &Session{
		id:           id,
		predicates:   make(map[string]string),
		learnedFacts: make(map[string]string),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Predicate returns a conversation variable.
func (s *Session) Predicate(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.predicates[name]
	return v, ok
}

// SetPredicate stores a conversation variable.
func (s *Session) SetPredicate(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predicates[name] = value
}

// Predicates returns a copy of all conversation variables.
func (s *Session) Predicates() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.predicates)
}

// Topic returns the current topic.
func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topicLocked()
}

// SetTopic sets the current topic.
func (s *Session) SetTopic(topic string) {
	s.SetPredicate(TopicPredicate, topic)
}

func (s *Session) topicLocked() string { return s.predicates[TopicPredicate] }

// Inputs returns the normalised player inputs, oldest first.
func (s *Session) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.inputs)
}

// Responses returns the NPC responses, oldest first.
func (s *Session) Responses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.responses)
}

// LastResponse returns the most recent NPC response.
func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thatLocked(1)
}

// ReplaceLastResponse overwrites the most recent response. Callers that
// answered with something other than the rendered reply use it so that
// "that" patterns see what the player actually heard.
func (s *Session) ReplaceLastResponse(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.responses); n > 0 {
		s.responses[n-1] = text
	}
}

func (s *Session) thatLocked(n int) string { return nth(s.responses, n) }

// nth returns the n-th most recent entry of h (1 = newest).
func nth(h []string, n int) string {
	if n < 1 {
		n = 1
	}
	if n > len(h) {
		return ""
	}
	return h[len(h)-n]
}

func (s *Session) pushInputLocked(in string, limit int) {
	s.inputs = appendCapped(s.inputs, in, limit)
}

func (s *Session) pushResponseLocked(out string, limit int) {
	s.responses = appendCapped(s.responses, out, limit)
}

func appendCapped(h []string, v string, limit int) []string {
	h = append(h, v)
	if over := len(h) - limit; over > 0 {
		h = slices.Delete(h, 0, over)
	}
	return h
}

// LearnFact records something the NPC learned about the player.
func (s *Session) LearnFact(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learnedFacts[key] = value
}

// LearnedFacts returns a copy of the learned facts.
func (s *Session) LearnedFacts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.learnedFacts)
}

// AddPreference records a player preference once.
func (s *Session) AddPreference(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.preferences, p) {
		s.preferences = append(s.preferences, p)
	}
}

// Preferences returns the recorded player preferences.
func (s *Session) Preferences() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.preferences)
}

// CognitiveLoad returns the NPC's current cognitive load in [0,1].
func (s *Session) CognitiveLoad() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cognitiveLoad
}

// SetCognitiveLoad sets the cognitive load, clamped to [0,1].
func (s *Session) SetCognitiveLoad(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cognitiveLoad = min(max(v, 0), 1)
}

// Reasoning returns the last reasoning note attached to the session.
func (s *Session) Reasoning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoning
}

// SetReasoning attaches a reasoning note, such as the explanation of the
// last consistency check.
func (s *Session) SetReasoning(note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoning = note
}

// LastActive returns when the session last produced a reply.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
