package brain

import (
	"maps"
	"strconv"
	"sync"

	"github.com/MrWong99/npcmind/internal/personality"
)

// EmotionPredicatePrefix prefixes the session predicates that expose an
// NPC's emotions to templates, e.g. <get name="emotion_anger"/>.
const EmotionPredicatePrefix = "emotion_"

// Manager keeps one [Session] and one emotional state per NPC on top of a
// shared [Engine]. It is the lightweight pattern-only front end; the hybrid
// dialogue engine keeps its own per-conversation contexts.
//
// All methods are safe for concurrent use.
type Manager struct {
	engine *Engine

	mu       sync.RWMutex
	sessions map[string]*Session
	emotions map[string]map[string]float64
}

// NewManager returns a Manager backed by e.
func NewManager(e *Engine) *Manager {
	return &Manager{
		engine:   e,
		sessions: make(map[string]*Session),
		emotions: make(map[string]map[string]float64),
	}
}

// Engine returns the shared engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Session returns the session of npc, creating it on first use.
func (m *Manager) Session(npc string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[npc]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[npc]; ok {
		return s
	}
	s = NewSession(npc)
	m.sessions[npc] = s
	return s
}

// DropSession forgets the session of npc. Emotions are kept.
func (m *Manager) DropSession(npc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, npc)
}

// GenerateResponse applies npc's emotions to its session and replies with
// the personality styling for traits.
func (m *Manager) GenerateResponse(npc, input string, traits personality.Traits) string {
	s := m.Session(npc)
	if emotions := m.Emotions(npc); len(emotions) > 0 {
		applyEmotions(s, emotions)
	}
	return m.engine.RespondWithPersonality(input, s, traits)
}

// StoreNPCFact records a fact about npc in the shared knowledge base.
func (m *Manager) StoreNPCFact(npc, predicate, object string) {
	m.engine.kb.Store(npc, predicate, object, 1)
}

// NPCKnowledge summarises what the knowledge base holds about npc.
func (m *Manager) NPCKnowledge(npc string) string {
	return m.engine.kb.Summarize(npc)
}

// UpdateEmotion sets the intensity of one emotion of npc, clamped to [0,1].
// It takes effect on the next [Manager.GenerateResponse].
func (m *Manager) UpdateEmotion(npc, emotion string, intensity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em, ok := m.emotions[npc]
	if !ok {
		em = make(map[string]float64)
		m.emotions[npc] = em
	}
	em[emotion] = min(max(intensity, 0), 1)
}

// Emotions returns a copy of npc's emotional state.
func (m *Manager) Emotions(npc string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.emotions[npc])
}

// ApplyEmotions copies npc's emotional state into s, typically the session
// of a conversation the NPC is having.
func (m *Manager) ApplyEmotions(npc string, s *Session) {
	if emotions := m.Emotions(npc); len(emotions) > 0 {
		applyEmotions(s, emotions)
	}
}

// applyEmotions exposes emotions as emotion_<name> predicates and derives
// the cognitive load as the summed intensity over three, capped at 1.
func applyEmotions(s *Session, emotions map[string]float64) {
	var total float64
	s.mu.Lock()
	for name, v := range emotions {
		s.predicates[EmotionPredicatePrefix+name] = strconv.FormatFloat(v, 'f', -1, 64)
		total += v
	}
	s.mu.Unlock()
	s.SetCognitiveLoad(min(1, total/3))
}
