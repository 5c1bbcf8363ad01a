package dialogue

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/npcmind/internal/brain"
)

// DefaultHistorySize is the number of exchanges a [Context] keeps.
const DefaultHistorySize = 10

// Exchange is one player line and the NPC's answer.
type Exchange struct {
	Player string    `json:"player"`
	NPC    string    `json:"npc"`
	Source Source    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

// Context is the state of one conversation between an NPC and a player. It
// owns the brain session the pattern engine renders against, so predicates
// set by templates persist across turns.
//
// All methods are safe for concurrent use.
type Context struct {
	id       string
	npcID    string
	playerID string
	session  *brain.Session

	mu           sync.Mutex
	limit        int
	exchanges    []Exchange
	topicMemory  map[string]string
	relationship map[string]float64
	quest        string
	location     string
	turns        int
	lastActive   time.Time
}

// NewContext returns an empty conversation between npcID and playerID with a
// fresh random id.
func NewContext(npcID, playerID string) *Context {
	id := uuid.NewString()
	return &Context{
		id:           id,
		npcID:        npcID,
		playerID:     playerID,
		session:      brain.NewSession(id),
		limit:        DefaultHistorySize,
		topicMemory:  make(map[string]string),
		relationship: make(map[string]float64),
		lastActive:   time.Now(),
	}
}

// ID returns the conversation id. It keys the response cache.
func (c *Context) ID() string { return c.id }

// NPCID returns the NPC side of the conversation.
func (c *Context) NPCID() string { return c.npcID }

// PlayerID returns the player side of the conversation.
func (c *Context) PlayerID() string { return c.playerID }

// Session returns the brain session of the conversation.
func (c *Context) Session() *brain.Session { return c.session }

// SetHistorySize changes how many exchanges are kept. Values below 1 are
// ignored.
func (c *Context) SetHistorySize(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = n
	c.trimLocked()
}

// AddExchange appends an exchange, dropping the oldest beyond the history
// size, and counts the turn.
func (c *Context) AddExchange(ex Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.At.IsZero() {
		ex.At = time.Now()
	}
	c.exchanges = append(c.exchanges, ex)
	c.trimLocked()
	c.turns++
	c.lastActive = ex.At
}

func (c *Context) trimLocked() {
	if over := len(c.exchanges) - c.limit; over > 0 {
		c.exchanges = slices.Delete(c.exchanges, 0, over)
	}
}

// Exchanges returns the kept exchanges, oldest first.
func (c *Context) Exchanges() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.exchanges)
}

// TurnCount returns the number of exchanges ever added.
func (c *Context) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// RememberTopic stores what the conversation established about topic.
func (c *Context) RememberTopic(topic, info string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topicMemory[topic] = info
}

// TopicMemory returns what was remembered about topic, or "".
func (c *Context) TopicMemory(topic string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicMemory[topic]
}

// Topics returns a copy of the topic memory.
func (c *Context) Topics() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.topicMemory)
}

// SetRelationship sets a relationship factor such as "trust", clamped to
// [-1,1].
func (c *Context) SetRelationship(factor string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relationship[factor] = min(max(v, -1), 1)
}

// Relationship returns a relationship factor, 0 when unset.
func (c *Context) Relationship(factor string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relationship[factor]
}

// Quest returns the quest under discussion.
func (c *Context) Quest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quest
}

// SetQuest sets the quest under discussion.
func (c *Context) SetQuest(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quest = q
}

// Location returns where the conversation takes place.
func (c *Context) Location() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.location
}

// SetLocation sets where the conversation takes place.
func (c *Context) SetLocation(l string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = l
}

// LastActive returns the time of the last exchange, or creation.
func (c *Context) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}
