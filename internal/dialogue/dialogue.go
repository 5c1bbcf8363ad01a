// Package dialogue is the hybrid dialogue engine. It answers player input
// from the pattern brain when a category matches well, falls back to a
// generative [Generator] for everything else, and blends the two when both
// have something useful to say.
//
// Every response passes through the same pipeline: cache lookup, pattern
// matching, optional generation, blending, personality styling, consistency
// validation against the NPC's facts, topic extraction, and finally the
// conversation history and cache update. Inconsistent responses are flagged,
// never blocked.
package dialogue

import (
	"time"

	"github.com/MrWong99/npcmind/internal/personality"
)

// Source identifies which part of the engine produced a response.
type Source string

const (
	SourcePattern    Source = "pattern"
	SourceGenerative Source = "generative"
	SourceHybrid     Source = "hybrid"
	SourceFallback   Source = "fallback"
	SourceCached     Source = "cached"
)

// Confidence values assigned by the engine itself.
const (
	cachedConfidence   = 0.8
	fallbackConfidence = 0.2
	noGenConfidence    = 0.1
	cacheMinConfidence = 0.5
)

// NPCContext describes the speaking NPC. The engine treats it as read-only.
type NPCContext struct {
	// ID is the opaque NPC identifier. When empty the lowercased Name is used
	// as the NPC's subject in the reasoner.
	ID           string
	Name         string
	Occupation   string
	Traits       personality.Traits
	Mood         string
	Location     string
	KnownFacts   []string
	Secrets      []string
	RecentEvents []string
}

// Result is the outcome of one engine call.
type Result struct {
	Text            string
	Source          Source
	Confidence      float64
	PatternScore    float64
	GenerativeScore float64

	// Consistent is false when the validator found a problem; Problems
	// lists what it found.
	Consistent bool
	Problems   []string

	Emotion   string
	Topics    []string
	Entities  []string
	Keywords  []string
	Intent    string
	Sentiment string

	Latency time.Duration
}

// DefaultFallbackResponses are used when neither the brain nor the
// generator produced text.
var DefaultFallbackResponses = []string{
	"Hmm, I'm not sure what to say about that.",
	"Could you rephrase that?",
	"I don't quite follow. What do you mean?",
	"That's... interesting. Tell me more.",
}

// Config tunes the engine.
type Config struct {
	// PatternConfidenceThreshold is the pattern score from which the brain
	// answers alone, without consulting the generator.
	PatternConfidenceThreshold float64

	EnableConsistencyCheck bool
	EnablePersonality      bool
	EnableCaching          bool

	// SkipStatefulCaching keeps pattern replies that read or changed
	// session state out of the cache. Off by default: a repeated input in
	// the same conversation is answered from the cache.
	SkipStatefulCaching bool

	// CacheMaxSize bounds the in-memory cache. Reaching it evicts about half
	// of the entries.
	CacheMaxSize int

	FallbackResponses []string

	// HistorySize is the number of exchanges a [Context] keeps.
	HistorySize int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		PatternConfidenceThreshold: 0.6,
		EnableConsistencyCheck:     true,
		EnablePersonality:          true,
		EnableCaching:              true,
		CacheMaxSize:               1000,
		FallbackResponses:          append([]string(nil), DefaultFallbackResponses...),
		HistorySize:                DefaultHistorySize,
	}
}

// Stats are running engine counters.
type Stats struct {
	Total               int
	Pattern             int
	Generative          int
	Hybrid              int
	Fallback            int
	CacheHits           int
	ConsistencyFailures int
	AvgLatency          time.Duration
}
