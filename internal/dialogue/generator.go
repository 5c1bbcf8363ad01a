package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/npcmind/internal/personality"
	"github.com/MrWong99/npcmind/pkg/provider/llm"
)

// Confidence reported by [LLMGenerator].
const (
	generatedConfidence = 0.7
	shortConfidence     = 0.5
	shortReplyLen       = 10
)

// GenerationRequest is what a [Generator] gets to work with.
type GenerationRequest struct {
	PlayerInput string
	NPC         NPCContext
	// History is the conversation so far, oldest first.
	History []Exchange
	// RequiresCreativity asks for a more varied answer.
	RequiresCreativity bool
}

// Generation is a generated line.
type Generation struct {
	Text       string
	Confidence float64
	Emotion    string
}

// Generator produces a response when no pattern fits. Implementations must
// be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
}

// LLMGenerator is a [Generator] backed by a chat-completion provider.
type LLMGenerator struct {
	provider    llm.Provider
	temperature float64
	creative    float64
	maxTokens   int
}

var _ Generator = (*LLMGenerator)(nil)

// GeneratorOption configures an [LLMGenerator].
type GeneratorOption func(*LLMGenerator)

// WithTemperature sets the sampling temperature of ordinary requests.
func WithTemperature(t float64) GeneratorOption {
	return func(g *LLMGenerator) { g.temperature = t }
}

// WithCreativeTemperature sets the temperature used when a request sets
// RequiresCreativity.
func WithCreativeTemperature(t float64) GeneratorOption {
	return func(g *LLMGenerator) { g.creative = t }
}

// WithMaxTokens caps the length of generated lines.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *LLMGenerator) { g.maxTokens = n }
}

// NewLLMGenerator returns a generator that prompts p.
func NewLLMGenerator(p llm.Provider, opts ...GeneratorOption) *LLMGenerator {
	g := &LLMGenerator{
		provider:    p,
		temperature: 0.7,
		creative:    0.9,
		maxTokens:   150,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate prompts the provider with the NPC's system prompt, as much of the
// history as fits in the context window and the player's input.
func (g *LLMGenerator) Generate(ctx context.Context, req GenerationRequest) (Generation, error) {
	system := SystemPrompt(req.NPC)

	msgs := make([]llm.Message, 0, 2*len(req.History)+1)
	for _, ex := range req.History {
		msgs = append(msgs, llm.UserMessage(ex.Player), llm.AssistantMessage(ex.NPC))
	}
	msgs = append(msgs, llm.UserMessage(req.PlayerInput))
	msgs = g.fit(system, msgs)

	temp := g.temperature
	if req.RequiresCreativity {
		temp = g.creative
	}
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
		Temperature:  temp,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return Generation{}, fmt.Errorf("dialogue: generate: %w", err)
	}
	if resp == nil {
		return Generation{}, errors.New("dialogue: generate: empty completion")
	}

	text := cleanReply(resp.Content, req.NPC.Name)
	if resp.Truncated {
		text = lastSentence(text)
	}
	conf := generatedConfidence
	if len(text) < shortReplyLen {
		conf = shortConfidence
	}
	return Generation{Text: text, Confidence: conf, Emotion: DetectEmotion(text)}, nil
}

// fit drops the oldest history messages until the prompt leaves room for
// the reply in the model's context window. The player's input is always
// kept.
func (g *LLMGenerator) fit(system string, msgs []llm.Message) []llm.Message {
	caps := g.provider.Capabilities()
	if caps.ContextWindow <= 0 {
		return msgs
	}
	budget := caps.ContextWindow - g.maxTokens
	sys := llm.Message{Role: llm.RoleSystem, Content: system}
	for len(msgs) > 1 {
		n, err := g.provider.CountTokens(append([]llm.Message{sys}, msgs...))
		if err != nil {
			slog.Warn("dialogue: count tokens failed, sending full history", "err", err)
			return msgs
		}
		if n <= budget {
			break
		}
		msgs = msgs[1:]
	}
	return msgs
}

// cleanReply trims whitespace, a leading "Name:" speaker tag and wrapping
// quotes that models like to add.
func cleanReply(text, name string) string {
	text = strings.TrimSpace(text)
	if name != "" {
		if rest, ok := strings.CutPrefix(text, name+":"); ok {
			text = strings.TrimSpace(rest)
		}
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}

// lastSentence cuts text after its last sentence-ending punctuation. Text
// without a complete sentence is returned as is.
func lastSentence(text string) string {
	if i := strings.LastIndexAny(text, ".!?"); i > 0 {
		return text[:i+1]
	}
	return text
}

// SystemPrompt describes npc to a language model. Secrets are never
// included.
func SystemPrompt(npc NPCContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s in a medieval fantasy world.\n", npc.Name, npc.Occupation)
	fmt.Fprintf(&b, "Personality: %s\n", PersonalityDescription(npc.Traits))
	fmt.Fprintf(&b, "Current mood: %s\n", npc.Mood)
	fmt.Fprintf(&b, "Location: %s\n", npc.Location)
	if len(npc.RecentEvents) > 0 {
		fmt.Fprintf(&b, "Recent events: %s\n", strings.Join(npc.RecentEvents, "; "))
	}
	if len(npc.KnownFacts) > 0 {
		b.WriteString("You know these facts:\n")
		for _, f := range npc.KnownFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	fmt.Fprintf(&b, "\nRespond in character as %s. ", npc.Name)
	b.WriteString("Keep responses concise (1-3 sentences). ")
	b.WriteString("Match your personality and current mood in your tone.")
	return b.String()
}

var traitWords = []struct {
	trait     string
	high, low string
}{
	{personality.Openness, "curious", "conventional"},
	{personality.Conscientiousness, "diligent", "careless"},
	{personality.Extraversion, "outgoing", "reserved"},
	{personality.Agreeableness, "friendly", "blunt"},
	{personality.Neuroticism, "anxious", "calm"},
	{personality.Warmth, "warm", "cold"},
	{personality.Formality, "formal", "casual"},
}

// PersonalityDescription summarises traits in a few adjectives, or
// "balanced" when no trait stands out.
func PersonalityDescription(traits personality.Traits) string {
	var words []string
	for _, tw := range traitWords {
		switch v := traits.Get(tw.trait); {
		case v > 0.7:
			words = append(words, tw.high)
		case v < 0.3:
			words = append(words, tw.low)
		}
	}
	if len(words) == 0 {
		return "balanced"
	}
	return strings.Join(words, ", ")
}

var emotionKeywords = []struct {
	emotion string
	words   []string
}{
	{"joy", []string{"happy", "wonderful", "great"}},
	{"sadness", []string{"sorry", "sad"}},
	{"anger", []string{"angry", "furious"}},
	{"fear", []string{"afraid", "scared", "danger"}},
}

// DetectEmotion guesses the emotion of a line from keywords. The first
// matching emotion wins; otherwise it is "neutral".
func DetectEmotion(text string) string {
	lower := strings.ToLower(text)
	for _, ek := range emotionKeywords {
		for _, w := range ek.words {
			if strings.Contains(lower, w) {
				return ek.emotion
			}
		}
	}
	return MoodNeutral
}
