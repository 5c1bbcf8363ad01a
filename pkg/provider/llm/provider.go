// Package llm defines the Provider interface for the chat-completion backends
// that voice NPCs when no authored pattern fits the player's input.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama or llama.cpp server, ...) behind one blocking completion call. NPC
// replies are a few sentences long, so there is no streaming and no tool
// calling: the dialogue layer needs the whole line before it can validate
// and style it.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import "context"

// Role values for [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the system prompt and
	// the messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce one NPC
// line. At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt describes the NPC: who it is, what it knows and how it
	// should sound. Providers without a dedicated system field prepend it as
	// a system-role message.
	SystemPrompt string

	// Messages is the conversation so far, oldest first. The last message is
	// the player's current input.
	Messages []Message

	// Temperature controls output randomness in [0, 2]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the text of the reply.
	Content string

	// Truncated reports that the reply hit MaxTokens and stops mid-thought.
	Truncated bool

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would occupy in the
	// model's context window. The estimate should not undercount; callers
	// use it to trim conversation history before a request.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the rough four-characters-per-token estimate used by
// providers without a tokenizer, plus a small per-message overhead for role
// and formatting tokens.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
