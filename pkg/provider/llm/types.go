package llm

// Message is a single turn in a conversation sent to the model.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text of the turn.
	Content string

	// Name optionally names the speaker, e.g. the player's character.
	Name string
}

// UserMessage returns a user-role message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant-role message.
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ModelCapabilities describes the limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input and output.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens one completion may
	// generate.
	MaxOutputTokens int
}
