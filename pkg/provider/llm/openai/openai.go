// Package openai speaks the OpenAI chat completions protocol. Any server
// implementing it (vLLM, LM Studio, a llama.cpp server) works through
// [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/npcmind/pkg/provider/llm"
)

// finishLength is the finish reason of a reply cut off by MaxTokens.
const finishLength = "length"

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider].
type Provider struct {
	client oai.Client
	model  string
}

// Option configures New.
type Option func(*[]option.RequestOption)

func WithBaseURL(url string) Option {
	return func(ro *[]option.RequestOption) { *ro = append(*ro, option.WithBaseURL(url)) }
}

func WithOrganization(org string) Option {
	return func(ro *[]option.RequestOption) { *ro = append(*ro, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a provider for model. Both apiKey and model are required.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is empty")
	case model == "":
		return nil, errors.New("openai: model is empty")
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&ro)
	}
	return &Provider{client: oai.NewClient(ro...), model: model}, nil
}

// Complete sends one chat completion request. A reply cut short by
// req.MaxTokens is returned with Truncated set.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := messages(req)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:   choice.Message.Content,
		Truncated: string(choice.FinishReason) == finishLength,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) CountTokens(msgs []llm.Message) (int, error) {
	return llm.EstimateTokens(msgs), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	return capabilitiesFor(p.model)
}

// modelLimits maps model name prefixes to their limits. The first match
// wins, so longer prefixes come first.
var modelLimits = []struct {
	prefix string
	caps   llm.ModelCapabilities
}{
	{"gpt-4o", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4.1", llm.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4-turbo", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1-mini", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

// defaultLimits applies to models served by compatible servers.
var defaultLimits = llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

func capabilitiesFor(model string) llm.ModelCapabilities {
	model = strings.ToLower(model)
	for _, l := range modelLimits {
		if strings.HasPrefix(model, l.prefix) {
			return l.caps
		}
	}
	return defaultLimits
}

// messages converts req into chat messages, the system prompt first.
func messages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			msg := oai.UserMessage(m.Content)
			if m.Name != "" {
				msg.OfUser.Name = oai.String(m.Name)
			}
			out = append(out, msg)
		case llm.RoleAssistant:
			var a oai.ChatCompletionAssistantMessageParam
			a.Content.OfString = oai.String(m.Content)
			if m.Name != "" {
				a.Name = oai.String(m.Name)
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &a})
		default:
			return nil, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}
	return out, nil
}
