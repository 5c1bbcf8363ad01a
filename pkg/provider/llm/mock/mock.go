// Package mock provides a test double for the llm.Provider interface.
//
// A conversation can be scripted line by line:
//
//	p := &mock.Provider{Replies: []string{"Well met.", "Safe travels."}}
//
// Set the fields before the first call.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/npcmind/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies are returned as Content one per Complete call, in order. Once
	// they run out Complete returns CompleteResponse.
	Replies []string

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens. A negative value makes
	// CountTokens fall back to llm.EstimateTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// CountTokensCalls records the messages of every CountTokens call.
	CountTokensCalls [][]llm.Message
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call. CompleteErr wins over any reply; otherwise the
// next scripted reply is returned, then CompleteResponse.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Replies) > 0 {
		line := p.Replies[0]
		p.Replies = p.Replies[1:]
		return &llm.CompletionResponse{Content: line}, nil
	}
	return p.CompleteResponse, nil
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, slices.Clone(messages))
	if p.TokenCount < 0 {
		return llm.EstimateTokens(messages), p.CountTokensErr
	}
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
}
