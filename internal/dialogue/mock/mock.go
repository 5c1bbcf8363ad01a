// Package mock provides a test double for the dialogue.Generator interface.
//
//	g := &mock.Generator{
//	    Result: dialogue.Generation{Text: "The roads are dangerous.", Confidence: 0.7},
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/npcmind/internal/dialogue"
)

// Generator is a mock implementation of dialogue.Generator.
type Generator struct {
	mu sync.Mutex

	// Result is returned by Generate when GenerateFunc is nil.
	Result dialogue.Generation

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// GenerateFunc, if set, replaces Result and Err.
	GenerateFunc func(ctx context.Context, req dialogue.GenerationRequest) (dialogue.Generation, error)

	// Requests records every request in order.
	Requests []dialogue.GenerationRequest
}

var _ dialogue.Generator = (*Generator)(nil)

// Generate records req and returns the configured outcome.
func (g *Generator) Generate(ctx context.Context, req dialogue.GenerationRequest) (dialogue.Generation, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	fn, res, err := g.GenerateFunc, g.Result, g.Err
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return dialogue.Generation{}, err
	}
	return res, nil
}

// Calls returns a copy of the recorded requests.
func (g *Generator) Calls() []dialogue.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.Requests)
}

// Reset clears the recorded requests.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = nil
}
