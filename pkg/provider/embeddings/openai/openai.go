// Package openai seeds entity embeddings from the OpenAI embeddings API or
// any server speaking its wire format, such as Ollama's /v1 endpoint.
//
// The text-embedding-3 models can shorten their output, so [WithDimensions]
// lets the model produce vectors of the reasoner's entity size directly.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/npcmind/pkg/provider/embeddings"
)

// DefaultModel is used when New is given no model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// fallbackDimensions is assumed for models missing from knownDimensions.
const fallbackDimensions = 1536

var knownDimensions = map[string]int{
	oai.EmbeddingModelTextEmbedding3Small: 1536,
	oai.EmbeddingModelTextEmbedding3Large: 3072,
	oai.EmbeddingModelTextEmbeddingAda002: 1536,
	"nomic-embed-text":                    768,
	"mxbai-embed-large":                   1024,
	"all-minilm":                          384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider].
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
}

// Option configures New.
type Option func(*Provider, *[]option.RequestOption)

// WithBaseURL points the client at another OpenAI compatible server.
func WithBaseURL(url string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithBaseURL(url))
	}
}

func WithOrganization(org string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithOrganization(org))
	}
}

// WithDimensions requests vectors of length n.
func WithDimensions(n int) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.dimensions = n }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(p, &ro)
	}
	p.client = oai.NewClient(ro...)
	return p, nil
}

// embed sends one request and returns the vectors ordered like the input.
func (p *Provider) embed(ctx context.Context, n int, input oai.EmbeddingNewParamsInputUnion) ([][]float32, error) {
	req := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.dimensions > 0 {
		req.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("got %d vectors for %d inputs", len(resp.Data), n)
	}
	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= n || out[d.Index] != nil {
			return nil, fmt.Errorf("bad vector index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	return out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.embed(ctx, 1, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return out[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out, err := p.embed(ctx, len(texts), oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	return out, nil
}

// Dimensions is the requested size, or the model's native size.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	if n, ok := knownDimensions[p.model]; ok {
		return n
	}
	return fallbackDimensions
}

func (p *Provider) ModelID() string { return p.model }
