package vector

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider embeds text through an OpenAI-compatible embeddings
// endpoint. A custom base URL covers Azure, local inference servers and
// other compatible providers.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the
// standard OpenAI endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// Embed returns one vector per input text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
