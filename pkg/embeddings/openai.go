package embeddings

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

var _ Provider = &OpenAIProvider{}

// NewOpenAIProvider creates a provider for the embeddings endpoint. baseURL may
// be empty to use the public API.
func NewOpenAIProvider(apiKey, baseURL string, model openai.EmbeddingModel, dimensions int) *OpenAIProvider {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

func supportsDimensionsOverride(model openai.EmbeddingModel) bool {
	return model == openai.SmallEmbedding3 || model == openai.LargeEmbedding3
}

func (p *OpenAIProvider) newRequest(texts []string) openai.EmbeddingRequest {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	}
	if supportsDimensionsOverride(p.model) {
		req.Dimensions = p.dimensions
	}
	return req
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := p.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *OpenAIProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, p.newRequest(texts))
	if err != nil {
		return nil, errors.Wrap(err, "openai embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errors.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       string(p.model),
		Dimensions: p.dimensions,
	}
}
