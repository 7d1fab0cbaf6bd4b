package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docqa-platform/internal/apperrors"
)

var _ Provider = (*GeminiProvider)(nil)

// GeminiProvider embeds through Google Generative AI (text-embedding-004
// by default).
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) ModelName() string { return p.model }

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := p.client.EmbeddingModel(p.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, apperrors.Transient("gemini batch embed", err)
	}
	if err := checkCount(len(texts), len(resp.Embeddings)); err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
		// genai SDK returns []float32 for Embedding.Values
		out[i] = e.Values
	}
	return out, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
