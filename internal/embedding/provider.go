// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"

	"docqa-platform/internal/config"
)

// Provider embeds text. Implementations must be deterministic for
// identical input and return one vector per input, in order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// New selects the provider named by EMBEDDINGS_PROVIDER.
func New(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.EmbeddingsProvider {
	case "ollama", "":
		return NewOllamaProvider(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingsModel,
			Timeout: cfg.OllamaTimeout,
		}), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
		}
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIEmbeddingsModel,
		}), nil
	case "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel)
	case "hash":
		return NewHashProvider(cfg.HashEmbeddingsDim), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}

func embedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func checkCount(want, got int) error {
	if want != got {
		return fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", want, got)
	}
	return nil
}
