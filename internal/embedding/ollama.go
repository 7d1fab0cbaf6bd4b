package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docqa-platform/internal/apperrors"
)

var _ Provider = (*OllamaProvider)(nil)

const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	DefaultOllamaTimeout = 60 * time.Second
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaProvider uses the batch /api/embed endpoint and falls back to the
// single-prompt /api/embeddings endpoint on servers that predate it.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

type ollamaBatchRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaLegacyRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaLegacyResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	return &OllamaProvider{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}
}

func (p *OllamaProvider) ModelName() string { return p.model }

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	status, raw, err := p.post(ctx, "/api/embed", ollamaBatchRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, apperrors.Transient("ollama embed", err)
	}
	if status == http.StatusNotFound {
		return p.embedEach(ctx, texts)
	}
	if status != http.StatusOK {
		return nil, apperrors.Transient("ollama embed", fmt.Errorf("status %d: %s", status, string(raw)))
	}

	var parsed ollamaBatchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := checkCount(len(texts), len(parsed.Embeddings)); err != nil {
		return nil, err
	}
	return parsed.Embeddings, nil
}

func (p *OllamaProvider) embedEach(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		status, raw, err := p.post(ctx, "/api/embeddings", ollamaLegacyRequest{Model: p.model, Prompt: text})
		if err != nil {
			return nil, apperrors.Transient("ollama embeddings", err)
		}
		if status != http.StatusOK {
			return nil, apperrors.Transient("ollama embeddings", fmt.Errorf("status %d: %s", status, string(raw)))
		}

		var parsed ollamaLegacyResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}

		// Convert float64 to float32
		vec := make([]float32, len(parsed.Embedding))
		for j, v := range parsed.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, body any) (int, []byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
