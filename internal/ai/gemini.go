package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ Backend = (*GeminiBackend)(nil)

const DefaultGeminiModel = "gemini-2.0-flash"

type GeminiBackend struct {
	client    *genai.Client
	modelName string
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, modelName: model}, nil
}

func (b *GeminiBackend) Name() string  { return "gemini" }
func (b *GeminiBackend) Model() string { return b.modelName }

func (b *GeminiBackend) model() *genai.GenerativeModel {
	model := b.client.GenerativeModel(b.modelName)
	model.SetTemperature(DefaultSampling.Temperature)
	model.SetTopP(DefaultSampling.TopP)
	model.SetMaxOutputTokens(int32(DefaultSampling.MaxTokens))
	model.StopSequences = StopSequences
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(HostedSystemPrompt)}}
	return model
}

func (b *GeminiBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.model().GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(responseText(resp)), nil
}

func (b *GeminiBackend) Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	iter := b.model().GenerateContentStream(ctx, genai.Text(prompt))

	var full strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return full.String(), err
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return full.String(), &consumerError{err: err}
		}
	}
	return full.String(), nil
}

// Ping fetches the model metadata.
func (b *GeminiBackend) Ping(ctx context.Context) error {
	_, err := b.client.GenerativeModel(b.modelName).Info(ctx)
	return err
}

func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return sb.String()
}
