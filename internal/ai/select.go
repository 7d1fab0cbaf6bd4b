package ai

import (
	"context"

	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/telemetry"
)

// SelectGenerator picks the answer backend once at startup: a reachable
// Ollama server first, then a hosted API with a configured key, then the
// keyword fallback.
func SelectGenerator(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) Generator {
	opts := ResilientOptions{
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
		Fallback:          NewFallbackGenerator(),
		Metrics:           metrics,
	}

	if cfg.OllamaEnabled {
		ollama := NewOllamaBackend(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.OllamaTimeout,
		})
		err := ollama.Ping(ctx)
		if err == nil {
			logger.Info("Using Ollama for answer generation", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
			return NewResilientGenerator(ollama, opts)
		}
		logger.Warn("Ollama not available", "url", cfg.OllamaURL, "error", err)
	}

	switch cfg.HostedLLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			gemini, err := NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err == nil {
				logger.Info("Using Gemini for answer generation", "model", gemini.Model())
				return NewResilientGenerator(gemini, opts)
			}
			logger.Warn("Gemini client unavailable", "error", err)
		}
	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("Using OpenAI for answer generation", "model", cfg.OpenAIChatModel)
			return NewResilientGenerator(NewOpenAIBackend(OpenAIConfig{
				BaseURL: cfg.OpenAIBaseURL,
				APIKey:  cfg.OpenAIAPIKey,
				Model:   cfg.OpenAIChatModel,
			}), opts)
		}
	}

	logger.Info("Using keyword fallback for answer generation")
	return opts.Fallback
}
