// Package ai produces answers from retrieved passages. Network backends
// (a local Ollama server, OpenAI-compatible APIs, Gemini) sit behind
// ResilientGenerator, which degrades to the keyword FallbackGenerator on
// any failure so answer generation never errors.
package ai

import (
	"context"
	"errors"
)

// Generator is what the services depend on.
type Generator interface {
	// GenerateAnswer always returns a non-empty answer.
	GenerateAnswer(ctx context.Context, question string, passages []string) string
	// GenerateAnswerStream calls onChunk for each piece of the answer and
	// returns the full text. It only fails when onChunk fails or ctx ends.
	GenerateAnswerStream(ctx context.Context, question string, passages []string, onChunk func(string) error) (string, error)
	IsAvailable(ctx context.Context) bool
	Info(ctx context.Context) Info
}

// Backend is one network language model.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
	Ping(ctx context.Context) error
}

// Info describes the generator chosen at startup.
type Info struct {
	Type      string `json:"type"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
	BaseURL   string `json:"base_url,omitempty"`
}

// consumerError marks a failure raised by the caller's onChunk callback,
// which must propagate instead of triggering a fallback.
type consumerError struct {
	err error
}

func (e *consumerError) Error() string { return e.err.Error() }
func (e *consumerError) Unwrap() error { return e.err }

func isConsumerError(err error) bool {
	var ce *consumerError
	return errors.As(err, &ce)
}
