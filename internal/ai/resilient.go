package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/telemetry"
)

var _ Generator = (*ResilientGenerator)(nil)

// ResilientGenerator runs a Backend behind a circuit breaker and a request
// rate limiter. Every backend failure degrades to the fallback answer.
type ResilientGenerator struct {
	backend     Backend
	fallback    *FallbackGenerator
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

type ResilientOptions struct {
	RequestsPerMinute int
	Fallback          *FallbackGenerator
	Metrics           *telemetry.Metrics
}

func NewResilientGenerator(backend Backend, opts ResilientOptions) *ResilientGenerator {
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewFallbackGenerator()
	}

	g := &ResilientGenerator{
		backend:     backend,
		fallback:    fallback,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), burst),
		metrics:     opts.Metrics,
		tracer:      otel.Tracer("answer-generator"),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend.Name(),
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isConsumerError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			g.metrics.RecordCircuitBreakerState(name, to.String())
		},
	})

	return g
}

func (g *ResilientGenerator) GenerateAnswer(ctx context.Context, question string, passages []string) string {
	if len(passages) == 0 {
		return InsufficientInformationMessage
	}

	ctx, span := g.tracer.Start(ctx, "generator.generate_answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("generator.backend", g.backend.Name()),
		attribute.String("generator.model", g.backend.Model()),
		attribute.Int("generator.context_chunks", len(passages)),
	)

	start := time.Now()
	answer, err := g.complete(ctx, BuildPrompt(question, passages))
	if err != nil {
		g.recordFallback(span, start, err)
		return g.fallback.GenerateAnswer(ctx, question, passages)
	}

	g.metrics.RecordGeneration(g.backend.Name(), time.Since(start).Seconds(), false)
	if answer == "" {
		return EmptyAnswerMessage
	}
	return answer
}

func (g *ResilientGenerator) complete(ctx context.Context, prompt string) (string, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.backend.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.(string)), nil
}

// GenerateAnswerStream streams from the backend. If the backend fails before
// producing anything the fallback answer is streamed instead; if it fails
// part way the fallback answer is streamed after what was already sent.
func (g *ResilientGenerator) GenerateAnswerStream(ctx context.Context, question string, passages []string, onChunk func(string) error) (string, error) {
	if len(passages) == 0 {
		return g.fallback.GenerateAnswerStream(ctx, question, passages, onChunk)
	}

	ctx, span := g.tracer.Start(ctx, "generator.generate_answer_stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("generator.backend", g.backend.Name()),
		attribute.Int("generator.context_chunks", len(passages)),
	)

	start := time.Now()
	var sent strings.Builder
	err := g.rateLimiter.Wait(ctx)
	if err == nil {
		_, err = g.breaker.Execute(func() (interface{}, error) {
			return g.backend.Stream(ctx, BuildPrompt(question, passages), func(chunk string) error {
				sent.WriteString(chunk)
				return onChunk(chunk)
			})
		})
	}

	switch {
	case err == nil:
		g.metrics.RecordGeneration(g.backend.Name(), time.Since(start).Seconds(), false)
		if strings.TrimSpace(sent.String()) == "" {
			if err := onChunk(EmptyAnswerMessage); err != nil {
				return "", err
			}
			return EmptyAnswerMessage, nil
		}
		return sent.String(), nil
	case isConsumerError(err):
		return sent.String(), errors.Unwrap(err)
	case ctx.Err() != nil:
		return sent.String(), ctx.Err()
	}

	g.recordFallback(span, start, err)
	prefix := sent.String()
	if prefix != "" {
		if err := onChunk("\n\n"); err != nil {
			return prefix, err
		}
		prefix += "\n\n"
	}
	rest, err := g.fallback.GenerateAnswerStream(ctx, question, passages, onChunk)
	return prefix + rest, err
}

func (g *ResilientGenerator) recordFallback(span trace.Span, start time.Time, err error) {
	span.SetAttributes(
		attribute.Bool("generator.fallback", true),
		attribute.String("generator.error", err.Error()),
	)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		span.SetAttributes(attribute.Bool("generator.circuit_breaker_open", true))
	}
	logger.Warn("Answer backend failed, using fallback", "backend", g.backend.Name(), "error", err)
	g.metrics.RecordGeneration(g.backend.Name(), time.Since(start).Seconds(), true)
}

// IsAvailable reports whether the backend answers a ping and the breaker
// is not open.
func (g *ResilientGenerator) IsAvailable(ctx context.Context) bool {
	if g.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return g.backend.Ping(ctx) == nil
}

func (g *ResilientGenerator) Info(ctx context.Context) Info {
	info := Info{
		Type:      g.backend.Name(),
		Model:     g.backend.Model(),
		Available: g.IsAvailable(ctx),
	}
	if b, ok := g.backend.(interface{ BaseURL() string }); ok {
		info.BaseURL = b.BaseURL()
	}
	return info
}
