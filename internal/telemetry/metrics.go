package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TasksProcessed      metric.Int64Counter
	TaskDuration        metric.Float64Histogram
	ChunksIndexed       metric.Int64Counter
	GenerationDuration  metric.Float64Histogram
	GeneratorFallbacks  metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	DatabaseOperations  metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tasksProcessed, err := meter.Int64Counter(
		"tasks.processed.total",
		metric.WithDescription("Background tasks processed by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram(
		"tasks.duration",
		metric.WithDescription("Background task duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"vector.chunks.indexed",
		metric.WithDescription("Chunks written to the vector index"),
	)
	if err != nil {
		return nil, err
	}

	generationDuration, err := meter.Float64Histogram(
		"llm.generation.duration",
		metric.WithDescription("Answer generation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	generatorFallbacks, err := meter.Int64Counter(
		"llm.fallbacks.total",
		metric.WithDescription("Answers served by the keyword fallback after a backend failure"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	databaseOperations, err := meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		TasksProcessed:      tasksProcessed,
		TaskDuration:        taskDuration,
		ChunksIndexed:       chunksIndexed,
		GenerationDuration:  generationDuration,
		GeneratorFallbacks:  generatorFallbacks,
		CircuitBreakerState: circuitBreakerState,
		DatabaseOperations:  databaseOperations,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordTask records one finished task attempt.
func (m *Metrics) RecordTask(taskType, outcome string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("task.type", taskType),
		attribute.String("task.outcome", outcome),
	}

	m.TasksProcessed.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.TaskDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordChunksIndexed(backend string, count int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("vector.backend", backend)))
}

func (m *Metrics) RecordGeneration(backend string, duration float64, fallback bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("llm.backend", backend)}
	m.GenerationDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if fallback {
		m.GeneratorFallbacks.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordDatabaseOperation records database operation metrics
func (m *Metrics) RecordDatabaseOperation(operation, collection string, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.collection", collection),
		attribute.Bool("db.success", success),
	}

	m.DatabaseOperations.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
