// Package retriever joins an embedding provider and a vector index behind
// the add/search/delete operations the services use.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/embedding"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/telemetry"
	"docqa-platform/internal/vectorstore"
)

const (
	DefaultTopK = 5

	// dimensionProbe is embedded once to learn the model's output size.
	dimensionProbe = "dimension probe"
)

// TextSearcher is implemented by indexes that also offer keyword search.
type TextSearcher interface {
	TextSearch(ctx context.Context, userID, query string, topK int) ([]vectorstore.Result, error)
}

type Retriever struct {
	provider embedding.Provider
	index    vectorstore.Index
	metrics  *telemetry.Metrics

	initMu    sync.Mutex
	dimension int
}

func New(provider embedding.Provider, index vectorstore.Index, metrics *telemetry.Metrics) *Retriever {
	return &Retriever{provider: provider, index: index, metrics: metrics}
}

// Backend names the vector index in use.
func (r *Retriever) Backend() string { return r.index.Name() }

// Dimension returns the embedding size, or 0 before first use.
func (r *Retriever) Dimension() int {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	return r.dimension
}

// Init probes the embedding model and prepares the index. Calls after the
// first success are no-ops.
func (r *Retriever) Init(ctx context.Context) error {
	return r.ensureInit(ctx)
}

// ensureInit sizes the index on first use. A failed attempt is retried on
// the next call.
func (r *Retriever) ensureInit(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.dimension > 0 {
		return nil
	}

	probe, err := r.provider.Embed(ctx, dimensionProbe)
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(probe) == 0 {
		return fmt.Errorf("embedding model %s returned an empty vector", r.provider.ModelName())
	}
	if err := r.index.Init(ctx, len(probe)); err != nil {
		return fmt.Errorf("init %s index: %w", r.index.Name(), err)
	}

	r.dimension = len(probe)
	logger.Info("Vector index ready", "backend", r.index.Name(), "model", r.provider.ModelName(), "dimension", r.dimension)
	return nil
}

// AddChunks embeds every chunk in one batch and upserts them by their
// deterministic key. It returns the number of chunks written.
func (r *Retriever) AddChunks(ctx context.Context, chunks []string, documentID, userID string) (int, error) {
	ctx, span := telemetry.Tracer("retriever").Start(ctx, "retriever.add_chunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("document.id", documentID),
		attribute.Int("chunks", len(chunks)),
		attribute.String("vector.backend", r.index.Name()),
	)

	if len(chunks) == 0 {
		return 0, nil
	}
	if userID == "" || documentID == "" {
		return 0, apperrors.Validation("user id and document id are required")
	}
	if err := r.ensureInit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	vectors, err := r.provider.EmbedBatch(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, content := range chunks {
		records[i] = vectorstore.NewRecord(userID, documentID, i, content, vectors[i])
	}
	if err := r.index.Upsert(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}

	r.metrics.RecordChunksIndexed(r.index.Name(), len(records))
	return len(records), nil
}

// SearchSimilar returns up to topK of the user's chunks closest to query.
// When the index supports keyword search and the vector search comes back
// short, keyword hits not already present fill the remaining slots.
func (r *Retriever) SearchSimilar(ctx context.Context, query, userID string, topK int) ([]vectorstore.Result, error) {
	ctx, span := telemetry.Tracer("retriever").Start(ctx, "retriever.search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Validation("query must not be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int("top_k", topK),
		attribute.String("vector.backend", r.index.Name()),
	)

	if err := r.ensureInit(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	vec, err := r.provider.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.index.Search(ctx, userID, vec, topK)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search %s: %w", r.index.Name(), err)
	}

	if ts, ok := r.index.(TextSearcher); ok && len(results) < topK {
		extra, err := ts.TextSearch(ctx, userID, query, topK)
		if err != nil {
			logger.Warn("Keyword search failed, using vector results only", "error", err, "user_id", userID)
		} else {
			results = mergeResults(results, extra, topK)
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// mergeResults appends keyword hits the vector search missed. Atlas text
// scores are unbounded, so they are rescaled to rank below every vector hit
// while keeping their relative order.
func mergeResults(primary, extra []vectorstore.Result, topK int) []vectorstore.Result {
	seen := make(map[string]bool, len(primary))
	floor := 1.0
	for i, r := range primary {
		seen[r.Key] = true
		if i == 0 || r.Score < floor {
			floor = r.Score
		}
	}

	var maxExtra float64
	for _, r := range extra {
		maxExtra = math.Max(maxExtra, r.Score)
	}

	for _, r := range extra {
		if len(primary) >= topK {
			break
		}
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		ratio := 0.0
		if maxExtra > 0 {
			ratio = math.Max(r.Score, 0) / maxExtra
		}
		r.Score = floor - 1 + 0.99*ratio
		primary = append(primary, r)
	}

	sort.SliceStable(primary, func(i, j int) bool { return primary[i].Score > primary[j].Score })
	return primary
}

// DeleteDocumentChunks removes exactly one document's chunks for the user.
func (r *Retriever) DeleteDocumentChunks(ctx context.Context, documentID, userID string) (int64, error) {
	if err := r.ensureInit(ctx); err != nil {
		return 0, err
	}
	n, err := r.index.DeleteDocument(ctx, userID, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete document chunks: %w", err)
	}
	logger.Info("Deleted document chunks", "user_id", userID, "document_id", documentID, "count", n)
	return n, nil
}

// DeleteUserData removes every chunk the user owns.
func (r *Retriever) DeleteUserData(ctx context.Context, userID string) (int64, error) {
	if err := r.ensureInit(ctx); err != nil {
		return 0, err
	}
	n, err := r.index.DeleteUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user chunks: %w", err)
	}
	logger.Info("Deleted user chunks", "user_id", userID, "count", n)
	return n, nil
}

// Close releases the index.
func (r *Retriever) Close() error {
	return r.index.Close()
}
