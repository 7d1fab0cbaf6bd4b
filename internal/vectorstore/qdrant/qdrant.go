// Package qdrant is a minimal REST client to a Qdrant server. Points are
// addressed by a UUID derived from the chunk key; the key itself is kept
// in the payload as string_id.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/vectorstore"
)

var _ vectorstore.Index = (*Storage)(nil)

const (
	DefaultCollection = "qa_documents"
	DefaultTimeout    = 60 * time.Second
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.RWMutex
	dimension int
}

// errStatus carries a non-2xx response.
type errStatus struct {
	method string
	path   string
	code   int
	body   string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: status %d: %s", e.method, e.path, e.code, e.body)
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Storage) Name() string { return "qdrant" }

// Init creates the collection with cosine distance when it does not
// exist yet, plus keyword payload indexes for the filter fields.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == dimension {
		return nil
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &info)

	var status *errStatus
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("qdrant collection %s has dimension %d, embedding model produces %d", s.collection, size, dimension)
		}
	case errors.As(err, &status) && status.code == http.StatusNotFound:
		if err := s.createCollection(ctx, dimension); err != nil {
			return err
		}
		logger.Info("Created Qdrant collection", "collection", s.collection, "dimension", dimension)
	default:
		return apperrors.Transient("qdrant get collection", err)
	}

	s.dimension = dimension
	return nil
}

func (s *Storage) createCollection(ctx context.Context, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return apperrors.Transient("qdrant create collection", err)
	}
	for _, field := range []string{"user_id", "document_id"} {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), idx, nil); err != nil {
			return apperrors.Transient("qdrant create payload index", err)
		}
	}
	return nil
}

func (s *Storage) currentDimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	dim := s.currentDimension()
	if dim == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.Validate(records, dim); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     vectorstore.PointID(r.Key),
			"vector": r.Vector,
			"payload": map[string]any{
				"string_id":   r.Key,
				"user_id":     r.Metadata.UserID,
				"document_id": r.Metadata.DocumentID,
				"chunk_index": r.Metadata.ChunkIndex,
				"content":     r.Content,
				"preview":     r.Metadata.Preview,
			},
		}
	}
	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return apperrors.Transient("qdrant upsert", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, userID string, vector []float32, topK int) ([]vectorstore.Result, error) {
	if s.currentDimension() == 0 {
		return nil, vectorstore.ErrNotInitialized
	}
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       mustMatch(map[string]string{"user_id": userID}),
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				StringID   string `json:"string_id"`
				UserID     string `json:"user_id"`
				DocumentID string `json:"document_id"`
				ChunkIndex int    `json:"chunk_index"`
				Content    string `json:"content"`
				Preview    string `json:"preview"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, apperrors.Transient("qdrant search", err)
	}

	results := make([]vectorstore.Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.Result{
			Key:     r.Payload.StringID,
			Content: r.Payload.Content,
			Metadata: vectorstore.Metadata{
				UserID:     r.Payload.UserID,
				DocumentID: r.Payload.DocumentID,
				ChunkIndex: r.Payload.ChunkIndex,
				Preview:    r.Payload.Preview,
			},
			Score: r.Score,
		})
	}
	return vectorstore.SortAndLimit(results, topK), nil
}

func (s *Storage) DeleteDocument(ctx context.Context, userID, documentID string) (int64, error) {
	return s.deleteByFilter(ctx, mustMatch(map[string]string{"user_id": userID, "document_id": documentID}))
}

func (s *Storage) DeleteUser(ctx context.Context, userID string) (int64, error) {
	return s.deleteByFilter(ctx, mustMatch(map[string]string{"user_id": userID}))
}

// deleteByFilter counts the matching points, then deletes them. Qdrant's
// delete response carries no count.
func (s *Storage) deleteByFilter(ctx context.Context, filter map[string]any) (int64, error) {
	if s.currentDimension() == 0 {
		return 0, vectorstore.ErrNotInitialized
	}

	var count struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"filter": filter, "exact": true}, &count); err != nil {
		return 0, apperrors.Transient("qdrant count", err)
	}
	if count.Result.Count == 0 {
		return 0, nil
	}

	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return 0, apperrors.Transient("qdrant delete", err)
	}
	return count.Result.Count, nil
}

func (s *Storage) Close() error { return nil }

func mustMatch(fields map[string]string) map[string]any {
	must := make([]map[string]any, 0, len(fields))
	// Stable order keeps requests reproducible in tests.
	for _, key := range []string{"user_id", "document_id"} {
		if v, ok := fields[key]; ok {
			must = append(must, map[string]any{"key": key, "match": map[string]any{"value": v}})
		}
	}
	return map[string]any{"must": must}
}

func (s *Storage) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

func (s *Storage) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &errStatus{method: method, path: path, code: resp.StatusCode, body: string(raw)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
