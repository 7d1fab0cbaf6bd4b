// Package memory is an in-process vector index using brute-force cosine
// similarity. It backs development setups and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"docqa-platform/internal/vectorstore"
)

var _ vectorstore.Index = (*Storage)(nil)

type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]vectorstore.Record
}

func NewStorage() *Storage {
	return &Storage{records: make(map[string]vectorstore.Record)}
}

func (s *Storage) Name() string { return "memory" }

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return errors.New("vector dimension mismatch with existing index")
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.Validate(records, s.dimension); err != nil {
		return err
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		s.records[r.Key] = r
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, userID string, vector []float32, topK int) ([]vectorstore.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}

	var results []vectorstore.Result
	for _, r := range s.records {
		if r.Metadata.UserID != userID {
			continue
		}
		score, err := vectorstore.CosineSimilarity(vector, r.Vector)
		if err != nil {
			return nil, err
		}
		results = append(results, vectorstore.Result{
			Key:      r.Key,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    score,
		})
	}
	return vectorstore.SortAndLimit(results, topK), nil
}

func (s *Storage) DeleteDocument(ctx context.Context, userID, documentID string) (int64, error) {
	return s.deleteWhere(func(m vectorstore.Metadata) bool {
		return m.UserID == userID && m.DocumentID == documentID
	}), nil
}

func (s *Storage) DeleteUser(ctx context.Context, userID string) (int64, error) {
	return s.deleteWhere(func(m vectorstore.Metadata) bool { return m.UserID == userID }), nil
}

func (s *Storage) deleteWhere(match func(vectorstore.Metadata) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, r := range s.records {
		if match(r.Metadata) {
			delete(s.records, key)
			n++
		}
	}
	return n
}

// Len reports the number of stored chunks across all users.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Storage) Close() error { return nil }
