package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/store"
	"docqa-platform/models"
)

var _ store.Store = (*Store)(nil)

// Store keeps everything in maps. Used in tests and RELATIONAL_DB=memory.
type Store struct {
	mu        sync.Mutex
	users     map[string]*models.User
	documents map[string]*models.Document
	logs      []models.QueryLog
}

func New() *Store {
	return &Store{
		users:     make(map[string]*models.User),
		documents: make(map[string]*models.Document),
	}
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NotFound("user", userID)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return apperrors.ErrDuplicate
	}
	for _, u := range s.users {
		if user.Email != "" && u.Email == user.Email {
			return apperrors.ErrDuplicate
		}
	}
	stampUser(user)
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func stampUser(user *models.User) {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
}

func (s *Store) EnsureUser(ctx context.Context, userID, email string) (*models.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	user := &models.User{ID: userID, Email: email, IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil && !apperrors.IsDuplicate(err) {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	return s.filterUsers(func(u *models.User) bool { return u.IsActive }), nil
}

func (s *Store) ListInactiveUsers(ctx context.Context, cutoffDay string) ([]models.User, error) {
	return s.filterUsers(func(u *models.User) bool {
		return u.IsActive && u.LastQueryDate != "" && u.LastQueryDate < cutoffDay
	}), nil
}

func (s *Store) filterUsers(keep func(*models.User) bool) []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0)
	for _, u := range s.users {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) CheckQueryQuota(ctx context.Context, userID string, limit int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	today := store.Day(now)
	if u.LastQueryDate != today {
		u.QueryCountToday = 0
		u.LastQueryDate = today
	}
	if limit > 0 && u.QueryCountToday >= limit {
		return store.QuotaError(limit, now)
	}
	return nil
}

func (s *Store) RecordQuery(ctx context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	today := store.Day(now)
	if u.LastQueryDate != today {
		u.QueryCountToday = 0
		u.LastQueryDate = today
	}
	u.QueryCountToday++
	u.LastActiveAt = now.UTC()
	u.UpdatedAt = now.UTC()
	return nil
}

func (s *Store) ResetStaleQueryCounters(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := store.Day(now)
	var n int64
	for _, u := range s.users {
		if u.LastQueryDate < today && u.QueryCountToday > 0 {
			u.QueryCountToday = 0
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.UserID == doc.UserID && d.ContentHash == doc.ContentHash {
			return apperrors.ErrDuplicate
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *Store) FindDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.UserID == userID && d.ContentHash == contentHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetDocument(ctx context.Context, userID, documentID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.UserID != userID {
		return nil, apperrors.NotFound("document", documentID)
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, 0)
	for _, d := range s.documents {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.UserID != userID {
		return apperrors.NotFound("document", documentID)
	}
	delete(s.documents, documentID)
	return nil
}

func (s *Store) DeleteAllDocuments(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.documents {
		if d.UserID == userID {
			delete(s.documents, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountDocuments(ctx context.Context, userID string) (int64, error) {
	stats, err := s.DocumentStats(ctx, userID, time.Time{})
	return stats.Total, err
}

func (s *Store) DocumentStats(ctx context.Context, userID string, since time.Time) (store.DocumentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats store.DocumentStats
	for _, d := range s.documents {
		if d.UserID != userID {
			continue
		}
		stats.Total++
		stats.TotalBytes += d.FileSize
		if !d.CreatedAt.Before(since) {
			stats.Recent++
		}
	}
	return stats, nil
}

func (s *Store) SetDocumentCount(ctx context.Context, userID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user", userID)
	}
	u.DocumentCount = count
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddQueryLog(ctx context.Context, entry *models.QueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) ListQueryLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.QueryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueryLog, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.UserID != userID || l.CreatedAt.Before(since) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountQueryLogs(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, l := range s.logs {
		if l.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close(ctx context.Context) error { return nil }
