// Package storetest is the behaviour shared by every store.Store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/store"
	"docqa-platform/models"
)

// Factory returns an empty store.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureUserCreatesOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := uuid.NewString()

		u, err := s.EnsureUser(ctx, id, id+"@example.com")
		require.NoError(t, err)
		assert.True(t, u.IsActive)

		again, err := s.EnsureUser(ctx, id, "")
		require.NoError(t, err)
		assert.Equal(t, u.ID, again.ID)
		assert.Equal(t, id+"@example.com", again.Email)

		_, err = s.GetUser(ctx, uuid.NewString())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("QuotaResetsOnNewDay", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := newUser(t, s)
		day1 := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

		for i := 0; i < 2; i++ {
			require.NoError(t, s.CheckQueryQuota(ctx, id, 2, day1))
			require.NoError(t, s.RecordQuery(ctx, id, day1))
		}
		err := s.CheckQueryQuota(ctx, id, 2, day1)
		require.True(t, apperrors.IsRateLimit(err))
		var rl *apperrors.RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, time.Hour, rl.RetryAfter)

		day2 := day1.Add(2 * time.Hour)
		require.NoError(t, s.CheckQueryQuota(ctx, id, 2, day2))
		require.NoError(t, s.RecordQuery(ctx, id, day2))

		u, err := s.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, u.QueryCountToday)
		assert.Equal(t, "2025-03-11", u.LastQueryDate)
	})

	t.Run("ResetStaleQueryCounters", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		stale := newUser(t, s)
		fresh := newUser(t, s)
		yesterday := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		today := yesterday.Add(24 * time.Hour)

		require.NoError(t, s.RecordQuery(ctx, stale, yesterday))
		require.NoError(t, s.RecordQuery(ctx, fresh, today))

		_, err := s.ResetStaleQueryCounters(ctx, today)
		require.NoError(t, err)

		u, err := s.GetUser(ctx, stale)
		require.NoError(t, err)
		assert.Zero(t, u.QueryCountToday)
		u, err = s.GetUser(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, 1, u.QueryCountToday)
	})

	t.Run("InactiveUsers", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		old := newUser(t, s)
		recent := newUser(t, s)
		newUser(t, s)

		require.NoError(t, s.RecordQuery(ctx, old, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, s.RecordQuery(ctx, recent, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

		users, err := s.ListInactiveUsers(ctx, "2025-01-01")
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, old, users[0].ID)
	})

	t.Run("DocumentUniquePerUserAndHash", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		u1 := newUser(t, s)
		u2 := newUser(t, s)

		require.NoError(t, s.CreateDocument(ctx, newDoc(u1, "hash-a")))
		err := s.CreateDocument(ctx, newDoc(u1, "hash-a"))
		assert.True(t, apperrors.IsDuplicate(err))
		require.NoError(t, s.CreateDocument(ctx, newDoc(u2, "hash-a")))

		found, err := s.FindDocumentByHash(ctx, u1, "hash-a")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, u1, found.UserID)

		missing, err := s.FindDocumentByHash(ctx, u1, "hash-b")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("DocumentLifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		u1 := newUser(t, s)
		u2 := newUser(t, s)

		d1 := newDoc(u1, "h1")
		d1.CreatedAt = time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)
		d2 := newDoc(u1, "h2")
		require.NoError(t, s.CreateDocument(ctx, d1))
		require.NoError(t, s.CreateDocument(ctx, d2))

		docs, err := s.ListDocuments(ctx, u1)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, d2.ID, docs[0].ID)

		_, err = s.GetDocument(ctx, u2, d1.ID)
		assert.True(t, apperrors.IsNotFound(err))

		stats, err := s.DocumentStats(ctx, u1, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(1), stats.Recent)
		assert.Equal(t, int64(2048), stats.TotalBytes)

		assert.True(t, apperrors.IsNotFound(s.DeleteDocument(ctx, u2, d1.ID)))
		require.NoError(t, s.DeleteDocument(ctx, u1, d1.ID))
		n, err := s.CountDocuments(ctx, u1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, s.SetDocumentCount(ctx, u1, int(n)))
		u, err := s.GetUser(ctx, u1)
		require.NoError(t, err)
		assert.Equal(t, 1, u.DocumentCount)

		deleted, err := s.DeleteAllDocuments(ctx, u1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})

	t.Run("QueryLogs", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		u1 := newUser(t, s)
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.AddQueryLog(ctx, &models.QueryLog{
				ID:             uuid.NewString(),
				UserID:         u1,
				Question:       fmt.Sprintf("q%d", i),
				Answer:         "a",
				ResponseTimeMS: int64(100 * (i + 1)),
				CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			}))
		}

		logs, err := s.ListQueryLogs(ctx, u1, time.Time{}, 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "q2", logs[0].Question)

		logs, err = s.ListQueryLogs(ctx, u1, base.Add(30*time.Second), 0)
		require.NoError(t, err)
		assert.Len(t, logs, 2)

		n, err := s.CountQueryLogs(ctx, u1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func newUser(t *testing.T, s store.Store) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{ID: id, Email: id + "@example.com", IsActive: true}))
	return id
}

func newDoc(userID, hash string) *models.Document {
	return &models.Document{
		ID:          uuid.NewString(),
		UserID:      userID,
		Filename:    hash + ".txt",
		ContentHash: hash,
		ChunkCount:  2,
		FileSize:    1024,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}
