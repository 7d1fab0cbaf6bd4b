package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/store"
	"docqa-platform/models"
)

var _ store.Store = (*Store)(nil)

// Store is the gorm-backed relational store used with RELATIONAL_DB=mysql.
// Open the connection with gorm.Config{TranslateError: true} so unique
// violations surface as gorm.ErrDuplicatedKey.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables and their indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.User{}, &models.Document{}, &models.QueryLog{})
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, userID, email string) (*models.User, error) {
	user := models.User{ID: userID, Email: email, IsActive: true}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) ListInactiveUsers(ctx context.Context, cutoffDay string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND last_query_date <> '' AND last_query_date < ?", true, cutoffDay).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list inactive users: %w", err)
	}
	return users, nil
}

// CheckQueryQuota locks the user row so the reset and the comparison see
// the same counter.
func (s *Store) CheckQueryQuota(ctx context.Context, userID string, limit int, now time.Time) error {
	today := store.Day(now)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("user", userID)
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		if user.LastQueryDate != today {
			err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
				"query_count_today": 0,
				"last_query_date":   today,
			}).Error
			if err != nil {
				return fmt.Errorf("reset query counter: %w", err)
			}
			user.QueryCountToday = 0
		}

		if limit > 0 && user.QueryCountToday >= limit {
			return store.QuotaError(limit, now)
		}
		return nil
	})
}

func (s *Store) RecordQuery(ctx context.Context, userID string, now time.Time) error {
	today := store.Day(now)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.User{}).
			Where("id = ? AND last_query_date <> ?", userID, today).
			Updates(map[string]any{"query_count_today": 0, "last_query_date": today}).Error
		if err != nil {
			return fmt.Errorf("reset query counter: %w", err)
		}

		res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
			"query_count_today": gorm.Expr("query_count_today + ?", 1),
			"last_query_date":   today,
			"last_active_at":    now.UTC(),
			"updated_at":        now.UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("increment query counter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("user", userID)
		}
		return nil
	})
}

func (s *Store) ResetStaleQueryCounters(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("last_query_date < ? AND query_count_today > 0", store.Day(now)).
		Update("query_count_today", 0)
	if res.Error != nil {
		return 0, fmt.Errorf("reset query counters: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	err := s.db.WithContext(ctx).Create(doc).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) FindDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).Where("user_id = ? AND content_hash = ?", userID, contentHash).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *Store) GetDocument(ctx context.Context, userID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", documentID, userID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("document", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", documentID, userID).Delete(&models.Document{})
	if res.Error != nil {
		return fmt.Errorf("delete document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("document", documentID)
	}
	return nil
}

func (s *Store) DeleteAllDocuments(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Document{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CountDocuments(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *Store) DocumentStats(ctx context.Context, userID string, since time.Time) (store.DocumentStats, error) {
	var row struct {
		Total      int64
		Recent     int64
		TotalBytes int64
	}
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS recent, COALESCE(SUM(file_size), 0) AS total_bytes", since).
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return store.DocumentStats{}, fmt.Errorf("document stats: %w", err)
	}
	return store.DocumentStats{Total: row.Total, Recent: row.Recent, TotalBytes: row.TotalBytes}, nil
}

func (s *Store) SetDocumentCount(ctx context.Context, userID string, count int) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("document_count", count)
	if res.Error != nil {
		return fmt.Errorf("set document count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n)
		if n == 0 {
			return apperrors.NotFound("user", userID)
		}
	}
	return nil
}

func (s *Store) AddQueryLog(ctx context.Context, entry *models.QueryLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

func (s *Store) ListQueryLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.QueryLog, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []models.QueryLog
	if err := q.Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	return logs, nil
}

func (s *Store) CountQueryLogs(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.QueryLog{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count query logs: %w", err)
	}
	return n, nil
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
