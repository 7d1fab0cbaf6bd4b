package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/store"
	"docqa-platform/models"
)

var _ store.Store = (*Store)(nil)

const (
	usersCollection     = "users"
	documentsCollection = "documents"
	queryLogsCollection = "query_logs"
)

// Store keeps users, documents and query logs in MongoDB. The unique
// indexes come from config.CreateIndexes.
type Store struct {
	db        *mongo.Database
	users     *mongo.Collection
	documents *mongo.Collection
	queryLogs *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:        db,
		users:     db.Collection(usersCollection),
		documents: db.Collection(documentsCollection),
		queryLogs: db.Collection(queryLogsCollection),
	}
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// EnsureUser upserts with $setOnInsert so concurrent first requests agree.
func (s *Store) EnsureUser(ctx context.Context, userID, email string) (*models.User, error) {
	now := time.Now().UTC()
	onInsert := bson.M{
		"is_active":         true,
		"document_count":    0,
		"query_count_today": 0,
		"created_at":        now,
		"updated_at":        now,
	}
	if email != "" {
		onInsert["email"] = email
	}

	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": onInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{"is_active": true})
}

func (s *Store) ListInactiveUsers(ctx context.Context, cutoffDay string) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{
		"is_active": true,
		"last_query_date": bson.M{
			"$exists": true,
			"$gt":     "",
			"$lt":     cutoffDay,
		},
	})
}

func (s *Store) findUsers(ctx context.Context, filter bson.M) ([]models.User, error) {
	cursor, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	users := make([]models.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// resetIfNewDay zeroes the counter when the stored day is not today.
// Only the first caller of the day matches the filter.
func (s *Store) resetIfNewDay(ctx context.Context, userID, today string) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "last_query_date": bson.M{"$ne": today}},
		bson.M{"$set": bson.M{
			"query_count_today": 0,
			"last_query_date":   today,
		}},
	)
	return err
}

func (s *Store) CheckQueryQuota(ctx context.Context, userID string, limit int, now time.Time) error {
	today := store.Day(now)
	if err := s.resetIfNewDay(ctx, userID, today); err != nil {
		return fmt.Errorf("reset query counter: %w", err)
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if limit > 0 && user.QueriesToday(today) >= limit {
		return store.QuotaError(limit, now)
	}
	return nil
}

func (s *Store) RecordQuery(ctx context.Context, userID string, now time.Time) error {
	today := store.Day(now)
	if err := s.resetIfNewDay(ctx, userID, today); err != nil {
		return fmt.Errorf("reset query counter: %w", err)
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc": bson.M{"query_count_today": 1},
			"$set": bson.M{"last_active_at": now.UTC(), "updated_at": now.UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment query counter: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("user", userID)
	}
	return nil
}

func (s *Store) ResetStaleQueryCounters(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.users.UpdateMany(ctx,
		bson.M{
			"last_query_date":   bson.M{"$lt": store.Day(now)},
			"query_count_today": bson.M{"$gt": 0},
		},
		bson.M{"$set": bson.M{"query_count_today": 0, "updated_at": now.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("reset query counters: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := s.documents.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) FindDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"user_id": userID, "content_hash": contentHash}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *Store) GetDocument(ctx context.Context, userID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": documentID, "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("document", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]models.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID string) error {
	res, err := s.documents.DeleteOne(ctx, bson.M{"_id": documentID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("document", documentID)
	}
	return nil
}

func (s *Store) DeleteAllDocuments(ctx context.Context, userID string) (int64, error) {
	res, err := s.documents.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) CountDocuments(ctx context.Context, userID string) (int64, error) {
	n, err := s.documents.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *Store) DocumentStats(ctx context.Context, userID string, since time.Time) (store.DocumentStats, error) {
	var stats store.DocumentStats

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": 1},
			"bytes": bson.M{"$sum": "$file_size"},
			"recent": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$gte": bson.A{"$created_at", since}}, 1, 0},
			}},
		}}},
	}
	cursor, err := s.documents.Aggregate(ctx, pipeline)
	if err != nil {
		return stats, fmt.Errorf("aggregate documents: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total  int64 `bson:"total"`
		Bytes  int64 `bson:"bytes"`
		Recent int64 `bson:"recent"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return stats, fmt.Errorf("decode document stats: %w", err)
	}
	if len(rows) > 0 {
		stats.Total = rows[0].Total
		stats.TotalBytes = rows[0].Bytes
		stats.Recent = rows[0].Recent
	}
	return stats, nil
}

func (s *Store) SetDocumentCount(ctx context.Context, userID string, count int) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"document_count": count, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("set document count: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("user", userID)
	}
	return nil
}

func (s *Store) AddQueryLog(ctx context.Context, entry *models.QueryLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := s.queryLogs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

func (s *Store) ListQueryLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.QueryLog, error) {
	filter := bson.M{"user_id": userID}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.queryLogs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	logs := make([]models.QueryLog, 0)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode query logs: %w", err)
	}
	return logs, nil
}

func (s *Store) CountQueryLogs(ctx context.Context, userID string) (int64, error) {
	n, err := s.queryLogs.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("count query logs: %w", err)
	}
	return n, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *Store) Close(ctx context.Context) error { return nil }
