// Package mongodb is the hybrid full-text and vector index backed by
// MongoDB Atlas Search. Chunks are documents keyed by their chunk key;
// similarity search runs through $vectorSearch and keyword search through
// $search, both pre-filtered by user id inside the server.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/vectorstore"
)

var _ vectorstore.Index = (*Storage)(nil)

type Config struct {
	Database          string
	Collection        string
	VectorIndexName   string
	SearchIndexName   string
	NumCandidates     int
	TextSearchEnabled bool
}

type Storage struct {
	client *mongo.Client
	col    *mongo.Collection
	cfg    Config

	mu        sync.RWMutex
	dimension int
}

type chunkDoc struct {
	Key        string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	DocumentID string    `bson:"document_id"`
	ChunkIndex int       `bson:"chunk_index"`
	Content    string    `bson:"content"`
	Preview    string    `bson:"preview"`
	Embedding  []float32 `bson:"embedding"`
}

type hitDoc struct {
	Key        string  `bson:"_id"`
	UserID     string  `bson:"user_id"`
	DocumentID string  `bson:"document_id"`
	ChunkIndex int     `bson:"chunk_index"`
	Content    string  `bson:"content"`
	Preview    string  `bson:"preview"`
	Score      float64 `bson:"score"`
}

func NewStorage(client *mongo.Client, cfg Config) *Storage {
	if cfg.NumCandidates <= 0 {
		cfg.NumCandidates = 100
	}
	return &Storage{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:    cfg,
	}
}

func (s *Storage) Name() string { return "mongodb" }

// Init declares the filter indexes and the Atlas vector and text search
// indexes. Search indexes build asynchronously on the server.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == dimension {
		return nil
	}

	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "document_id", Value: 1}}},
	})
	if err != nil {
		return apperrors.Transient("mongodb create chunk indexes", err)
	}

	existing, err := s.searchIndexNames(ctx)
	if err != nil {
		return apperrors.Transient("mongodb list search indexes", err)
	}

	if !existing[s.cfg.VectorIndexName] {
		model := mongo.SearchIndexModel{
			Definition: VectorIndexDefinition(dimension),
			Options:    options.SearchIndexes().SetName(s.cfg.VectorIndexName).SetType("vectorSearch"),
		}
		if _, err := s.col.SearchIndexes().CreateOne(ctx, model); err != nil {
			return apperrors.Transient("mongodb create vector index", err)
		}
		logger.Info("Created Atlas vector index", "index", s.cfg.VectorIndexName, "dimension", dimension)
	}

	if s.cfg.TextSearchEnabled && !existing[s.cfg.SearchIndexName] {
		model := mongo.SearchIndexModel{
			Definition: TextIndexDefinition(),
			Options:    options.SearchIndexes().SetName(s.cfg.SearchIndexName).SetType("search"),
		}
		if _, err := s.col.SearchIndexes().CreateOne(ctx, model); err != nil {
			return apperrors.Transient("mongodb create text index", err)
		}
		logger.Info("Created Atlas text index", "index", s.cfg.SearchIndexName)
	}

	s.dimension = dimension
	return nil
}

func (s *Storage) searchIndexNames(ctx context.Context) (map[string]bool, error) {
	cursor, err := s.col.SearchIndexes().List(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	names := make(map[string]bool)
	for cursor.Next(ctx) {
		var idx struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&idx); err != nil {
			return nil, err
		}
		names[idx.Name] = true
	}
	return names, cursor.Err()
}

// VectorIndexDefinition declares the embedding field plus the filter
// fields $vectorSearch may pre-filter on.
func VectorIndexDefinition(dimension int) bson.D {
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: "embedding"},
			{Key: "numDimensions", Value: dimension},
			{Key: "similarity", Value: "cosine"},
		},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "user_id"}},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "document_id"}},
	}}}
}

func TextIndexDefinition() bson.D {
	return bson.D{{Key: "mappings", Value: bson.D{
		{Key: "dynamic", Value: false},
		{Key: "fields", Value: bson.D{
			{Key: "content", Value: bson.D{{Key: "type", Value: "string"}}},
			{Key: "user_id", Value: bson.D{{Key: "type", Value: "token"}}},
		}},
	}}}
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

	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		doc := chunkDoc{
			Key:        r.Key,
			UserID:     r.Metadata.UserID,
			DocumentID: r.Metadata.DocumentID,
			ChunkIndex: r.Metadata.ChunkIndex,
			Content:    r.Content,
			Preview:    r.Metadata.Preview,
			Embedding:  r.Vector,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.Key}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := s.col.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return apperrors.Transient("mongodb upsert chunks", err)
	}
	return nil
}

// VectorSearchPipeline builds the $vectorSearch aggregation. Atlas reports
// cosine as (1+cos)/2; the projection maps it back to cosine.
func VectorSearchPipeline(indexName, userID string, vector []float32, numCandidates, topK int) mongo.Pipeline {
	if numCandidates < topK {
		numCandidates = topK * 10
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: indexName},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: numCandidates},
			{Key: "limit", Value: topK},
			{Key: "filter", Value: bson.D{{Key: "user_id", Value: bson.D{{Key: "$eq", Value: userID}}}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "document_id", Value: 1},
			{Key: "chunk_index", Value: 1},
			{Key: "content", Value: 1},
			{Key: "preview", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$subtract", Value: bson.A{
				bson.D{{Key: "$multiply", Value: bson.A{bson.D{{Key: "$meta", Value: "vectorSearchScore"}}, 2}}},
				1,
			}}}},
		}}},
	}
}

// TextSearchPipeline builds the $search aggregation over chunk content,
// restricted to one user through a compound filter.
func TextSearchPipeline(indexName, userID, query string, topK int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$search", Value: bson.D{
			{Key: "index", Value: indexName},
			{Key: "compound", Value: bson.D{
				{Key: "must", Value: bson.A{
					bson.D{{Key: "text", Value: bson.D{{Key: "query", Value: query}, {Key: "path", Value: "content"}}}},
				}},
				{Key: "filter", Value: bson.A{
					bson.D{{Key: "equals", Value: bson.D{{Key: "path", Value: "user_id"}, {Key: "value", Value: userID}}}},
				}},
			}},
		}}},
		{{Key: "$limit", Value: topK}},
		{{Key: "$project", Value: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "document_id", Value: 1},
			{Key: "chunk_index", Value: 1},
			{Key: "content", Value: 1},
			{Key: "preview", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "searchScore"}}},
		}}},
	}
}

func (s *Storage) Search(ctx context.Context, userID string, vector []float32, topK int) ([]vectorstore.Result, error) {
	if s.currentDimension() == 0 {
		return nil, vectorstore.ErrNotInitialized
	}
	if topK <= 0 {
		topK = 5
	}
	results, err := s.aggregate(ctx, VectorSearchPipeline(s.cfg.VectorIndexName, userID, vector, s.cfg.NumCandidates, topK))
	if err != nil {
		return nil, apperrors.Transient("mongodb vector search", err)
	}
	return vectorstore.SortAndLimit(results, topK), nil
}

// TextSearch runs keyword search over the user's chunks. Scores are Atlas
// relevance scores and are not comparable with cosine similarity.
func (s *Storage) TextSearch(ctx context.Context, userID, query string, topK int) ([]vectorstore.Result, error) {
	if !s.cfg.TextSearchEnabled {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	results, err := s.aggregate(ctx, TextSearchPipeline(s.cfg.SearchIndexName, userID, query, topK))
	if err != nil {
		return nil, apperrors.Transient("mongodb text search", err)
	}
	return results, nil
}

func (s *Storage) aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]vectorstore.Result, error) {
	cursor, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var hits []hitDoc
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("decode search hits: %w", err)
	}

	results := make([]vectorstore.Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, vectorstore.Result{
			Key:     h.Key,
			Content: h.Content,
			Metadata: vectorstore.Metadata{
				UserID:     h.UserID,
				DocumentID: h.DocumentID,
				ChunkIndex: h.ChunkIndex,
				Preview:    h.Preview,
			},
			Score: h.Score,
		})
	}
	return results, nil
}

func (s *Storage) DeleteDocument(ctx context.Context, userID, documentID string) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"user_id": userID, "document_id": documentID})
	if err != nil {
		return 0, apperrors.Transient("mongodb delete document chunks", err)
	}
	return res.DeletedCount, nil
}

func (s *Storage) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, apperrors.Transient("mongodb delete user chunks", err)
	}
	return res.DeletedCount, nil
}

// Close is a no-op; the client is shared with the relational store.
func (s *Storage) Close() error { return nil }
