package retriever

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"docqa-platform/internal/config"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/internal/vectorstore/memory"
	"docqa-platform/internal/vectorstore/mongodb"
	"docqa-platform/internal/vectorstore/qdrant"
	"docqa-platform/internal/vectorstore/sqlite"
)

// NewIndex builds the vector index named by VECTOR_DB_TYPE. mongoClient is
// only required for the mongodb backend.
func NewIndex(ctx context.Context, cfg *config.Config, mongoClient *mongo.Client) (vectorstore.Index, error) {
	switch cfg.VectorDBType {
	case "sqlite", "":
		return sqlite.Open(cfg.SQLiteVectorPath)
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Timeout:    cfg.QdrantTimeout,
		}), nil
	case "mongodb":
		if mongoClient == nil {
			return nil, fmt.Errorf("mongodb vector backend needs a MongoDB connection")
		}
		return mongodb.NewStorage(mongoClient, mongodb.Config{
			Database:          cfg.DBName,
			Collection:        cfg.MongoVectorCollection,
			VectorIndexName:   cfg.VectorIndexName,
			SearchIndexName:   cfg.SearchIndexName,
			NumCandidates:     cfg.VectorNumCandidates,
			TextSearchEnabled: cfg.AtlasTextSearchEnabled,
		}), nil
	case "memory":
		return memory.NewStorage(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.VectorDBType)
	}
}
