package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"docqa-platform/internal/config"
	"docqa-platform/internal/embedding"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/store/sqlstore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  relational  - Create indexes (MongoDB) or tables (MySQL) for users, documents and query logs")
		fmt.Println("  vector      - Probe the embedding model and create the vector collection or table")
		fmt.Println("  all         - Run both")
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var mongoClient *mongo.Client
	if cfg.RelationalDB == "mongodb" || cfg.VectorDBType == "mongodb" {
		// ConnectMongoDB already declares the relational indexes.
		mongoClient, err = config.ConnectMongoDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
	}

	switch command {
	case "relational":
		err = migrateRelational(ctx, cfg, mongoClient)
	case "vector":
		err = migrateVector(ctx, cfg, mongoClient)
	case "all":
		if err = migrateRelational(ctx, cfg, mongoClient); err == nil {
			err = migrateVector(ctx, cfg, mongoClient)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migration completed successfully!")
}

func migrateRelational(ctx context.Context, cfg *config.Config, mongoClient *mongo.Client) error {
	switch cfg.RelationalDB {
	case "mongodb":
		return config.CreateIndexes(ctx, mongoClient.Database(cfg.DBName))
	case "mysql":
		db, err := config.ConnectMySQL(cfg)
		if err != nil {
			return err
		}
		st := sqlstore.New(db)
		defer st.Close(context.Background())
		return st.Migrate(ctx)
	default:
		fmt.Printf("Relational store %q needs no migration\n", cfg.RelationalDB)
		return nil
	}
}

func migrateVector(ctx context.Context, cfg *config.Config, mongoClient *mongo.Client) error {
	index, err := retriever.NewIndex(ctx, cfg, mongoClient)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	provider, err := embedding.New(ctx, cfg)
	if err != nil {
		_ = index.Close()
		return fmt.Errorf("init embeddings: %w", err)
	}

	r := retriever.New(provider, index, nil)
	defer r.Close()
	if err := r.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("Vector backend %s ready with dimension %d\n", r.Backend(), r.Dimension())
	return nil
}
