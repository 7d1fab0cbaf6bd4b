// Command token registers a user in the relational store and prints a
// bearer token for it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"docqa-platform/internal/auth"
	"docqa-platform/internal/bootstrap"
	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
)

func main() {
	userID := flag.String("user", "", "user id to issue the token for")
	email := flag.String("email", "", "optional email stored with the user")
	ttl := flag.Duration("ttl", auth.DefaultAccessTTL, "token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mongoClient *mongo.Client
	if cfg.RelationalDB == "mongodb" {
		mongoClient, err = config.ConnectMongoDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
	}

	st, _, err := bootstrap.OpenStore(ctx, cfg, mongoClient)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close(context.Background())

	user, err := st.EnsureUser(ctx, *userID, *email)
	if err != nil {
		log.Fatalf("Failed to ensure user: %v", err)
	}

	tokens, err := auth.NewTokens(cfg.AccessSecret, nil)
	if err != nil {
		log.Fatal(err)
	}
	signed, exp, err := tokens.WithTTL(*ttl).Issue(user.ID, user.Email)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("User:    %s\n", user.ID)
	fmt.Printf("Expires: %s\n", exp.Format(time.RFC3339))
	fmt.Printf("Token:   %s\n", signed)
}
