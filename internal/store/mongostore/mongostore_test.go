package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/internal/config"
	"docqa-platform/internal/store"
	"docqa-platform/internal/store/storetest"
)

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) store.Store {
		db := client.Database("docqa_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		require.NoError(t, config.CreateIndexes(ctx, db))
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		return New(db)
	})
}
