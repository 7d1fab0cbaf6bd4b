package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/internal/vectorstore"
)

func stageBody(t *testing.T, stage bson.D, name string) bson.M {
	t.Helper()
	require.Len(t, stage, 1)
	require.Equal(t, name, stage[0].Key)
	raw, err := bson.Marshal(stage[0].Value)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	return m
}

func TestVectorSearchPipelineFiltersByUser(t *testing.T) {
	pipeline := VectorSearchPipeline("qa_chunks_vector", "user-1", []float32{0.1, 0.2}, 100, 5)
	require.Len(t, pipeline, 2)

	body := stageBody(t, pipeline[0], "$vectorSearch")
	assert.Equal(t, "qa_chunks_vector", body["index"])
	assert.Equal(t, "embedding", body["path"])
	assert.EqualValues(t, 100, body["numCandidates"])
	assert.EqualValues(t, 5, body["limit"])

	filter, ok := body["filter"].(bson.M)
	require.True(t, ok)
	userFilter, ok := filter["user_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "user-1", userFilter["$eq"])
}

func TestVectorSearchPipelineRaisesCandidates(t *testing.T) {
	pipeline := VectorSearchPipeline("idx", "u", []float32{1}, 3, 5)
	body := stageBody(t, pipeline[0], "$vectorSearch")
	assert.EqualValues(t, 50, body["numCandidates"])
}

func TestTextSearchPipelineFiltersByUser(t *testing.T) {
	pipeline := TextSearchPipeline("qa_chunks_text", "user-2", "python", 3)
	require.Len(t, pipeline, 3)

	body := stageBody(t, pipeline[0], "$search")
	compound, ok := body["compound"].(bson.M)
	require.True(t, ok)
	filters, ok := compound["filter"].(bson.A)
	require.True(t, ok)
	require.Len(t, filters, 1)

	equals := filters[0].(bson.M)["equals"].(bson.M)
	assert.Equal(t, "user_id", equals["path"])
	assert.Equal(t, "user-2", equals["value"])
}

func TestVectorIndexDefinitionDeclaresFilters(t *testing.T) {
	raw, err := bson.Marshal(VectorIndexDefinition(768))
	require.NoError(t, err)
	var def struct {
		Fields []struct {
			Type          string `bson:"type"`
			Path          string `bson:"path"`
			NumDimensions int    `bson:"numDimensions"`
		} `bson:"fields"`
	}
	require.NoError(t, bson.Unmarshal(raw, &def))
	require.Len(t, def.Fields, 3)
	assert.Equal(t, 768, def.Fields[0].NumDimensions)
	assert.Equal(t, "user_id", def.Fields[1].Path)
}

// Requires an Atlas cluster (or Atlas local deployment) with search enabled.
func TestStorageAgainstAtlas(t *testing.T) {
	uri := os.Getenv("MONGODB_ATLAS_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_ATLAS_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	s := NewStorage(client, Config{
		Database:        "docqa_test",
		Collection:      "chunks_" + time.Now().Format("150405"),
		VectorIndexName: "test_vector",
		SearchIndexName: "test_text",
	})
	defer s.col.Drop(context.Background())

	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Init(ctx, 2))

	rec := vectorstore.NewRecord("u1", "d1", 0, "hello", []float32{1, 0})
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{rec}))
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{rec}))

	n, err := s.col.CountDocuments(ctx, bson.M{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
