package vectorstore

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "user_u1_doc_d9_chunk_3", ChunkKey("u1", "d9", 3))
}

func TestPointIDIsDeterministicUUID(t *testing.T) {
	key := ChunkKey("u1", "d1", 0)
	id := PointID(key)

	assert.Equal(t, id, PointID(key))
	assert.NotEqual(t, id, PointID(ChunkKey("u1", "d1", 1)))

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))

	long := strings.Repeat("é", 250)
	p := Preview(long)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, 203, len([]rune(p)))
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{0, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Zero(t, s)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestSortAndLimit(t *testing.T) {
	results := []Result{{Key: "a", Score: 0.1}, {Key: "b", Score: 0.9}, {Key: "c", Score: 0.5}}
	got := SortAndLimit(results, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Key)
	assert.Equal(t, "c", got[1].Key)
}

func TestValidate(t *testing.T) {
	ok := NewRecord("u", "d", 0, "text", []float32{1, 2})
	assert.NoError(t, Validate([]Record{ok}, 2))
	assert.Error(t, Validate([]Record{ok}, 3))

	bad := ok
	bad.Metadata.UserID = ""
	assert.Error(t, Validate([]Record{bad}, 2))
}
