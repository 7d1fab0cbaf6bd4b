// Package vectorstore defines the contract every vector index backend
// satisfies and the helpers they share.
//
// Every read and delete is scoped to one user. Backends build the user
// filter into the query they send, never by filtering results afterwards.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
)

const previewLength = 200

// ErrNotInitialized is returned when a backend is used before Init.
var ErrNotInitialized = errors.New("vector index not initialized")

// pointNamespace seeds the deterministic point ids. Changing it orphans
// every stored point.
var pointNamespace = uuid.MustParse("6f3c1a8e-2b7d-5e4f-9a10-4c2d8b7e6a15")

// Metadata is stored next to each chunk vector.
type Metadata struct {
	UserID     string `json:"user_id" bson:"user_id"`
	DocumentID string `json:"document_id" bson:"document_id"`
	ChunkIndex int    `json:"chunk_index" bson:"chunk_index"`
	Preview    string `json:"preview" bson:"preview"`
}

// Record is one chunk ready to be upserted.
type Record struct {
	Key      string
	Vector   []float32
	Content  string
	Metadata Metadata
}

// Result is one search hit. Score is cosine similarity, higher is closer.
type Result struct {
	Key      string   `json:"key"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Index is implemented by each backend.
type Index interface {
	// Init creates the collection, table or index sized to dimension. It is
	// safe to call more than once.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, userID string, vector []float32, topK int) ([]Result, error)
	DeleteDocument(ctx context.Context, userID, documentID string) (int64, error)
	DeleteUser(ctx context.Context, userID string) (int64, error)
	Name() string
	Close() error
}

// ChunkKey is the deterministic identity of a chunk.
func ChunkKey(userID, documentID string, chunkIndex int) string {
	return fmt.Sprintf("user_%s_doc_%s_chunk_%d", userID, documentID, chunkIndex)
}

// PointID maps a chunk key onto a UUID for backends that only accept
// UUID identifiers. The key itself is kept in the payload.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Preview returns at most 200 runes of content, with "..." when cut.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "..."
}

// NewRecord builds the record for chunk chunkIndex of a document.
func NewRecord(userID, documentID string, chunkIndex int, content string, vector []float32) Record {
	return Record{
		Key:     ChunkKey(userID, documentID, chunkIndex),
		Vector:  vector,
		Content: content,
		Metadata: Metadata{
			UserID:     userID,
			DocumentID: documentID,
			ChunkIndex: chunkIndex,
			Preview:    Preview(content),
		},
	}
}

// Validate checks that records fit an index of the given dimension.
func Validate(records []Record, dimension int) error {
	for i, r := range records {
		if r.Key == "" || r.Metadata.UserID == "" {
			return fmt.Errorf("record %d: key and user id are required", i)
		}
		if len(r.Vector) != dimension {
			return fmt.Errorf("record %d: vector dimension %d does not match index dimension %d", i, len(r.Vector), dimension)
		}
	}
	return nil
}

// SortAndLimit orders results by descending score and keeps topK.
func SortAndLimit(results []Result, topK int) []Result {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
