package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/config"
	"docqa-platform/internal/embedding"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/sidestore"
	"docqa-platform/internal/store/memstore"
	"docqa-platform/internal/vectorstore/memory"
)

type testEnv struct {
	cfg         *config.Config
	store       *memstore.Store
	index       *memory.Storage
	retriever   *retriever.Retriever
	side        *sidestore.Store
	redis       *miniredis.Miniredis
	ingestion   *IngestionService
	qa          *QAService
	maintenance *MaintenanceService
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedExtensions:    []string{".txt", ".pdf"},
		MaxFileSize:          10 * 1024 * 1024,
		MaxDocumentsPerUser:  3,
		MaxChunksPerDocument: 50,
		MaxQueriesPerDay:     5,
		RateLimitEnabled:     true,
		ChunkSize:            100,
		ChunkOverlap:         20,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memstore.New()
	index := memory.NewStorage()
	r := retriever.New(embedding.NewHashProvider(64), index, nil)
	side := sidestore.New(rdb, sidestore.Options{})

	return &testEnv{
		cfg:         cfg,
		store:       st,
		index:       index,
		retriever:   r,
		side:        side,
		redis:       mr,
		ingestion:   NewIngestionService(st, r, cfg),
		qa:          NewQAService(r, &ai.FallbackGenerator{}, st, cfg),
		maintenance: NewMaintenanceService(st, side, nil, cfg),
	}
}

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu       sync.Mutex
	values   []int
	messages []string
}

func (p *progressRecorder) record(ctx context.Context, progress int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, progress)
	p.messages = append(p.messages, message)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
