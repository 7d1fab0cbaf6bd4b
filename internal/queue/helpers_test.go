package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/config"
	"docqa-platform/internal/embedding"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/sidestore"
	"docqa-platform/internal/store/memstore"
	"docqa-platform/internal/vectorstore/memory"
	"docqa-platform/services"
)

const pythonText = "Python is a language for AI, web, and data."

// fakeEnqueuer records tasks instead of writing them to Redis.
// onEnqueue, when set, runs before EnqueueContext returns, the way a fast
// worker can.
type fakeEnqueuer struct {
	mu        sync.Mutex
	tasks     []*asynq.Task
	err       error
	onEnqueue func(task *asynq.Task)
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	hook := f.onEnqueue
	f.mu.Unlock()

	if hook != nil {
		hook(task)
	}
	return &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}, nil
}

type testEnv struct {
	cfg       *config.Config
	side      *sidestore.Store
	store     *memstore.Store
	index     *memory.Storage
	enqueuer  *fakeEnqueuer
	client    *Client
	processor *Processor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		AllowedExtensions:         []string{".txt", ".pdf"},
		MaxFileSize:               10 * 1024 * 1024,
		MaxDocumentsPerUser:       10,
		MaxChunksPerDocument:      50,
		MaxQueriesPerDay:          5,
		RateLimitEnabled:          true,
		ChunkSize:                 100,
		ChunkOverlap:              20,
		DocumentProcessingTimeout: 10 * time.Minute,
		QATaskTimeout:             3 * time.Minute,
		UserTaskTimeout:           time.Minute,
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	side := sidestore.New(rdb, sidestore.Options{})

	st := memstore.New()
	index := memory.NewStorage()
	r := retriever.New(embedding.NewHashProvider(64), index, nil)

	enq := &fakeEnqueuer{}
	return &testEnv{
		cfg:      cfg,
		side:     side,
		store:    st,
		index:    index,
		enqueuer: enq,
		client:   NewClient(enq, side, DefaultPolicies(cfg), 0),
		processor: NewProcessor(ProcessorDeps{
			Ingestion:   services.NewIngestionService(st, r, cfg),
			QA:          services.NewQAService(r, &ai.FallbackGenerator{}, st, cfg),
			Maintenance: services.NewMaintenanceService(st, side, nil, cfg),
			Side:        side,
			Cleaner:     &countingCleaner{},
		}),
	}
}

// withTaskInfo makes handlers see the given id and retry counters.
func withTaskInfo(t *testing.T, id string, retried, maxRetry int) {
	t.Helper()
	prev := taskInfo
	taskInfo = func(context.Context) (string, int, int) { return id, retried, maxRetry }
	t.Cleanup(func() { taskInfo = prev })
}

type countingCleaner struct {
	days []int
	err  error
}

func (c *countingCleaner) CleanupOldTasks(ctx context.Context, days int) (int, error) {
	c.days = append(c.days, days)
	if c.err != nil {
		return 0, c.err
	}
	return 4, nil
}

var errBoom = errors.New("boom")
