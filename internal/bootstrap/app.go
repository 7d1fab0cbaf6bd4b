package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/auth"
	"docqa-platform/internal/broker"
	"docqa-platform/internal/config"
	"docqa-platform/internal/embedding"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/monitor"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/retriever"
	"docqa-platform/internal/sidestore"
	"docqa-platform/internal/store"
	"docqa-platform/internal/store/memstore"
	"docqa-platform/internal/store/mongostore"
	"docqa-platform/internal/store/sqlstore"
	"docqa-platform/internal/telemetry"
	"docqa-platform/services"
)

// App holds every long-lived dependency shared by the API server and the
// worker.
type App struct {
	Config  *config.Config
	Metrics *telemetry.Metrics

	Mongo *mongo.Client
	MySQL *gorm.DB
	Store store.Store

	Redis     *redis.Client
	SideRedis *redis.Client
	Side      *sidestore.Store

	MQConn    *amqp.Connection
	Publisher broker.Publisher

	Retriever *retriever.Retriever
	Generator ai.Generator

	Ingestion   *services.IngestionService
	QA          *services.QAService
	Maintenance *services.MaintenanceService

	Policies    queue.Policies
	AsynqClient *asynq.Client
	Queue       *queue.Client
	Inspector   *asynq.Inspector
	Monitor     *monitor.Monitor
	Tokens      *auth.Tokens

	StartedAt time.Time

	shutdownTracer func()
}

// New loads configuration and connects every backend. serviceName labels
// traces and logs.
func New(ctx context.Context, serviceName string) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.InitLogger(cfg)

	app := &App{Config: cfg, StartedAt: time.Now()}
	if err := app.init(ctx, serviceName); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, serviceName string) error {
	cfg := a.Config

	shutdown, err := telemetry.InitTracer(cfg, serviceName)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdown = func() {}
	}
	a.shutdownTracer = shutdown

	a.Metrics, err = telemetry.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics failed: %w", err)
	}

	if cfg.RelationalDB == "mongodb" || cfg.VectorDBType == "mongodb" {
		a.Mongo, err = config.ConnectMongoDB(cfg)
		if err != nil {
			return err
		}
	}

	a.Store, a.MySQL, err = OpenStore(ctx, cfg, a.Mongo)
	if err != nil {
		return err
	}

	a.Redis, err = config.NewRedisClient(cfg, cfg.RedisDB)
	if err != nil {
		return err
	}
	a.SideRedis, err = config.NewRedisClient(cfg, cfg.SideStoreRedisDB)
	if err != nil {
		return err
	}
	a.Side = sidestore.New(a.SideRedis, sidestore.Options{
		TaskMetaTTL:     cfg.TaskMetaTTL,
		UserTaskListTTL: cfg.UserTaskListTTL,
	})

	a.Publisher = broker.Nop{}
	if cfg.NotifyRabbitMQURL != "" {
		a.MQConn, err = broker.Dial(ctx, cfg.NotifyRabbitMQURL)
		if err != nil {
			return err
		}
		a.Publisher = broker.NewNotificationPublisher(a.MQConn, cfg.NotifyQueue)
		logger.Info("Notification broker connected", "queue", cfg.NotifyQueue)
	}

	index, err := retriever.NewIndex(ctx, cfg, a.Mongo)
	if err != nil {
		return fmt.Errorf("open vector index failed: %w", err)
	}
	provider, err := embedding.New(ctx, cfg)
	if err != nil {
		_ = index.Close()
		return fmt.Errorf("init embeddings failed: %w", err)
	}
	a.Retriever = retriever.New(provider, index, a.Metrics)
	a.Generator = ai.SelectGenerator(ctx, cfg, a.Metrics)

	a.Ingestion = services.NewIngestionService(a.Store, a.Retriever, cfg)
	a.QA = services.NewQAService(a.Retriever, a.Generator, a.Store, cfg)
	a.Maintenance = services.NewMaintenanceService(a.Store, a.Side, a.Publisher, cfg)

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		return err
	}
	a.Policies = queue.DefaultPolicies(cfg)
	a.AsynqClient = asynq.NewClient(redisOpt)
	a.Queue = queue.NewClient(a.AsynqClient, a.Side, a.Policies, cfg.TaskMetaTTL)
	a.Inspector = asynq.NewInspector(redisOpt)
	a.Monitor = monitor.New(a.Side, a.Inspector, a.Queue)

	a.Tokens, err = auth.NewTokens(cfg.AccessSecret, a.Redis)
	if err != nil {
		return err
	}

	return nil
}

// OpenStore returns the relational store named by RELATIONAL_DB. The gorm
// handle is non-nil only for mysql.
func OpenStore(ctx context.Context, cfg *config.Config, mongoClient *mongo.Client) (store.Store, *gorm.DB, error) {
	switch cfg.RelationalDB {
	case "mongodb":
		if mongoClient == nil {
			return nil, nil, fmt.Errorf("mongodb store needs a MongoDB connection")
		}
		logger.Info("Relational store ready", "backend", "mongodb")
		return mongostore.New(mongoClient.Database(cfg.DBName)), nil, nil
	case "mysql":
		db, err := config.ConnectMySQL(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlStore := sqlstore.New(db)
		if err := sqlStore.Migrate(ctx); err != nil {
			_ = sqlStore.Close(ctx)
			return nil, nil, fmt.Errorf("auto migrate tables failed: %w", err)
		}
		logger.Info("Relational store ready", "backend", "mysql")
		return sqlStore, db, nil
	default:
		logger.Warn("Using in-memory relational store; data is lost on restart")
		return memstore.New(), nil, nil
	}
}

// RedisOpt returns the job queue's connection options.
func (a *App) RedisOpt() (asynq.RedisConnOpt, error) {
	return config.AsynqRedisOpt(a.Config)
}

// Processor builds the job handlers over the app's services.
func (a *App) Processor() *queue.Processor {
	return queue.NewProcessor(queue.ProcessorDeps{
		Ingestion:     a.Ingestion,
		QA:            a.QA,
		Maintenance:   a.Maintenance,
		Side:          a.Side,
		Cleaner:       a.Monitor,
		Metrics:       a.Metrics,
		RetentionDays: a.Config.TaskRetentionDays,
	})
}

// HealthChecks returns one reachability probe per connected backend.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"redis":      func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		"side_store": a.Side.Ping,
		"vector_index": func(ctx context.Context) error {
			if a.Retriever.Dimension() > 0 {
				return nil
			}
			return a.Retriever.Init(ctx)
		},
	}
	if a.Mongo != nil {
		checks["mongodb"] = func(ctx context.Context) error { return a.Mongo.Ping(ctx, nil) }
	}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if p, ok := a.Publisher.(*broker.NotificationPublisher); ok {
		checks["rabbitmq"] = func(ctx context.Context) error {
			if !p.Healthy() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var closeErr error
	keep := func(err error) {
		if err != nil {
			closeErr = err
		}
	}

	if a.AsynqClient != nil {
		keep(a.AsynqClient.Close())
	}
	if a.Inspector != nil {
		keep(a.Inspector.Close())
	}
	if a.Retriever != nil {
		keep(a.Retriever.Close())
	}
	if a.Publisher != nil {
		keep(a.Publisher.Close())
	}
	if a.Store != nil {
		keep(a.Store.Close(ctx))
	}
	if a.Mongo != nil {
		keep(a.Mongo.Disconnect(ctx))
	}
	if a.SideRedis != nil {
		keep(a.SideRedis.Close())
	}
	if a.Redis != nil {
		keep(a.Redis.Close())
	}
	if a.shutdownTracer != nil {
		a.shutdownTracer()
	}
	return closeErr
}
