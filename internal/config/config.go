package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	LogLevel    string
	CORSOrigins []string

	// JWT
	AccessSecret string

	// Relational store
	RelationalDB string // "mongodb" (default), "mysql", "memory"
	MongoURI     string
	DBName       string
	MySQLDSN     string

	// Redis Configuration
	RedisURL         string
	RedisPassword    string
	RedisDB          int
	SideStoreRedisDB int

	// Vector index
	VectorDBType           string // "sqlite" (default), "qdrant", "mongodb", "memory"
	SQLiteVectorPath       string
	QdrantURL              string
	QdrantAPIKey           string
	QdrantCollection       string
	QdrantTimeout          time.Duration
	MongoVectorCollection  string
	VectorIndexName        string
	SearchIndexName        string
	VectorNumCandidates    int
	AtlasTextSearchEnabled bool

	// Embeddings configuration
	EmbeddingsProvider    string // "ollama" (default), "google", "openai", "hash"
	OllamaEmbeddingsModel string
	GoogleEmbeddingsModel string
	OpenAIEmbeddingsModel string
	HashEmbeddingsDim     int

	// Answer generation
	OllamaEnabled        bool
	OllamaURL            string
	OllamaModel          string
	OllamaTimeout        time.Duration
	HostedLLMProvider    string // "openai" (default) or "gemini"
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIChatModel      string
	GeminiAPIKey         string
	GeminiModel          string
	LLMRequestsPerMinute int

	// Limits
	MaxFileSize          int64
	AllowedExtensions    []string
	MaxDocumentsPerUser  int
	MaxChunksPerDocument int
	MaxQueriesPerDay     int
	RateLimitEnabled     bool
	RateLimitReqs        int
	RateLimitWindow      int
	ChunkSize            int
	ChunkOverlap         int

	// Jobs
	DocumentProcessingTimeout time.Duration
	QATaskTimeout             time.Duration
	UserTaskTimeout           time.Duration
	WorkerConcurrency         int
	TaskMetaTTL               time.Duration
	UserTaskListTTL           time.Duration
	TaskRetentionDays         int

	// Notifications
	NotifyRabbitMQURL string
	NotifyQueue       string

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080")),

		AccessSecret: getEnv("ACCESS_SECRET", ""),

		RelationalDB: strings.ToLower(getEnv("RELATIONAL_DB", "mongodb")),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017/docqa"),
		DBName:       getEnv("DB_NAME", "docqa"),
		MySQLDSN:     getEnv("MYSQL_DSN", "docqa:docqa@tcp(localhost:3306)/docqa?charset=utf8mb4&parseTime=True&loc=UTC"),

		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SideStoreRedisDB: getEnvInt("SIDESTORE_REDIS_DB", 1),

		VectorDBType:           strings.ToLower(getEnv("VECTOR_DB_TYPE", "sqlite")),
		SQLiteVectorPath:       getEnv("SQLITE_VECTOR_PATH", "./vector_db"),
		QdrantURL:              getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:           getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:       getEnv("QDRANT_COLLECTION", "qa_documents"),
		QdrantTimeout:          getEnvDuration("QDRANT_TIMEOUT", 60*time.Second),
		MongoVectorCollection:  getEnv("MONGODB_VECTOR_COLLECTION", "qa_chunks"),
		VectorIndexName:        getEnv("MONGODB_VECTOR_INDEX", "qa_chunks_vector"),
		SearchIndexName:        getEnv("MONGODB_SEARCH_INDEX", "qa_chunks_text"),
		VectorNumCandidates:    getEnvInt("VECTOR_NUM_CANDIDATES", 100),
		AtlasTextSearchEnabled: getEnvBool("MONGODB_SEARCH_ENABLED", true),

		EmbeddingsProvider:    strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", "ollama")),
		OllamaEmbeddingsModel: getEnv("OLLAMA_EMBEDDINGS_MODEL", "nomic-embed-text"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		HashEmbeddingsDim:     getEnvInt("HASH_EMBEDDINGS_DIM", 384),

		OllamaEnabled:        getEnvBool("OLLAMA_ENABLED", true),
		OllamaURL:            getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          getEnv("OLLAMA_MODEL", "qwen3:1.7b"),
		OllamaTimeout:        getEnvDuration("OLLAMA_TIMEOUT", 60*time.Second),
		HostedLLMProvider:    strings.ToLower(getEnv("HOSTED_LLM_PROVIDER", "openai")),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMRequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),

		MaxFileSize:          getEnvInt64("MAX_FILE_SIZE", 10*1024*1024),
		AllowedExtensions:    splitList(getEnv("ALLOWED_EXTENSIONS", ".txt,.pdf")),
		MaxDocumentsPerUser:  getEnvInt("MAX_DOCUMENTS_PER_USER", 100),
		MaxChunksPerDocument: getEnvInt("MAX_CHUNKS_PER_DOCUMENT", 1000),
		MaxQueriesPerDay:     getEnvInt("MAX_QUERIES_PER_DAY", 100),
		RateLimitEnabled:     getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitReqs:        getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
		RateLimitWindow:      getEnvInt("RATE_LIMIT_WINDOW", 60),
		ChunkSize:            getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:         getEnvInt("CHUNK_OVERLAP", 200),

		DocumentProcessingTimeout: getEnvDuration("DOCUMENT_PROCESSING_TIMEOUT", 10*time.Minute),
		QATaskTimeout:             getEnvDuration("QA_TASK_TIMEOUT", 3*time.Minute),
		UserTaskTimeout:           getEnvDuration("USER_TASK_TIMEOUT", time.Minute),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 10),
		TaskMetaTTL:               getEnvDuration("TASK_META_TTL", 24*time.Hour),
		UserTaskListTTL:           getEnvDuration("USER_TASK_LIST_TTL", 7*24*time.Hour),
		TaskRetentionDays:         getEnvInt("TASK_RETENTION_DAYS", 7),

		NotifyRabbitMQURL: getEnv("NOTIFY_RABBITMQ_URL", ""),
		NotifyQueue:       getEnv("NOTIFY_QUEUE", "user_notifications"),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that a bad environment can break.
func (c *Config) Validate() error {
	if c.AccessSecret == "" {
		return fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}
	if c.GinMode == "release" && len(c.AccessSecret) < 32 {
		return fmt.Errorf("ACCESS_SECRET must be at least 32 characters in release mode")
	}

	switch c.RelationalDB {
	case "mongodb", "mysql", "memory":
	default:
		return fmt.Errorf("unsupported RELATIONAL_DB %q", c.RelationalDB)
	}

	switch c.VectorDBType {
	case "sqlite", "qdrant", "mongodb", "memory":
	default:
		return fmt.Errorf("unsupported VECTOR_DB_TYPE %q", c.VectorDBType)
	}

	switch c.EmbeddingsProvider {
	case "ollama", "google", "openai", "hash":
	default:
		return fmt.Errorf("unsupported EMBEDDINGS_PROVIDER %q", c.EmbeddingsProvider)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}

	return nil
}

// IsAllowedExtension reports whether ext (with leading dot) may be uploaded.
func (c *Config) IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
