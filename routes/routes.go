package routes

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/config"
	"docqa-platform/internal/monitor"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/sidestore"
	"docqa-platform/middleware"
	"docqa-platform/services"
)

// Deps are the handlers' collaborators.
type Deps struct {
	Config      *config.Config
	Tokens      middleware.TokenValidator
	RateLimiter *redis.Client
	Ingestion   *services.IngestionService
	QA          *services.QAService
	Maintenance *services.MaintenanceService
	Queue       *queue.Client
	Monitor     *monitor.Monitor
	Side        *sidestore.Store
	Checks      map[string]func(ctx context.Context) error
	StartedAt   time.Time
}

// SetupRoutes mounts every API group on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	SetupHealthRoutes(router, deps)

	authed := []gin.HandlerFunc{middleware.RequireAuth(deps.Tokens)}
	if deps.Config.RateLimitEnabled && deps.RateLimiter != nil {
		window := time.Duration(deps.Config.RateLimitWindow) * time.Second
		authed = append(authed, middleware.RateLimitMiddleware(deps.RateLimiter, deps.Config.RateLimitReqs, window))
	}

	SetupQARoutes(router.Group("/qa", authed...), deps)
	SetupTaskRoutes(router.Group("/tasks", authed...), deps)
	SetupNotificationRoutes(router.Group("/notifications", authed...), deps)
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func priority(c *gin.Context) string {
	if c.Query("priority") == queue.PriorityHigh {
		return queue.PriorityHigh
	}
	return queue.PriorityNormal
}
