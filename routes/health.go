package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/logger"
)

func SetupHealthRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		names := make([]string, 0, len(deps.Checks))
		for name := range deps.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		services := gin.H{}
		healthy := true
		for _, name := range names {
			if err := deps.Checks[name](ctx); err != nil {
				logger.Warn("Health check failed", "service", name, "error", err)
				services[name] = gin.H{"status": "unhealthy", "error": err.Error()}
				healthy = false
				continue
			}
			services[name] = gin.H{"status": "healthy"}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		body := gin.H{
			"status":    status,
			"services":  services,
			"timestamp": time.Now().UTC(),
		}
		if !deps.StartedAt.IsZero() {
			body["uptime_seconds"] = int64(time.Since(deps.StartedAt).Seconds())
		}
		c.JSON(code, body)
	})
}
