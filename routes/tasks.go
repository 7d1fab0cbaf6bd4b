package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/monitor"
	"docqa-platform/middleware"
	"docqa-platform/utils"
)

func SetupTaskRoutes(tasks *gin.RouterGroup, deps Deps) {
	tasks.GET("", handleListTasks(deps))
	tasks.GET("/stats", handleTaskStats(deps))
	tasks.GET("/analytics", handleTaskAnalytics(deps))
	tasks.GET("/:id", handleTaskStatus(deps, "id"))
	tasks.POST("/:id/cancel", handleCancelTask(deps))
	tasks.POST("/:id/retry", handleRetryTask(deps))
}

func handleListTasks(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := deps.Monitor.GetUserTasks(c.Request.Context(), middleware.GetUserID(c), queryInt(c, "limit", monitor.DefaultUserTaskLimit))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
	}
}

// handleTaskStatus serves one job owned by the caller; param names the
// path parameter holding its id.
func handleTaskStatus(deps Deps, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := deps.Monitor.GetUserTaskInfo(c.Request.Context(), c.Param(param), middleware.GetUserID(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func handleTaskStats(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		queues, err := deps.Monitor.QueueStats(ctx)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		workers, err := deps.Monitor.WorkerStats(ctx)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queues": queues, "workers": workers})
	}
}

func handleTaskAnalytics(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := queryInt(c, "days", monitor.DefaultAnalyticsDays)
		analytics, err := deps.Monitor.Analytics(c.Request.Context(), middleware.GetUserID(c), days)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"period_days": days, "analytics": analytics})
	}
}

func handleCancelTask(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		if err := deps.Monitor.CancelTask(c.Request.Context(), taskID, middleware.GetUserID(c)); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": "cancelled", "message": "Task cancelled"})
	}
}

func handleRetryTask(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		newID, err := deps.Monitor.RetryTask(c.Request.Context(), taskID, middleware.GetUserID(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"task_id":    newID,
			"retry_of":   taskID,
			"status":     "queued",
			"status_url": "/tasks/" + newID,
		})
	}
}
