package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-platform/middleware"
	"docqa-platform/utils"
)

func SetupNotificationRoutes(notifications *gin.RouterGroup, deps Deps) {
	notifications.GET("", func(c *gin.Context) {
		items, err := deps.Maintenance.Notifications(c.Request.Context(), middleware.GetUserID(c), queryInt(c, "limit", 20))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		unread := 0
		for _, n := range items {
			if !n.Read {
				unread++
			}
		}
		c.JSON(http.StatusOK, gin.H{"notifications": items, "total": len(items), "unread": unread})
	})

	notifications.POST("/:id/read", func(c *gin.Context) {
		id := c.Param("id")
		ok, err := deps.Side.MarkNotificationRead(c.Request.Context(), middleware.GetUserID(c), id)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		if !ok {
			utils.RespondWithNotFound(c, "Notification not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
	})
}
