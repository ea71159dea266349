package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pccr10001/intercom/internal/model"
)

// RegisterRoutes mounts the administrative API. metrics may be nil.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ih *IntercomHandler, uh *UserHandler, wh *WebhookHandler, metrics http.Handler) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.GET("/api/status", ih.GetStatus)
	r.POST("/api/test", AuthMiddleware(db), RequireRole(model.RoleOperator), ih.Test)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)

		authGroup := apiGroup.Group("/")
		authGroup.Use(AuthMiddleware(db))
		{
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.GET("/status", ih.GetStatus)
			authGroup.GET("/peers", ih.ListPeers)
			authGroup.GET("/settings", ih.GetSettings)
			authGroup.GET("/calls", ih.ListCalls)
			authGroup.GET("/network", ih.NetworkStats)
			authGroup.GET("/events", ih.Events)

			operatorGroup := authGroup.Group("/")
			operatorGroup.Use(RequireRole(model.RoleOperator))
			{
				operatorGroup.POST("/call", ih.Call)
				operatorGroup.POST("/ptt", ih.PTT)
				operatorGroup.PUT("/settings", ih.UpdateSettings)
				operatorGroup.DELETE("/calls", ih.ClearCalls)
			}

			adminGroup := authGroup.Group("/")
			adminGroup.Use(RequireRole(model.RoleAdmin))
			{
				adminGroup.POST("/network/rejoin", ih.Rejoin)

				adminGroup.GET("/webhooks", wh.ListWebhooks)
				adminGroup.POST("/webhooks", wh.CreateWebhook)
				adminGroup.DELETE("/webhooks/:id", wh.DeleteWebhook)

				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.PUT("/users/:id/role", uh.SetRole)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}
}
