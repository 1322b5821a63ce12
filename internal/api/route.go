package api

import (
	"Parley/internal/api/middleware"
	"Parley/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"code":    200,
				"message": "pong",
				"data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		{
			// 握手阶段自行鉴权，支持 query / 子协议携带 token
			imGroup.GET("/ws", group.WSHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/send", group.IMHandler.SendMessage)
				authGroup.GET("/messages/:key", group.IMHandler.GetMessages)
				authGroup.PUT("/mark-read/:key", group.IMHandler.MarkRead)
				authGroup.PUT("/message/:id", group.IMHandler.EditMessage)
				authGroup.DELETE("/message/:id", group.IMHandler.DeleteMessage)
				authGroup.GET("/conversations", group.IMHandler.GetConversationList)
				authGroup.GET("/stats", group.IMHandler.GetStats)
				authGroup.GET("/online", group.IMHandler.GetOnlineUsers)
			}
		}
	}

	return r
}
