package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind/internal/middleware"
	"github.com/evermind-ai/evermind/internal/pkg/response"
)

type RouterDeps struct {
	Chat         *ChatHandler
	Assets       *AssetHandler
	Knowledge    *KnowledgeHandler
	JWTSecret    []byte
	UploadWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/chat/context", deps.Chat.Context)
	authGroup.POST("/chat/turns", deps.Chat.RecordTurn)

	authGroup.POST("/assets/upload", middleware.RateLimit(deps.UploadWindow), deps.Assets.Upload)
	authGroup.GET("/assets", deps.Assets.List)
	authGroup.GET("/assets/:id", deps.Assets.Get)
	authGroup.DELETE("/assets/:id", deps.Assets.Delete)

	authGroup.POST("/knowledge/search", deps.Knowledge.Search)
}
