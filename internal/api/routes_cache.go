package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/handlers"
)

func registerCacheRoutes(api *gin.RouterGroup, handler *handlers.CacheHandler) {
	api.DELETE("/cache", handler.Clear)

	group := api.Group("/cache")
	{
		group.GET("/stats", handler.Stats)
		group.POST("/sweep", handler.Sweep)

		group.PUT("/values/:key", handler.PutValue)
		group.GET("/values/:key", handler.GetValue)
		group.DELETE("/values/:key", handler.DeleteValue)

		group.PUT("/files/:key", handler.PutFile)
		group.GET("/files/:key", handler.GetFile)
		group.DELETE("/files/:key", handler.DeleteFile)
	}
}
