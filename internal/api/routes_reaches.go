package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/handlers"
)

func registerReachRoutes(api *gin.RouterGroup, handler *handlers.ForecastHandler, prefetchLimit gin.HandlerFunc) {
	reaches := api.Group("/reaches")
	{
		reaches.GET("/:reachID/forecasts/:class", handler.Forecast)
		reaches.GET("/:reachID/return-periods", handler.ReturnPeriods)
		reaches.POST("/prefetch", prefetchLimit, handler.Prefetch)
	}
}
