package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/middleware"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Query     *QueryHandler
	Health    *HealthHandler
	// QueryRateWindow is the minimum gap between two queries from one client.
	QueryRateWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Health)

	api.POST("/documents", deps.Documents.Create)
	api.POST("/documents/upload", deps.Documents.Upload)
	api.POST("/documents/validate", deps.Documents.Validate)
	api.GET("/documents", deps.Documents.List)
	api.GET("/documents/:id", deps.Documents.Get)
	api.PUT("/documents/:id", deps.Documents.Update)
	api.DELETE("/documents/:id", deps.Documents.Delete)

	api.POST("/query", middleware.RateLimit(deps.QueryRateWindow), deps.Query.Query)
}
