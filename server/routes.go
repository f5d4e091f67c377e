package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the middleware chain and every API route.
func SetupRoutes(router *gin.Engine, h *Handlers, cfg Config) {
	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware(cfg.Release()))
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())

	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", h.Health)

		api.POST("/test", h.StartTest)
		api.GET("/stream/:task_id", h.StreamSSE)
		api.GET("/ws/:task_id", h.StreamWebSocket)

		api.GET("/models", h.ListModels)
		api.GET("/models/:name", h.GetModel)
		api.POST("/models", h.AddModel)

		api.GET("/history", h.ListHistory)
		api.GET("/history/:id", h.GetHistory)
		api.DELETE("/history/:id", h.DeleteHistory)
		api.DELETE("/history", h.ClearHistory)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "LLM stream benchmark API",
			"status":  "ok",
			"endpoints": gin.H{
				"health":  "/api/health",
				"models":  "/api/models",
				"test":    "/api/test",
				"stream":  "/api/stream/{task_id}",
				"ws":      "/api/ws/{task_id}",
				"history": "/api/history",
			},
		})
	})

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}
