package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/controllers"
	"stocksync/services/registry"
	syncsvc "stocksync/services/sync"
)

// SetupRoutes sets up the operational API routes
func SetupRoutes(router *gin.Engine, orchestrator *syncsvc.Orchestrator, reg registry.Registry, cfg *config.Config, log *logrus.Logger) {
	syncController := controllers.NewSyncController(orchestrator, reg, cfg, log)

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := router.Group("/api/v1")
	{
		instruments := api.Group("/instruments")
		{
			instruments.GET("", syncController.GetInstruments)
			instruments.GET("/:symbol", syncController.GetInstrument)
			instruments.POST("", syncController.RegisterInstrument)
		}

		sync := api.Group("/sync")
		{
			sync.GET("/status", syncController.GetSyncStatus)
			sync.GET("/history", syncController.GetSyncHistory)
			sync.POST("/run", syncController.TriggerSync)
		}
	}
}
