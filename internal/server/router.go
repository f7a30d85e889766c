package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tavernfall/loreweave-backend/internal/handlers"
)

type RouterConfig struct {
	CampaignHandler *handlers.CampaignHandler
	NoteHandler     *handlers.NoteHandler
	EventHandler    *handlers.EventHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/campaigns", cfg.CampaignHandler.Create)
		api.GET("/campaigns/:id", cfg.CampaignHandler.Get)
		api.GET("/campaigns/:id/graph", cfg.CampaignHandler.GetGraph)
		api.POST("/campaigns/:id/search", cfg.CampaignHandler.Search)
		api.GET("/campaigns/:id/events", cfg.EventHandler.Stream)

		api.POST("/campaigns/:id/notes", cfg.NoteHandler.Create)
		api.GET("/campaigns/:id/notes/:noteId/status", cfg.NoteHandler.GetStatus)
		api.POST("/campaigns/:id/notes/:noteId/confirm-deduplication", cfg.NoteHandler.ConfirmDeduplication)
		api.POST("/campaigns/:id/notes/:noteId/retry-sync", cfg.NoteHandler.RetrySync)
		api.POST("/campaigns/:id/notes/:noteId/retry-processing", cfg.NoteHandler.RetryProcessing)
	}

	return router
}
