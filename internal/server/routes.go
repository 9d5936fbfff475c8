package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/server/middleware"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	h := s.handler

	// public
	s.router.GET("/health", h.HandleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	limiter := middleware.NewRateLimiter(
		s.config.Server.RateLimit.RequestsPerSecond,
		s.config.Server.RateLimit.Burst,
		s.logger,
	)

	api := s.router.Group("/api")
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	{
		api.GET("/providers", h.HandleListProviders)
		api.POST("/providers", h.HandleCreateProvider)
		api.GET("/providers/:id", h.HandleGetProvider)
		api.PUT("/providers/:id", h.HandleUpdateProvider)
		api.DELETE("/providers/:id", h.HandleDeleteProvider)
		api.GET("/providers/:id/models", h.HandleListModels)
		api.PUT("/providers/:id/models", h.HandleReplaceModels)

		api.GET("/models/normalized-names", h.HandleNormalizedNames)
		api.PUT("/models/batch-normalize", h.HandleBatchNormalize)
		api.POST("/models/bulk-delete", h.HandleBulkDeleteModels)
		api.PUT("/models/:id/normalize", h.HandleNormalizeModel)
		api.POST("/models/:id/reset", h.HandleResetModel)
		api.DELETE("/models/:id", h.HandleDeleteModel)

		cfg := api.Group("/config")
		cfg.POST("/sync", limiter.Middleware(), h.HandleSync)
		cfg.POST("/plan", h.HandlePlan)
		cfg.GET("/sync/status", h.HandleSyncStatus)
		cfg.GET("/sync/history", h.HandleSyncHistory)
		cfg.GET("/sync/:id", h.HandleGetSync)
		cfg.POST("/sync/:id/retry", limiter.Middleware(), h.HandleRetrySync)
		cfg.GET("/uni-api/yaml", h.HandleUniAPIConfig)

		api.GET("/gptload/status", h.HandleGPTLoadStatus)
		api.GET("/gptload/groups", h.HandleListGroups)
	}
}
