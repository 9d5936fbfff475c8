package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/gptload-sync/internal/config"
	"github.com/nulzo/gptload-sync/internal/server/middleware"
	v1 "github.com/nulzo/gptload-sync/internal/server/v1"
	"github.com/nulzo/gptload-sync/internal/server/validator"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	handler *v1.Handler
	metrics http.Handler
}

func New(cfg *config.Config, logger *zap.Logger, deps v1.Deps, metrics http.Handler) *Server {

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.InitValidator()

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger, "/health", "/metrics"))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(cfg.Tracing.ServiceName, "/health", "/metrics"))
	}

	if deps.Logger == nil {
		deps.Logger = logger
	}

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		handler: v1.NewHandler(deps),
		metrics: metrics,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
