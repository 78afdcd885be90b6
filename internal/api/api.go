// Package api provides the HTTP API server for the orchestrator: gin
// bootstrap, CORS, health, metrics, the /api/v1 REST surface, and the
// /terminal/ws/:session_id websocket route, following the teacher's
// internal/api/api.go Server/Start/graceful-shutdown shape.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/craftastic-dev/orchestrator/internal/api/v1"
	"github.com/craftastic-dev/orchestrator/internal/auth"
	internalconfig "github.com/craftastic-dev/orchestrator/internal/config"
	"github.com/craftastic-dev/orchestrator/internal/db"
	"github.com/craftastic-dev/orchestrator/internal/db/repositories"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/internal/swc"
	"github.com/craftastic-dev/orchestrator/internal/terminal"
)

type Server struct {
	cfg        *internalconfig.Config
	db         db.Database
	httpServer *http.Server
	repos      *repositories.Repositories
	logger     *slog.Logger

	authenticator *auth.Authenticator
	reconciler    *swc.Reconciler
	containers    *runtime.Manager
	pipeline      *terminal.Pipeline
}

func New(cfg *internalconfig.Config, database db.Database, repos *repositories.Repositories, authenticator *auth.Authenticator, reconciler *swc.Reconciler, containers *runtime.Manager, pipeline *terminal.Pipeline, logger *slog.Logger) *Server {
	return &Server{
		cfg:           cfg,
		db:            database,
		repos:         repos,
		authenticator: authenticator,
		reconciler:    reconciler,
		containers:    containers,
		pipeline:      pipeline,
		logger:        logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.cors())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/terminal/ws/:session_id", func(c *gin.Context) {
		s.pipeline.Attach(c.Writer, c.Request, c.Param("session_id"))
	})

	apiGroup := router.Group("/api/v1")
	middleware := auth.NewMiddleware(s.authenticator)
	handlers := v1.NewAPIHandlers(s.repos, s.reconciler, s.containers, middleware)
	handlers.RegisterRoutes(apiGroup)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) cors() gin.HandlerFunc {
	origin := s.cfg.CORSOrigin
	return func(c *gin.Context) {
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "orchestrator"})
}
