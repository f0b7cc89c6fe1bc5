package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/podwave/digest-api/internal/database"
	"github.com/podwave/digest-api/internal/pipeline"
	"github.com/podwave/digest-api/pkg/config"
)

// Server is the HTTP surface over the digest pipeline: read-only rows,
// published RSS, and phase trigger endpoints for dashboards.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	db         *database.DB
	pipeline   *pipeline.Pipeline
	publishDir string
}

// NewServer creates the HTTP server and registers its routes
func NewServer(cfg *config.Config, db *database.DB, p *pipeline.Pipeline) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	server := &Server{
		engine:     engine,
		db:         db,
		pipeline:   p,
		publishDir: cfg.Publish.Dir,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        engine,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}
	server.registerRoutes()

	return server
}

// Engine returns the Gin engine for testing
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	dbStatus := "healthy"
	code := http.StatusOK
	if err := s.db.HealthCheck(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
