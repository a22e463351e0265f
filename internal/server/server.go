// Package server exposes the engine over HTTP: flow and endpoint
// registration, run control, and a WebSocket event stream.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/khanh1998/test-pilot/internal/config"
	"github.com/khanh1998/test-pilot/internal/dispatch"
	"github.com/khanh1998/test-pilot/internal/runner"
	"github.com/khanh1998/test-pilot/pkg/api"
)

// Server implements the HTTP API server for the engine
type Server struct {
	config *config.Config

	mu        sync.Mutex
	flows     map[api.FlowID]*api.Flow
	endpoints map[string]*api.Endpoint
	runner    *runner.Runner
	last      *api.ExecutionResult
}

// NewServer creates a new HTTP API server
func NewServer(cfg *config.Config) *Server {
	return &Server{
		config:    cfg,
		flows:     map[api.FlowID]*api.Flow{},
		endpoints: map[string]*api.Endpoint{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))
	router.Use(s.corsMiddleware())

	router.GET("/health", s.handleHealth)

	eng := router.Group("/engine")
	{
		eng.GET("/endpoints", s.listEndpoints)
		eng.PUT("/endpoints", s.replaceEndpoints)

		eng.GET("/flows", s.listFlows)
		eng.POST("/flows", s.registerFlow)
		eng.GET("/flows/:flowID", s.getFlow)
		eng.DELETE("/flows/:flowID", s.deleteFlow)

		eng.POST("/runs", s.startRun)
		eng.GET("/runs/latest", s.latestRun)
		eng.POST("/reset", s.resetRun)

		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := strings.Join(s.config.AllowedOrigins, ", ")
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origins)
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// newRunner builds an orchestrator over the currently registered endpoint
// definitions
func (s *Server) newRunner() *runner.Runner {
	endpoints := make([]*api.Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		endpoints = append(endpoints, e)
	}

	d := dispatch.New(&dispatch.Config{
		Timeout:         s.config.RequestTimeout,
		Work:            s.config.Work,
		PreserveCookies: s.config.PreserveCookies,
	})
	return runner.New(d, endpoints, slog.Default())
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}
