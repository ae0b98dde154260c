// Package server exposes the HTTP and WebSocket API. Handlers bind and
// validate requests, translate store and engine errors to status codes,
// and never touch a running job's record directly.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/awlabs/trellis/internal/dispatch"
	"github.com/awlabs/trellis/internal/engine"
	"github.com/awlabs/trellis/internal/status"
	"github.com/awlabs/trellis/internal/storage"
	"github.com/awlabs/trellis/internal/store"
)

type (
	// Pinger reports reachability of the backing job state store
	Pinger interface {
		Ping(ctx context.Context) error
	}

	// Dependencies are the collaborators the server needs
	Dependencies struct {
		Jobs       store.JobStore
		Workflows  store.WorkflowStore
		Artifacts  store.ArtifactStore
		Storage    storage.Mapping
		Engine     *engine.Engine
		Dispatcher *dispatch.Dispatcher
		Hub        *status.Hub
		Pinger     Pinger
	}

	// Server implements the HTTP API for the job execution service
	Server struct {
		jobs       store.JobStore
		workflows  store.WorkflowStore
		artifacts  store.ArtifactStore
		storage    storage.Mapping
		engine     *engine.Engine
		dispatcher *dispatch.Dispatcher
		hub        *status.Hub
		pinger     Pinger

		mu      sync.Mutex
		sockets map[*wsClient]struct{}
	}
)

var (
	ErrInvalidJSON = errors.New("invalid JSON payload")
)

// NewServer creates a new HTTP API server
func NewServer(deps *Dependencies) *Server {
	return &Server{
		jobs:       deps.Jobs,
		workflows:  deps.Workflows,
		artifacts:  deps.Artifacts,
		storage:    deps.Storage,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		pinger:     deps.Pinger,
		sockets:    map[*wsClient]struct{}{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API
// endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
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
	})

	// Health check
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		// Job endpoints
		api.GET("/jobs", s.listJobs)
		api.POST("/jobs", s.createJob)
		api.GET("/jobs/:jobID", s.getJob)
		api.POST("/jobs/:jobID/cancel", s.cancelJob)
		api.POST("/jobs/:jobID/approval", s.resolveApproval)

		// Workflow endpoints
		api.GET("/workflows", s.listWorkflows)
		api.POST("/workflows", s.createWorkflow)
		api.GET("/workflows/:workflowID", s.getWorkflow)
		api.PUT("/workflows/:workflowID", s.updateWorkflow)
		api.DELETE("/workflows/:workflowID", s.deleteWorkflow)
		api.POST("/workflows/:workflowID/execute", s.executeWorkflow)

		// Data artifact endpoints
		api.GET("/data", s.listArtifacts)
		api.POST("/data/upload", s.uploadArtifact)
		api.GET("/data/:artifactID/download", s.downloadArtifact)
		api.GET("/data/:artifactID/sample", s.sampleArtifact)
		api.DELETE("/data/:artifactID", s.deleteArtifact)

		// WebSocket job status stream
		api.GET("/ws/jobs/:jobID", s.handleJobSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*wsClient, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
