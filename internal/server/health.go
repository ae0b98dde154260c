package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	trellis "github.com/awlabs/trellis"
	"github.com/awlabs/trellis/pkg/api"
)

const (
	statusOK       = "ok"
	statusError    = "error"
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	redisStatus := statusOK
	if err := s.pinger.Ping(ctx); err != nil {
		redisStatus = statusError
	}

	storageStatus := statusOK
	if _, err := s.storage.Exists(ctx, ".health"); err != nil {
		storageStatus = statusError
	}

	overall := statusHealthy
	code := http.StatusOK
	if redisStatus != statusOK || storageStatus != statusOK {
		overall = statusDegraded
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, api.HealthResponse{
		Service: trellis.Name,
		Status:  overall,
		Redis:   redisStatus,
		Storage: storageStatus,
	})
}
