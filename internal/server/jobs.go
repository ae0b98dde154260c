package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/awlabs/trellis/internal/dispatch"
	"github.com/awlabs/trellis/internal/engine"
	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
)

var (
	ErrListJobs  = errors.New("failed to list jobs")
	ErrCreateJob = errors.New("failed to create job")
)

func (s *Server) listJobs(c *gin.Context) {
	filter := store.JobFilter{
		WorkflowID: api.WorkflowID(c.Query("workflow_id")),
		Status:     api.JobStatus(c.Query("status")),
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		filter.Offset = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		filter.Limit = v
	}

	jobs, err := s.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListJobs, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.JobsListResponse{
		Jobs:  jobs,
		Count: len(jobs),
	})
}

func (s *Server) createJob(c *gin.Context) {
	var req api.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if req.WorkflowID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Workflow ID is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	s.submitJob(c, req.WorkflowID, req.InputDataID)
}

// submitJob persists a queued job and hands it to the dispatcher. The
// workflow and any input artifact are checked up front so a doomed job
// never occupies a queue slot.
func (s *Server) submitJob(
	c *gin.Context, wfID api.WorkflowID, input api.ArtifactID,
) {
	ctx := c.Request.Context()
	if _, err := s.workflows.GetWorkflow(ctx, wfID); err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %s", err.Error(), wfID),
				Status: http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrCreateJob, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	if input != "" {
		if _, err := s.artifacts.GetArtifact(ctx, input); err != nil {
			if errors.Is(err, store.ErrArtifactNotFound) {
				c.JSON(http.StatusNotFound, api.ErrorResponse{
					Error:  fmt.Sprintf("%s: %s", err.Error(), input),
					Status: http.StatusNotFound,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %v", ErrCreateJob, err),
				Status: http.StatusInternalServerError,
			})
			return
		}
	}

	job := api.NewJob(api.JobID(uuid.NewString()), wfID, input)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrCreateJob, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	if err := s.dispatcher.Enqueue(job.ID); err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
				Error:  err.Error(),
				Status: http.StatusServiceUnavailable,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrCreateJob, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (s *Server) getJob(c *gin.Context) {
	jobID := api.JobID(c.Param("jobID"))

	job, err := s.jobs.GetJob(c.Request.Context(), jobID)
	if err == nil {
		c.JSON(http.StatusOK, job)
		return
	}

	if errors.Is(err, store.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), jobID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) cancelJob(c *gin.Context) {
	jobID := api.JobID(c.Param("jobID"))

	job, err := s.engine.Cancel(c.Request.Context(), jobID)
	if err == nil {
		c.JSON(http.StatusOK, job)
		return
	}

	switch {
	case errors.Is(err, store.ErrJobNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), jobID),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrJobTerminal):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), jobID),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}

func (s *Server) resolveApproval(c *gin.Context) {
	jobID := api.JobID(c.Param("jobID"))

	var req api.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.engine.ResolveApproval(jobID, req.Approve); err != nil {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), jobID),
			Status: http.StatusConflict,
		})
		return
	}

	verdict := "rejected"
	if req.Approve {
		verdict = "approved"
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("job %s %s", jobID, verdict),
	})
}
