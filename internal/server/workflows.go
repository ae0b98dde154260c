package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
)

var (
	ErrListWorkflows = errors.New("failed to list workflows")
)

func (s *Server) listWorkflows(c *gin.Context) {
	workflows, err := s.workflows.ListWorkflows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListWorkflows, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.WorkflowsListResponse{
		Workflows: workflows,
		Count:     len(workflows),
	})
}

func (s *Server) createWorkflow(c *gin.Context) {
	var wf api.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	if wf.ID == "" {
		wf.ID = api.WorkflowID(uuid.NewString())
	}
	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := wf.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.workflows.CreateWorkflow(c.Request.Context(), &wf)
	if err == nil {
		c.JSON(http.StatusCreated, &wf)
		return
	}

	if errors.Is(err, store.ErrWorkflowExists) {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), wf.ID),
			Status: http.StatusConflict,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	wfID := api.WorkflowID(c.Param("workflowID"))

	wf, err := s.workflows.GetWorkflow(c.Request.Context(), wfID)
	if err == nil {
		c.JSON(http.StatusOK, wf)
		return
	}

	if errors.Is(err, store.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), wfID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) updateWorkflow(c *gin.Context) {
	wfID := api.WorkflowID(c.Param("workflowID"))

	var wf api.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	existing, err := s.workflows.GetWorkflow(c.Request.Context(), wfID)
	if err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %s", err.Error(), wfID),
				Status: http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	wf.ID = wfID
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now()

	if err := wf.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	if err := s.workflows.UpdateWorkflow(c.Request.Context(), &wf); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, &wf)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	wfID := api.WorkflowID(c.Param("workflowID"))

	err := s.workflows.DeleteWorkflow(c.Request.Context(), wfID)
	if err == nil {
		c.JSON(http.StatusOK, api.MessageResponse{
			Message: fmt.Sprintf("workflow %s deleted", wfID),
		})
		return
	}

	if errors.Is(err, store.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), wfID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) executeWorkflow(c *gin.Context) {
	wfID := api.WorkflowID(c.Param("workflowID"))

	var req api.ExecuteWorkflowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
				Status: http.StatusBadRequest,
			})
			return
		}
	}

	s.submitJob(c, wfID, req.InputDataID)
}
