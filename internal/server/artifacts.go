package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
)

const (
	defaultSampleSize = 10
	maxSampleSize     = 100
)

var (
	ErrListArtifacts  = errors.New("failed to list artifacts")
	ErrUploadArtifact = errors.New("failed to upload artifact")
	ErrDeleteArtifact = errors.New("failed to delete artifact")
)

func (s *Server) listArtifacts(c *gin.Context) {
	artifacts, err := s.artifacts.ListArtifacts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListArtifacts, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.ArtifactsListResponse{
		Artifacts: artifacts,
		Count:     len(artifacts),
	})
}

func (s *Server) uploadArtifact(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "multipart field \"file\" is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrUploadArtifact, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	defer func() { _ = f.Close() }()

	ctx := c.Request.Context()
	name := path.Base(fh.Filename)
	key := path.Join("uploads", uuid.NewString(), name)
	if _, err := s.storage.Save(ctx, key, f); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrUploadArtifact, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	artifact := &api.DataArtifact{
		ID:          api.ArtifactID(uuid.NewString()),
		Filename:    name,
		Key:         key,
		SizeBytes:   fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		CreatedAt:   time.Now(),
	}
	if err := s.artifacts.CreateArtifact(ctx, artifact); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrUploadArtifact, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, artifact)
}

func (s *Server) downloadArtifact(c *gin.Context) {
	artifact, ok := s.artifactByID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	r, err := s.storage.NewReader(ctx, artifact.Key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	defer func() { _ = r.Close() }()

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, artifact.SizeBytes, contentType, r,
		map[string]string{
			"Content-Disposition": fmt.Sprintf(
				"attachment; filename=%q", artifact.Filename),
		})
}

func (s *Server) sampleArtifact(c *gin.Context) {
	artifact, ok := s.artifactByID(c)
	if !ok {
		return
	}

	size := defaultSampleSize
	if v, err := strconv.Atoi(c.Query("size")); err == nil && v > 0 {
		size = min(v, maxSampleSize)
	}

	data, err := s.storage.Load(c.Request.Context(), artifact.Key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	// step results arrive in table form; raw uploads are CSV
	t, err := handler.DecodeTable(data)
	if err != nil {
		t, err = handler.ParseCSV(data)
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, api.ErrorResponse{
			Error:  fmt.Sprintf("artifact is not sampleable: %v", err),
			Status: http.StatusUnprocessableEntity,
		})
		return
	}

	rows := t.Rows
	if len(rows) > size {
		rows = rows[:size]
	}
	c.JSON(http.StatusOK, api.DataSampleResponse{
		Columns:    t.Columns,
		Rows:       rows,
		TotalRows:  len(t.Rows),
		SampleSize: len(rows),
	})
}

func (s *Server) deleteArtifact(c *gin.Context) {
	artifact, ok := s.artifactByID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.storage.Delete(ctx, artifact.Key); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrDeleteArtifact, err),
			Status: http.StatusInternalServerError,
		})
		return
	}
	if err := s.artifacts.DeleteArtifact(ctx, artifact.ID); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrDeleteArtifact, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("artifact %s deleted", artifact.ID),
	})
}

// artifactByID resolves the :artifactID path parameter, writing the
// error response itself when the record cannot be fetched
func (s *Server) artifactByID(c *gin.Context) (*api.DataArtifact, bool) {
	id := api.ArtifactID(c.Param("artifactID"))

	artifact, err := s.artifacts.GetArtifact(c.Request.Context(), id)
	if err == nil {
		return artifact, true
	}

	if errors.Is(err, store.ErrArtifactNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
		return nil, false
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
	return nil, false
}
