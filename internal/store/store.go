// Package store persists job, workflow, and artifact records. The
// execution engine consumes the narrow interfaces; the HTTP layer owns
// everything else about the schema.
package store

import (
	"context"
	"errors"

	"github.com/awlabs/trellis/pkg/api"
)

type (
	// JobStore is the durable record of each job's lifecycle. Updates
	// are row-level; only the owning worker writes a running job.
	// Lifecycle edges contended by more than one writer (claiming a
	// queued job, cancelling one) go through UpdateJobIf so exactly one
	// writer wins.
	JobStore interface {
		CreateJob(ctx context.Context, job *api.Job) error
		GetJob(ctx context.Context, id api.JobID) (*api.Job, error)
		UpdateJob(ctx context.Context, job *api.Job) error

		// UpdateJobIf writes job only while the stored record still has
		// status from, returning ErrStatusConflict once another writer
		// moved it
		UpdateJobIf(ctx context.Context, job *api.Job, from api.JobStatus) error

		ListJobs(ctx context.Context, filter JobFilter) ([]*api.Job, error)
	}

	// WorkflowStore persists workflow definitions
	WorkflowStore interface {
		CreateWorkflow(ctx context.Context, wf *api.Workflow) error
		GetWorkflow(ctx context.Context, id api.WorkflowID) (*api.Workflow, error)
		UpdateWorkflow(ctx context.Context, wf *api.Workflow) error
		DeleteWorkflow(ctx context.Context, id api.WorkflowID) error
		ListWorkflows(ctx context.Context) ([]*api.Workflow, error)
	}

	// ArtifactStore persists data artifact records
	ArtifactStore interface {
		CreateArtifact(ctx context.Context, a *api.DataArtifact) error
		GetArtifact(ctx context.Context, id api.ArtifactID) (*api.DataArtifact, error)
		DeleteArtifact(ctx context.Context, id api.ArtifactID) error
		ListArtifacts(ctx context.Context) ([]*api.DataArtifact, error)
	}

	// JobFilter narrows and pages a job listing. Zero values mean no
	// filtering; Limit of zero means DefaultListLimit.
	JobFilter struct {
		WorkflowID api.WorkflowID
		Status     api.JobStatus
		Offset     int
		Limit      int
	}
)

// DefaultListLimit caps unbounded job listings
const DefaultListLimit = 100

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job exists")
	ErrStatusConflict   = errors.New("job status changed concurrently")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowExists   = errors.New("workflow exists")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExists   = errors.New("artifact exists")
)
