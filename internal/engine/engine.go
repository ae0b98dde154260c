// Package engine executes jobs. Each job is driven by a single
// goroutine that owns all writes to its record: it walks the workflow's
// steps in order, persists every transition through the job store, and
// publishes the matching update to the status hub immediately after the
// write, so subscribers observe transitions in commit order.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/awlabs/trellis/internal/config"
	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/internal/status"
	"github.com/awlabs/trellis/internal/storage"
	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
	"github.com/awlabs/trellis/pkg/log"
	"github.com/google/uuid"
)

type (
	// Dependencies are the collaborators an Engine needs. All fields
	// are required except Logger, which defaults to slog's default.
	Dependencies struct {
		Jobs      store.JobStore
		Workflows store.WorkflowStore
		Artifacts store.ArtifactStore
		Storage   storage.Mapping
		Registry  *handler.Registry
		Hub       *status.Hub
		Config    *config.Config
		Logger    *slog.Logger
	}

	// Engine runs jobs to a terminal state. Safe for concurrent Run
	// calls on distinct jobs; a second Run on the same job is a no-op
	// because only queued jobs are picked up.
	Engine struct {
		jobs      store.JobStore
		workflows store.WorkflowStore
		artifacts store.ArtifactStore
		storage   storage.Mapping
		registry  *handler.Registry
		hub       *status.Hub
		logger    *slog.Logger

		jobTimeout      time.Duration
		stepTimeout     time.Duration
		approvalTimeout time.Duration

		mu        sync.Mutex
		cancels   map[api.JobID]chan struct{}
		approvals map[api.JobID]chan bool
	}
)

var (
	ErrStepTimeout      = errors.New("step deadline exceeded")
	ErrJobTimeout       = errors.New("job deadline exceeded")
	ErrApprovalTimeout  = errors.New("approval window elapsed")
	ErrApprovalRejected = errors.New("approval rejected")

	// errCancelled marks a cooperative cancellation observed between
	// steps or inside an approval wait
	errCancelled = errors.New("cancelled by request")
)

// New creates an Engine from its dependencies
func New(deps *Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		jobs:            deps.Jobs,
		workflows:       deps.Workflows,
		artifacts:       deps.Artifacts,
		storage:         deps.Storage,
		registry:        deps.Registry,
		hub:             deps.Hub,
		logger:          logger,
		jobTimeout:      deps.Config.JobTimeout,
		stepTimeout:     deps.Config.StepTimeout,
		approvalTimeout: deps.Config.ApprovalTimeout,
		cancels:         map[api.JobID]chan struct{}{},
		approvals:       map[api.JobID]chan bool{},
	}
}

// Run executes the job to a terminal state. Job-level failures (bad
// workflow, handler errors, timeouts, rejection) are recorded on the
// job itself and return nil; only infrastructure failures that prevent
// recording an outcome are returned to the caller.
func (e *Engine) Run(ctx context.Context, id api.JobID) error {
	job, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != api.JobQueued {
		e.logger.Debug("skipping job not in queued state",
			log.JobID(id), log.Status(job.Status))
		return nil
	}

	cancelCh := e.registerCancel(id)
	defer e.releaseCancel(id)

	// claim the job with a guarded write: a Cancel racing this point
	// either wins the row (we walk away) or loses and falls back to the
	// cancel channel registered above
	job = job.SetStatus(api.JobRunning).
		SetStartedAt(time.Now()).
		AppendLog("job started")
	if err := e.persistIf(ctx, job, api.JobQueued); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			e.logger.Debug("job no longer queued, skipping", log.JobID(id))
			return nil
		}
		return err
	}
	e.logger.Info("job started",
		log.JobID(id), log.WorkflowID(job.WorkflowID))

	ctx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	job, out, runErr := e.execute(ctx, job, cancelCh)
	switch {
	case runErr == nil:
		return e.complete(ctx, job, out)
	case errors.Is(runErr, errCancelled):
		return e.finish(ctx, job, api.JobCancelled, runErr)
	default:
		return e.finish(ctx, job, api.JobFailed, runErr)
	}
}

// execute walks the workflow steps, threading each step's output into
// the next. It returns the job as last persisted or logged, the final
// artifact bytes, and the error that should decide the terminal state.
func (e *Engine) execute(
	ctx context.Context, job *api.Job, cancelCh <-chan struct{},
) (*api.Job, []byte, error) {
	wf, err := e.workflows.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		return job, nil, err
	}
	if len(wf.Steps) == 0 {
		return job, nil, api.ErrWorkflowNoSteps
	}

	// resolve every handler up front so an unknown step type fails the
	// job before any step has run
	handlers := make([]handler.Handler, len(wf.Steps))
	for i, step := range wf.Steps {
		h, err := e.registry.Resolve(step.Type)
		if err != nil {
			return job, nil, err
		}
		handlers[i] = h
	}

	data, err := e.loadInput(ctx, job)
	if err != nil {
		return job, nil, err
	}

	total := len(wf.Steps)
	for i, step := range wf.Steps {
		if cancelRequested(cancelCh) {
			return job, nil, errCancelled
		}

		data, err = e.runStep(ctx, handlers[i], data, step)
		if err != nil {
			return job, nil,
				fmt.Errorf("step %d (%s): %w", i+1, step.Type, err)
		}

		if step.RequireApproval {
			if err := e.awaitApproval(ctx, job.ID, cancelCh); err != nil {
				return job, nil, err
			}
		}

		job = job.AppendLog(
			fmt.Sprintf("step %d/%d (%s) completed", i+1, total, step.Type))
		if i+1 < total {
			job = job.SetProgress(api.StepProgress(i+1, total))
			if err := e.persist(ctx, job); err != nil {
				return job, nil, err
			}
		}
	}
	return job, data, nil
}

// runStep executes one handler under the per-step deadline
func (e *Engine) runStep(
	ctx context.Context, h handler.Handler, in []byte, step *api.Step,
) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	out, err := h.Execute(stepCtx, in, step)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil, ErrJobTimeout
		}
		return nil, ErrStepTimeout
	}
	return nil, err
}

// loadInput fetches the job's input artifact bytes, or nil when the
// job has no input
func (e *Engine) loadInput(
	ctx context.Context, job *api.Job,
) ([]byte, error) {
	if job.InputDataID == "" {
		return nil, nil
	}
	a, err := e.artifacts.GetArtifact(ctx, job.InputDataID)
	if err != nil {
		return nil, err
	}
	data, err := e.storage.Load(ctx, a.Key)
	if err != nil {
		return nil, fmt.Errorf("loading input %s: %w", a.ID, err)
	}
	return data, nil
}

// complete stores the final artifact and moves the job to completed
func (e *Engine) complete(
	ctx context.Context, job *api.Job, out []byte,
) error {
	artifact, err := e.saveResult(ctx, job.ID, out)
	if err != nil {
		// the work is done but the outcome cannot be recorded as a
		// success without its result
		return e.finish(ctx, job, api.JobFailed,
			fmt.Errorf("storing result: %w", err))
	}

	job = job.SetResultDataID(artifact.ID)
	if err := e.finish(ctx, job, api.JobCompleted, nil); err != nil {
		return err
	}
	e.logger.Info("job completed",
		log.JobID(job.ID), log.ArtifactID(artifact.ID))
	return nil
}

// saveResult persists the job's result artifact and its record
func (e *Engine) saveResult(
	ctx context.Context, id api.JobID, out []byte,
) (*api.DataArtifact, error) {
	name := fmt.Sprintf("result_%s.json", id)
	key := path.Join("results", uuid.NewString(), name)
	if _, err := e.storage.Save(ctx, key, bytes.NewReader(out)); err != nil {
		return nil, err
	}

	artifact := &api.DataArtifact{
		ID:          api.ArtifactID(uuid.NewString()),
		Filename:    name,
		Key:         key,
		SizeBytes:   int64(len(out)),
		ContentType: "application/json",
		CreatedAt:   time.Now(),
	}
	if err := e.artifacts.CreateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// finish records the job's terminal state and publishes the closing
// update. Uses a background context so outcomes are still recorded
// when the job deadline has expired.
func (e *Engine) finish(
	ctx context.Context, job *api.Job, s api.JobStatus, cause error,
) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	job = job.SetStatus(s).SetCompletedAt(time.Now())
	switch s {
	case api.JobCompleted:
		job = job.SetProgress(100).AppendLog("job completed")
	case api.JobCancelled:
		job = job.AppendLog("job cancelled")
	default:
		job = job.SetError(cause.Error()).
			AppendLog("job failed: " + cause.Error())
		e.logger.Warn("job failed", log.JobID(job.ID), log.Error(cause))
	}
	return e.persist(ctx, job)
}

// persist writes the job and then publishes the corresponding update.
// Publish must follow the write so a subscriber can always read back at
// least the state it was notified about.
func (e *Engine) persist(ctx context.Context, job *api.Job) error {
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}
	e.hub.Publish(job.ID, api.NewJobUpdate(job))
	return nil
}

// persistIf writes the job only while the stored status is still from,
// publishing on success. Nothing is published for a lost race.
func (e *Engine) persistIf(
	ctx context.Context, job *api.Job, from api.JobStatus,
) error {
	if err := e.jobs.UpdateJobIf(ctx, job, from); err != nil {
		return err
	}
	e.hub.Publish(job.ID, api.NewJobUpdate(job))
	return nil
}

func cancelRequested(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
