package engine

import (
	"context"
	"errors"
	"time"

	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
	"github.com/awlabs/trellis/pkg/log"
)

var (
	ErrJobTerminal       = errors.New("job already in terminal state")
	ErrNoPendingApproval = errors.New("no pending approval")
)

// Cancel requests cancellation of a job. Queued jobs move straight to
// cancelled without ever starting; running jobs are signalled and stop
// cooperatively at the next step boundary or approval wait. Returns
// the job as last observed.
func (e *Engine) Cancel(ctx context.Context, id api.JobID) (*api.Job, error) {
	job, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case api.JobQueued:
		cancelled := job.SetStatus(api.JobCancelled).
			SetCompletedAt(time.Now()).
			AppendLog("job cancelled before start")
		err := e.persistIf(ctx, cancelled, api.JobQueued)
		if err == nil {
			e.logger.Info("queued job cancelled", log.JobID(id))
			return cancelled, nil
		}
		if !errors.Is(err, store.ErrStatusConflict) {
			return nil, err
		}
		// a worker claimed the job between our read and the write; its
		// cancel channel is already registered, so signal it instead
		if !e.requestCancel(id) {
			return job, ErrJobTerminal
		}
		e.logger.Info("cancellation requested", log.JobID(id))
		return job, nil

	case api.JobRunning:
		if !e.requestCancel(id) {
			// the owning worker finished between our read and the
			// signal; the job is terminal now
			return job, ErrJobTerminal
		}
		e.logger.Info("cancellation requested", log.JobID(id))
		return job, nil

	default:
		return job, ErrJobTerminal
	}
}

// ResolveApproval delivers an approve/reject decision to a job waiting
// at an approval gate
func (e *Engine) ResolveApproval(id api.JobID, approve bool) error {
	e.mu.Lock()
	ch, ok := e.approvals[id]
	if ok {
		delete(e.approvals, id)
	}
	e.mu.Unlock()

	if !ok {
		return ErrNoPendingApproval
	}
	ch <- approve
	return nil
}

// HasPendingApproval reports whether the job is waiting at an approval
// gate
func (e *Engine) HasPendingApproval(id api.JobID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.approvals[id]
	return ok
}

// awaitApproval blocks until the gate is resolved, the approval window
// elapses, or the job is cancelled
func (e *Engine) awaitApproval(
	ctx context.Context, id api.JobID, cancelCh <-chan struct{},
) error {
	ch := make(chan bool, 1)
	e.mu.Lock()
	e.approvals[id] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.approvals, id)
		e.mu.Unlock()
	}()

	e.logger.Info("awaiting approval", log.JobID(id))
	timer := time.NewTimer(e.approvalTimeout)
	defer timer.Stop()

	select {
	case approve := <-ch:
		if !approve {
			return ErrApprovalRejected
		}
		return nil
	case <-cancelCh:
		return errCancelled
	case <-timer.C:
		return ErrApprovalTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrJobTimeout
		}
		return ctx.Err()
	}
}

// registerCancel installs the cooperative cancellation channel for a
// job about to run. Must happen before the running transition is
// visible so a Cancel racing the start still finds the channel.
func (e *Engine) registerCancel(id api.JobID) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan struct{})
	e.cancels[id] = ch
	return ch
}

func (e *Engine) releaseCancel(id api.JobID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}

// requestCancel closes the job's cancellation channel if it is still
// registered. Returns false once the job is no longer running.
func (e *Engine) requestCancel(id api.JobID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.cancels[id]
	if !ok {
		return false
	}
	delete(e.cancels, id)
	close(ch)
	return true
}
