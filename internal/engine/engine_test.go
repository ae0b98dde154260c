package engine_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awlabs/trellis/internal/config"
	"github.com/awlabs/trellis/internal/engine"
	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/internal/status"
	"github.com/awlabs/trellis/internal/storage"
	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
)

type fixture struct {
	store   *store.RedisStore
	storage storage.Mapping
	hub     *status.Hub
	engine  *engine.Engine
	cfg     *config.Config
}

func newFixture(t *testing.T, registry *handler.Registry) *fixture {
	t.Helper()

	redis, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(redis.Close)

	cfg := config.NewDefaultConfig()
	cfg.Redis.Addr = redis.Addr()
	cfg.Storage.Backend = config.BackendMemory
	cfg.JobTimeout = 10 * time.Second
	cfg.StepTimeout = 5 * time.Second
	cfg.ApprovalTimeout = 5 * time.Second

	s := store.NewRedisStore(&cfg.Redis)
	t.Cleanup(func() { _ = s.Close() })

	m, err := storage.Open(context.Background(), &cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	if registry == nil {
		registry = handler.NewDefaultRegistry()
	}

	hub := status.NewHub()
	eng := engine.New(&engine.Dependencies{
		Jobs:      s,
		Workflows: s,
		Artifacts: s,
		Storage:   m,
		Registry:  registry,
		Hub:       hub,
		Config:    cfg,
	})

	return &fixture{
		store:   s,
		storage: m,
		hub:     hub,
		engine:  eng,
		cfg:     cfg,
	}
}

func (f *fixture) seedWorkflow(t *testing.T, steps ...*api.Step) api.WorkflowID {
	t.Helper()
	wf := &api.Workflow{
		ID:        api.WorkflowID("wf-" + t.Name()),
		Name:      t.Name(),
		Steps:     steps,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))
	return wf.ID
}

func (f *fixture) seedInput(t *testing.T, content string) api.ArtifactID {
	t.Helper()
	ctx := context.Background()
	key := "uploads/test/input.csv"
	_, err := f.storage.Save(ctx, key, strings.NewReader(content))
	require.NoError(t, err)

	a := &api.DataArtifact{
		ID:        api.ArtifactID("data-" + t.Name()),
		Filename:  "input.csv",
		Key:       key,
		SizeBytes: int64(len(content)),
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateArtifact(ctx, a))
	return a.ID
}

func (f *fixture) seedJob(
	t *testing.T, wf api.WorkflowID, input api.ArtifactID,
) api.JobID {
	t.Helper()
	job := api.NewJob(api.JobID("job-"+t.Name()), wf, input)
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job.ID
}

func (f *fixture) getJob(t *testing.T, id api.JobID) *api.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

const sampleCSV = "name,amount\nalice,100\nbob,200\n"

func twoStepWorkflow(t *testing.T, f *fixture) api.WorkflowID {
	return f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading},
		&api.Step{Type: api.StepTypePreparing},
	)
}

func TestRunCompletes(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	updates, unsub := f.hub.Subscribe(jobID)
	defer unsub()

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.ResultDataID)
	assert.Empty(t, job.Error)
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.CompletedAt.IsZero())

	// running at 0, halfway at 50, final completion carries 100
	u := <-updates
	assert.Equal(t, api.JobRunning, u.Status)
	assert.Equal(t, 0, u.Progress)

	u = <-updates
	assert.Equal(t, api.JobRunning, u.Status)
	assert.Equal(t, 50, u.Progress)

	u = <-updates
	assert.Equal(t, api.UpdateComplete, u.Type)
	assert.Equal(t, 100, u.Progress)
	assert.Equal(t, job.ResultDataID, u.ResultDataID)

	_, ok := <-updates
	assert.False(t, ok)
}

func TestRunStoresResultArtifact(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	ctx := context.Background()
	job := f.getJob(t, jobID)
	artifact, err := f.store.GetArtifact(ctx, job.ResultDataID)
	require.NoError(t, err)

	data, err := f.storage.Load(ctx, artifact.Key)
	require.NoError(t, err)

	table, err := handler.DecodeTable(data)
	require.NoError(t, err)
	assert.Contains(t, table.Columns, "_row")
	assert.Len(t, table.Rows, 2)
	assert.Equal(t, api.TargetCosmoReady, table.Target)
}

func TestRunFailsMidway(t *testing.T) {
	f := newFixture(t, nil)
	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading},
		&api.Step{
			Type: api.StepTypeValidation,
			Validation: &api.ValidationConfig{
				Rules: []*api.ValidationRule{
					{Path: "rows.#", Equals: "999"},
				},
			},
		},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Equal(t, 50, job.Progress, "progress stays where it was")
	assert.Empty(t, job.ResultDataID)
	assert.Contains(t, job.Error, "step 2")
	assert.False(t, job.CompletedAt.IsZero())
}

func TestRunUnknownStepTypeFailsBeforeExecution(t *testing.T) {
	f := newFixture(t, nil)
	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading},
		&api.Step{Type: "teleporting"},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Zero(t, job.Progress, "no step ran")
	assert.Contains(t, job.Error, "unknown step type")
}

func TestRunMissingWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.seedJob(t, "wf-missing", "")

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Contains(t, job.Error, "workflow not found")
}

func TestRunTerminalJobIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	ctx := context.Background()
	require.NoError(t, f.engine.Run(ctx, jobID))
	first := f.getJob(t, jobID)

	require.NoError(t, f.engine.Run(ctx, jobID))
	second := f.getJob(t, jobID)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.Equal(t, first.ResultDataID, second.ResultDataID)
}

// claimGate interposes on the queued→running claim so a test can act
// inside the window between the engine's status check and its write
type claimGate struct {
	store.JobStore
	before func()
	once   sync.Once
}

func (g *claimGate) UpdateJobIf(
	ctx context.Context, job *api.Job, from api.JobStatus,
) error {
	if from == api.JobQueued && job.Status == api.JobRunning {
		g.once.Do(g.before)
	}
	return g.JobStore.UpdateJobIf(ctx, job, from)
}

func TestCancelDuringClaimWindow(t *testing.T) {
	f := newFixture(t, nil)
	gate := &claimGate{JobStore: f.store}
	eng := engine.New(&engine.Dependencies{
		Jobs:      gate,
		Workflows: f.store,
		Artifacts: f.store,
		Storage:   f.storage,
		Registry:  handler.NewDefaultRegistry(),
		Hub:       f.hub,
		Config:    f.cfg,
	})

	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	// cancel lands after Run has read the job as queued but before the
	// running transition is written
	gate.before = func() {
		job, err := eng.Cancel(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, api.JobCancelled, job.Status)
	}

	require.NoError(t, eng.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobCancelled, job.Status, "cancel is never overwritten")
	assert.True(t, job.StartedAt.IsZero(), "no execution ever starts")
	assert.Empty(t, job.ResultDataID)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, "")

	job, err := f.engine.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, api.JobCancelled, job.Status)
	assert.True(t, job.StartedAt.IsZero(), "never started")
	assert.False(t, job.CompletedAt.IsZero())
}

func TestCancelTerminalJob(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	ctx := context.Background()
	require.NoError(t, f.engine.Run(ctx, jobID))

	_, err := f.engine.Cancel(ctx, jobID)
	assert.ErrorIs(t, err, engine.ErrJobTerminal)
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t, nil)
	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading, RequireApproval: true},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(context.Background(), jobID)
	}()

	require.Eventually(t, func() bool {
		return f.engine.HasPendingApproval(jobID)
	}, 5*time.Second, 10*time.Millisecond)

	_, err := f.engine.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	require.NoError(t, <-done)

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobCancelled, job.Status)
	assert.Empty(t, job.ResultDataID)
}

func TestApprovalApproved(t *testing.T) {
	f := newFixture(t, nil)
	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading, RequireApproval: true},
		&api.Step{Type: api.StepTypePreparing},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(context.Background(), jobID)
	}()

	require.Eventually(t, func() bool {
		return f.engine.HasPendingApproval(jobID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.engine.ResolveApproval(jobID, true))
	require.NoError(t, <-done)

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobCompleted, job.Status)
	assert.NotEmpty(t, job.ResultDataID)
}

func TestApprovalRejected(t *testing.T) {
	f := newFixture(t, nil)
	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading, RequireApproval: true},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(context.Background(), jobID)
	}()

	require.Eventually(t, func() bool {
		return f.engine.HasPendingApproval(jobID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.engine.ResolveApproval(jobID, false))
	require.NoError(t, <-done)

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Contains(t, job.Error, "approval rejected")
}

func TestApprovalTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.ApprovalTimeout = 50 * time.Millisecond
	f.engine = engine.New(&engine.Dependencies{
		Jobs:      f.store,
		Workflows: f.store,
		Artifacts: f.store,
		Storage:   f.storage,
		Registry:  handler.NewDefaultRegistry(),
		Hub:       f.hub,
		Config:    f.cfg,
	})

	wfID := f.seedWorkflow(t,
		&api.Step{Type: api.StepTypeLoading, RequireApproval: true},
	)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Contains(t, job.Error, "approval window elapsed")
}

func TestResolveApprovalWithoutGate(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.ResolveApproval("job-none", true)
	assert.ErrorIs(t, err, engine.ErrNoPendingApproval)
}

func TestStepTimeout(t *testing.T) {
	registry := handler.NewRegistry()
	require.NoError(t, registry.Register("stall",
		handler.HandlerFunc(func(
			ctx context.Context, _ []byte, _ *api.Step,
		) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})))

	f := newFixture(t, registry)
	f.cfg.StepTimeout = 50 * time.Millisecond
	f.engine = engine.New(&engine.Dependencies{
		Jobs:      f.store,
		Workflows: f.store,
		Artifacts: f.store,
		Storage:   f.storage,
		Registry:  registry,
		Hub:       f.hub,
		Config:    f.cfg,
	})

	wfID := f.seedWorkflow(t, &api.Step{Type: "stall"})
	jobID := f.seedJob(t, wfID, "")

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Contains(t, job.Error, "step deadline exceeded")
}

func TestLateSubscriberSeesOutcome(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, f.seedInput(t, sampleCSV))

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	updates, unsub := f.hub.Subscribe(jobID)
	defer unsub()

	u, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, api.UpdateComplete, u.Type)
	assert.Equal(t, 100, u.Progress)

	_, ok = <-updates
	assert.False(t, ok)
}

func TestRunMissingInputArtifact(t *testing.T) {
	f := newFixture(t, nil)
	wfID := twoStepWorkflow(t, f)
	jobID := f.seedJob(t, wfID, "data-missing")

	require.NoError(t, f.engine.Run(context.Background(), jobID))

	job := f.getJob(t, jobID)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Contains(t, job.Error, "artifact not found")
}
