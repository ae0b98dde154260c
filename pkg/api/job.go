package api

import (
	"math"
	"slices"
	"time"
)

type (
	// JobID uniquely identifies a job
	JobID string

	// JobStatus represents the current state of a job's lifecycle
	JobStatus string

	// Job is one execution instance of a Workflow against optional input
	// data. While running, a job is owned exclusively by the execution
	// engine; everyone else reads it through the job store.
	Job struct {
		ID           JobID      `json:"id"`
		WorkflowID   WorkflowID `json:"workflow_id"`
		Status       JobStatus  `json:"status"`
		Progress     int        `json:"progress"`
		InputDataID  ArtifactID `json:"input_data_id,omitempty"`
		ResultDataID ArtifactID `json:"result_data_id,omitempty"`
		Error        string     `json:"error,omitempty"`
		Logs         []string   `json:"logs,omitempty"`
		CreatedAt    time.Time  `json:"created_at"`
		StartedAt    time.Time  `json:"started_at,omitempty"`
		CompletedAt  time.Time  `json:"completed_at,omitempty"`
	}
)

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// transitions is the directed lifecycle graph. Terminal states have no
// outgoing edges; no job ever revisits a prior state.
var transitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobCancelled},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// NewJob creates a queued job for the given workflow and optional input
// artifact
func NewJob(id JobID, wf WorkflowID, input ArtifactID) *Job {
	return &Job{
		ID:          id,
		WorkflowID:  wf,
		Status:      JobQueued,
		InputDataID: input,
		CreatedAt:   time.Now(),
	}
}

// IsTerminal returns true once no further transitions can occur
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether moving from s to next is a valid edge in
// the lifecycle graph
func (s JobStatus) CanTransition(next JobStatus) bool {
	return slices.Contains(transitions[s], next)
}

// SetStatus returns a new Job with the updated status
func (j *Job) SetStatus(s JobStatus) *Job {
	res := *j
	res.Status = s
	return &res
}

// SetProgress returns a new Job with the progress percentage set
func (j *Job) SetProgress(p int) *Job {
	res := *j
	res.Progress = p
	return &res
}

// SetStartedAt returns a new Job with the start timestamp set
func (j *Job) SetStartedAt(t time.Time) *Job {
	res := *j
	res.StartedAt = t
	return &res
}

// SetCompletedAt returns a new Job with the completion timestamp set
func (j *Job) SetCompletedAt(t time.Time) *Job {
	res := *j
	res.CompletedAt = t
	return &res
}

// SetError returns a new Job with the error message set
func (j *Job) SetError(msg string) *Job {
	res := *j
	res.Error = msg
	return &res
}

// SetResultDataID returns a new Job with the result artifact reference set
func (j *Job) SetResultDataID(id ArtifactID) *Job {
	res := *j
	res.ResultDataID = id
	return &res
}

// AppendLog returns a new Job with a log line appended
func (j *Job) AppendLog(line string) *Job {
	res := *j
	res.Logs = append(slices.Clone(j.Logs), line)
	return &res
}

// StepProgress computes the progress percentage after completing step
// done of total steps
func StepProgress(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}
