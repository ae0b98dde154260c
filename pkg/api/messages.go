package api

type (
	// UpdateType classifies a real-time job update message
	UpdateType string

	// JobUpdate is the JSON message pushed to real-time subscribers on
	// every job state transition
	JobUpdate struct {
		Type         UpdateType `json:"type"`
		JobID        JobID      `json:"job_id"`
		Status       JobStatus  `json:"status"`
		Progress     int        `json:"progress"`
		Error        string     `json:"error,omitempty"`
		ResultDataID ArtifactID `json:"result_data_id,omitempty"`
	}

	// CreateJobRequest contains parameters for submitting a new job
	CreateJobRequest struct {
		WorkflowID  WorkflowID `json:"workflow_id"`
		InputDataID ArtifactID `json:"input_data_id,omitempty"`
	}

	// ExecuteWorkflowRequest starts a workflow against optional input
	ExecuteWorkflowRequest struct {
		InputDataID ArtifactID `json:"input_data_id,omitempty"`
	}

	// ApprovalRequest resolves a pending approval gate
	ApprovalRequest struct {
		Approve bool `json:"approve"`
	}

	// JobsListResponse contains a page of jobs
	JobsListResponse struct {
		Jobs  []*Job `json:"jobs"`
		Count int    `json:"count"`
	}

	// WorkflowsListResponse contains all workflow definitions
	WorkflowsListResponse struct {
		Workflows []*Workflow `json:"workflows"`
		Count     int         `json:"count"`
	}

	// ArtifactsListResponse contains all data artifacts
	ArtifactsListResponse struct {
		Artifacts []*DataArtifact `json:"artifacts"`
		Count     int             `json:"count"`
	}

	// DataSampleResponse contains a preview of a tabular artifact
	DataSampleResponse struct {
		Columns    []string            `json:"columns"`
		Rows       []map[string]string `json:"rows"`
		TotalRows  int                 `json:"total_rows"`
		SampleSize int                 `json:"sample_size"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Status  string `json:"status"`
		Redis   string `json:"redis"`
		Storage string `json:"storage"`
	}
)

const (
	UpdateStatus   UpdateType = "status"
	UpdateComplete UpdateType = "complete"
	UpdateError    UpdateType = "error"
)

// NewJobUpdate builds the real-time message for a job's current state.
// Completed and cancelled jobs map to a "complete" message, failed jobs
// to "error", everything else to an intermediate "status" update.
func NewJobUpdate(job *Job) *JobUpdate {
	u := &JobUpdate{
		Type:         UpdateStatus,
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Error:        job.Error,
		ResultDataID: job.ResultDataID,
	}
	switch job.Status {
	case JobCompleted, JobCancelled:
		u.Type = UpdateComplete
	case JobFailed:
		u.Type = UpdateError
	}
	return u
}

// IsFinal reports whether this is the last message a subscriber will
// receive for the job
func (u *JobUpdate) IsFinal() bool {
	return u.Type != UpdateStatus
}
