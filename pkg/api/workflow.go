package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// WorkflowID uniquely identifies a workflow definition
	WorkflowID string

	// StepType tags the executable variant of a step
	StepType string

	// Workflow is an ordered sequence of steps. Once a job references a
	// workflow the definition is treated as immutable; editing produces
	// what is effectively a new version.
	Workflow struct {
		ID          WorkflowID `json:"id"`
		Name        string     `json:"name"`
		Description string     `json:"description,omitempty"`
		Steps       []*Step    `json:"steps"`
		CreatedAt   time.Time  `json:"created_at"`
		UpdatedAt   time.Time  `json:"updated_at"`
	}

	// Step is a tagged variant: exactly one of the typed configuration
	// payloads matches Type. RequireApproval gates progression past the
	// step on an external approve/reject decision.
	Step struct {
		Type            StepType          `json:"type"`
		Loading         *LoadingConfig    `json:"loading,omitempty"`
		Preparing       *PreparingConfig  `json:"preparing,omitempty"`
		Validation      *ValidationConfig `json:"validation,omitempty"`
		Retry           *RetryConfig      `json:"retry,omitempty"`
		RequireApproval bool              `json:"require_approval,omitempty"`
	}

	// LoadingConfig configures a loading step
	LoadingConfig struct {
		Format    string `json:"format,omitempty"`
		Delimiter string `json:"delimiter,omitempty"`
	}

	// PreparingConfig configures a preparing step
	PreparingConfig struct {
		Target string `json:"target,omitempty"`
	}

	// ValidationConfig configures a validation step
	ValidationConfig struct {
		Rules []*ValidationRule `json:"rules,omitempty"`
	}

	// ValidationRule checks a path within the tabular artifact. Path uses
	// JSON path syntax evaluated against the step's input artifact.
	ValidationRule struct {
		Path     string `json:"path"`
		Equals   string `json:"equals,omitempty"`
		Required bool   `json:"required,omitempty"`
	}

	// RetryConfig is the handler-owned retry policy for a step. The
	// engine never retries on its own behalf.
	RetryConfig struct {
		MaxRetries  int    `json:"max_retries,omitempty"`
		BackoffMs   int64  `json:"backoff_ms,omitempty"`
		BackoffType string `json:"backoff_type,omitempty"`
	}
)

const (
	StepTypeLoading    StepType = "loading"
	StepTypePreparing  StepType = "preparing"
	StepTypeValidation StepType = "validation"

	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"

	// TargetCosmoReady is the default preparation target
	TargetCosmoReady = "cosmo-ready"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

var (
	ErrWorkflowIDEmpty    = errors.New("workflow ID empty")
	ErrWorkflowNameEmpty  = errors.New("workflow name empty")
	ErrWorkflowNoSteps    = errors.New("workflow has no steps")
	ErrInvalidStepType    = errors.New("invalid step type")
	ErrConfigMismatch     = errors.New("step config does not match type")
	ErrRulePathEmpty      = errors.New("validation rule path empty")
	ErrNegativeRetries    = errors.New("max_retries cannot be negative")
	ErrNegativeBackoff    = errors.New("backoff_ms cannot be negative")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrInvalidLoadFormat  = errors.New("invalid loading format")
)

var validBackoffTypes = map[string]struct{}{
	BackoffTypeFixed:       {},
	BackoffTypeLinear:      {},
	BackoffTypeExponential: {},
}

// Validate checks the workflow definition and all of its steps
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrWorkflowIDEmpty
	}
	if w.Name == "" {
		return ErrWorkflowNameEmpty
	}
	if len(w.Steps) == 0 {
		return ErrWorkflowNoSteps
	}
	for i, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the step carries the configuration payload its
// type requires and nothing that belongs to another type
func (s *Step) Validate() error {
	switch s.Type {
	case StepTypeLoading:
		if s.Preparing != nil || s.Validation != nil {
			return ErrConfigMismatch
		}
		if err := s.validateLoading(); err != nil {
			return err
		}
	case StepTypePreparing:
		if s.Loading != nil || s.Validation != nil {
			return ErrConfigMismatch
		}
	case StepTypeValidation:
		if s.Loading != nil || s.Preparing != nil {
			return ErrConfigMismatch
		}
		if err := s.validateRules(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStepType, s.Type)
	}
	return s.validateRetry()
}

func (s *Step) validateLoading() error {
	if s.Loading == nil {
		return nil
	}
	switch s.Loading.Format {
	case "", FormatCSV, FormatJSON:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidLoadFormat, s.Loading.Format)
}

func (s *Step) validateRules() error {
	if s.Validation == nil {
		return nil
	}
	for _, rule := range s.Validation.Rules {
		if rule.Path == "" {
			return ErrRulePathEmpty
		}
	}
	return nil
}

func (s *Step) validateRetry() error {
	if s.Retry == nil {
		return nil
	}
	if s.Retry.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if s.Retry.BackoffMs < 0 {
		return ErrNegativeBackoff
	}
	if s.Retry.BackoffType == "" {
		return nil
	}
	if _, ok := validBackoffTypes[s.Retry.BackoffType]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, s.Retry.BackoffType)
	}
	return nil
}
