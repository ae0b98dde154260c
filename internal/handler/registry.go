// Package handler contains the step handler registry and the built-in
// step handlers. Handlers are bound to step types through an injectable
// registry; the execution engine resolves them by type tag and never
// hard-codes step behavior.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/awlabs/trellis/pkg/api"
)

type (
	// Handler is the executable logic bound to a step type. It receives
	// the artifact produced by the previous step (or the job's input
	// for the first step) and the step's typed configuration, and
	// returns the artifact for the next step.
	Handler interface {
		Execute(ctx context.Context, in []byte, step *api.Step) ([]byte, error)
	}

	// HandlerFunc adapts a function to the Handler interface
	HandlerFunc func(context.Context, []byte, *api.Step) ([]byte, error)

	// Registry maps step-type tags to handlers. Extensible without
	// modifying the engine; there is deliberately no global instance.
	Registry struct {
		mu       sync.RWMutex
		handlers map[api.StepType]Handler
	}
)

var (
	ErrUnknownStepType = errors.New("unknown step type")
	ErrHandlerExists   = errors.New("handler already registered")
)

func (f HandlerFunc) Execute(
	ctx context.Context, in []byte, step *api.Step,
) ([]byte, error) {
	return f(ctx, in, step)
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: map[api.StepType]Handler{}}
}

// NewDefaultRegistry creates a registry with the built-in loading,
// preparing, and validation handlers bound
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(api.StepTypeLoading, &LoadingHandler{})
	_ = r.Register(api.StepTypePreparing, &PreparingHandler{})
	_ = r.Register(api.StepTypeValidation, &ValidationHandler{})
	return r
}

// Register binds a handler to a step type
func (r *Registry) Register(t api.StepType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, t)
	}
	r.handlers[t] = h
	return nil
}

// Resolve returns the handler bound to a step type
func (r *Registry) Resolve(t api.StepType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, t)
	}
	return h, nil
}
