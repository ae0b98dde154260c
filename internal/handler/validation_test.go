package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/pkg/api"
)

func preparedTable(t *testing.T) []byte {
	t.Helper()
	return encodeTable(t, &handler.Table{
		Columns: []string{"name", "amount", "_row"},
		Rows: []map[string]string{
			{"name": "alice", "amount": "100", "_row": "0"},
			{"name": "bob", "amount": "200", "_row": "1"},
		},
		Target: api.TargetCosmoReady,
	})
}

func TestValidationPasses(t *testing.T) {
	step := &api.Step{
		Type: api.StepTypeValidation,
		Validation: &api.ValidationConfig{
			Rules: []*api.ValidationRule{
				{Path: "target", Equals: api.TargetCosmoReady},
				{Path: "rows.0.name", Required: true},
				{Path: "rows.#", Equals: "2"},
			},
		},
	}

	in := preparedTable(t)
	h := &handler.ValidationHandler{}
	out, err := h.Execute(context.Background(), in, step)
	require.NoError(t, err)
	assert.Equal(t, in, out, "validation passes the artifact through")
}

func TestValidationNoRules(t *testing.T) {
	step := &api.Step{Type: api.StepTypeValidation}

	h := &handler.ValidationHandler{}
	_, err := h.Execute(context.Background(), preparedTable(t), step)
	assert.NoError(t, err)
}

func TestValidationFailures(t *testing.T) {
	h := &handler.ValidationHandler{}
	ctx := context.Background()

	tests := []struct {
		name string
		rule *api.ValidationRule
		want error
	}{
		{
			name: "required_path_missing",
			rule: &api.ValidationRule{Path: "rows.0.email", Required: true},
			want: handler.ErrRuleMissing,
		},
		{
			name: "value_mismatch",
			rule: &api.ValidationRule{Path: "rows.0.amount", Equals: "999"},
			want: handler.ErrRuleMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &api.Step{
				Type: api.StepTypeValidation,
				Validation: &api.ValidationConfig{
					Rules: []*api.ValidationRule{tt.rule},
				},
			}
			_, err := h.Execute(ctx, preparedTable(t), step)
			assert.ErrorIs(t, err, handler.ErrValidationFailed)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidationOptionalMissingPath(t *testing.T) {
	step := &api.Step{
		Type: api.StepTypeValidation,
		Validation: &api.ValidationConfig{
			Rules: []*api.ValidationRule{
				{Path: "rows.0.email", Equals: "x"},
			},
		},
	}

	h := &handler.ValidationHandler{}
	_, err := h.Execute(context.Background(), preparedTable(t), step)
	assert.NoError(t, err, "equals rule skips absent optional paths")
}

func TestValidationEmptyTable(t *testing.T) {
	in := encodeTable(t, &handler.Table{Columns: []string{"a"}})
	step := &api.Step{Type: api.StepTypeValidation}

	h := &handler.ValidationHandler{}
	_, err := h.Execute(context.Background(), in, step)
	assert.ErrorIs(t, err, handler.ErrValidationFailed)
	assert.ErrorIs(t, err, handler.ErrTableEmpty)
}
