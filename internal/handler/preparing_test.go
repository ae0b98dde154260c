package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/pkg/api"
)

func encodeTable(t *testing.T, table *handler.Table) []byte {
	t.Helper()
	out, err := table.Encode()
	require.NoError(t, err)
	return out
}

func TestPreparingNormalizesColumns(t *testing.T) {
	in := encodeTable(t, &handler.Table{
		Columns: []string{"First Name", "AGE (years)"},
		Rows: []map[string]string{
			{"First Name": "  alice ", "AGE (years)": "30"},
			{"First Name": "bob", "AGE (years)": " 25"},
		},
	})
	step := &api.Step{Type: api.StepTypePreparing}

	h := &handler.PreparingHandler{}
	out, err := h.Execute(context.Background(), in, step)
	require.NoError(t, err)

	table, err := handler.DecodeTable(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "age_years", "_row"}, table.Columns)
	assert.Equal(t, "alice", table.Rows[0]["first_name"])
	assert.Equal(t, "25", table.Rows[1]["age_years"])
	assert.Equal(t, "0", table.Rows[0]["_row"])
	assert.Equal(t, "1", table.Rows[1]["_row"])
	assert.Equal(t, api.TargetCosmoReady, table.Target)
}

func TestPreparingDeduplicatesCollidingColumns(t *testing.T) {
	in := encodeTable(t, &handler.Table{
		Columns: []string{"A!", "A?", "a"},
		Rows: []map[string]string{
			{"A!": "1", "A?": "2", "a": "3"},
		},
	})
	step := &api.Step{Type: api.StepTypePreparing}

	h := &handler.PreparingHandler{}
	out, err := h.Execute(context.Background(), in, step)
	require.NoError(t, err)

	table, err := handler.DecodeTable(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a_2", "a_3", "_row"}, table.Columns)
	assert.Equal(t, "1", table.Rows[0]["a"])
	assert.Equal(t, "2", table.Rows[0]["a_2"])
	assert.Equal(t, "3", table.Rows[0]["a_3"])
}

func TestPreparingCustomTarget(t *testing.T) {
	in := encodeTable(t, &handler.Table{
		Columns: []string{"a"},
		Rows:    []map[string]string{{"a": "1"}},
	})
	step := &api.Step{
		Type:      api.StepTypePreparing,
		Preparing: &api.PreparingConfig{Target: "warehouse"},
	}

	h := &handler.PreparingHandler{}
	out, err := h.Execute(context.Background(), in, step)
	require.NoError(t, err)

	table, err := handler.DecodeTable(out)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", table.Target)
}

func TestPreparingEmptyTable(t *testing.T) {
	in := encodeTable(t, &handler.Table{Columns: []string{"a"}})
	step := &api.Step{Type: api.StepTypePreparing}

	h := &handler.PreparingHandler{}
	_, err := h.Execute(context.Background(), in, step)
	assert.ErrorIs(t, err, handler.ErrTableEmpty)
}
