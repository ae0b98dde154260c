package handler

import (
	"encoding/json"
	"errors"
)

type (
	// Table is the tabular artifact passed between step handlers,
	// serialized as JSON
	Table struct {
		Columns []string            `json:"columns"`
		Rows    []map[string]string `json:"rows"`
		Target  string              `json:"target,omitempty"`
		Source  string              `json:"source,omitempty"`
	}
)

var (
	ErrEmptyInput = errors.New("empty input artifact")
	ErrNotTabular = errors.New("artifact is not a table")
	ErrTableEmpty = errors.New("table has no rows")
	ErrNoColumns  = errors.New("table has no columns")
)

// DecodeTable parses a table artifact produced by an earlier step
func DecodeTable(data []byte) (*Table, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Join(ErrNotTabular, err)
	}
	if len(t.Columns) == 0 {
		return nil, ErrNoColumns
	}
	return &t, nil
}

// Encode serializes the table for storage or the next step
func (t *Table) Encode() ([]byte, error) {
	return json.Marshal(t)
}
