package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/awlabs/trellis/pkg/api"
)

// LoadingHandler parses a raw input artifact into the tabular form the
// downstream steps operate on. CSV is the default format; JSON inputs
// are accepted when they already carry a table shape.
type LoadingHandler struct{}

var (
	ErrNoHeader     = errors.New("input has no header row")
	ErrRaggedRow    = errors.New("row width does not match header")
	ErrBadDelimiter = errors.New("delimiter must be a single character")
)

var _ Handler = (*LoadingHandler)(nil)

func (h *LoadingHandler) Execute(
	ctx context.Context, in []byte, step *api.Step,
) ([]byte, error) {
	return withRetry(ctx, step.Retry, func() ([]byte, error) {
		return h.load(in, step.Loading)
	})
}

func (h *LoadingHandler) load(
	in []byte, cfg *api.LoadingConfig,
) ([]byte, error) {
	if len(in) == 0 {
		return nil, ErrEmptyInput
	}

	format := api.FormatCSV
	if cfg != nil && cfg.Format != "" {
		format = cfg.Format
	}

	if format == api.FormatJSON {
		t, err := DecodeTable(in)
		if err != nil {
			return nil, err
		}
		return t.Encode()
	}

	t, err := parseCSV(in, cfg)
	if err != nil {
		return nil, err
	}
	return t.Encode()
}

// ParseCSV parses raw CSV bytes into a table with default options. It
// backs previewing of uploaded artifacts that have not been through a
// loading step yet.
func ParseCSV(in []byte) (*Table, error) {
	if len(in) == 0 {
		return nil, ErrEmptyInput
	}
	return parseCSV(in, nil)
}

func parseCSV(in []byte, cfg *api.LoadingConfig) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(in))
	// width is checked against the header below so the error can name
	// the offending row
	r.FieldsPerRecord = -1
	if cfg != nil && cfg.Delimiter != "" {
		runes := []rune(cfg.Delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("%w: %q", ErrBadDelimiter, cfg.Delimiter)
		}
		r.Comma = runes[0]
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(columns) {
			return nil, fmt.Errorf("%w: row %d", ErrRaggedRow, len(rows)+1)
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = record[i]
		}
		rows = append(rows, row)
	}

	return &Table{
		Columns: columns,
		Rows:    rows,
		Source:  api.FormatCSV,
	}, nil
}
