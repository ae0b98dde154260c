package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/awlabs/trellis/pkg/api"
)

// PreparingHandler transforms a loaded table toward a target shape.
// The result always carries a derived superset of the input schema:
// normalized column names plus a stable row identifier column.
type PreparingHandler struct{}

// rowIDColumn is added by preparation so downstream consumers can
// reference rows after reordering or filtering
const rowIDColumn = "_row"

var _ Handler = (*PreparingHandler)(nil)

func (h *PreparingHandler) Execute(
	ctx context.Context, in []byte, step *api.Step,
) ([]byte, error) {
	return withRetry(ctx, step.Retry, func() ([]byte, error) {
		return h.prepare(in, step.Preparing)
	})
}

func (h *PreparingHandler) prepare(
	in []byte, cfg *api.PreparingConfig,
) ([]byte, error) {
	t, err := DecodeTable(in)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, ErrTableEmpty
	}

	target := api.TargetCosmoReady
	if cfg != nil && cfg.Target != "" {
		target = cfg.Target
	}

	columns := make([]string, 0, len(t.Columns)+1)
	renames := make(map[string]string, len(t.Columns))
	taken := map[string]struct{}{rowIDColumn: {}}
	for _, col := range t.Columns {
		// distinct headers may normalize to the same name; suffix the
		// later ones so no column is silently merged
		base := normalizeColumn(col)
		name := base
		for n := 2; ; n++ {
			if _, ok := taken[name]; !ok {
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[name] = struct{}{}
		renames[col] = name
		columns = append(columns, name)
	}
	columns = append(columns, rowIDColumn)

	rows := make([]map[string]string, 0, len(t.Rows))
	for i, row := range t.Rows {
		out := make(map[string]string, len(row)+1)
		for col, val := range row {
			out[renames[col]] = strings.TrimSpace(val)
		}
		out[rowIDColumn] = strconv.Itoa(i)
		rows = append(rows, out)
	}

	prepared := &Table{
		Columns: columns,
		Rows:    rows,
		Target:  target,
		Source:  t.Source,
	}
	return prepared.Encode()
}

// normalizeColumn lowercases a header and collapses non-alphanumeric
// runs into single underscores
func normalizeColumn(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		alnum := r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "column"
	}
	return b.String()
}
