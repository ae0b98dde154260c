package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/awlabs/trellis/pkg/api"
	"github.com/tidwall/gjson"
)

// ValidationHandler checks the prepared table against the step's rules.
// Rule paths are gjson paths evaluated against the table's JSON form,
// so rules can address metadata ("target"), columns ("columns.#"), or
// individual cells ("rows.0.amount"). Validation passes the artifact
// through unchanged; any failed rule fails the step.
type ValidationHandler struct{}

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrRuleMissing      = errors.New("required path missing")
	ErrRuleMismatch     = errors.New("path value mismatch")
)

var _ Handler = (*ValidationHandler)(nil)

func (h *ValidationHandler) Execute(
	ctx context.Context, in []byte, step *api.Step,
) ([]byte, error) {
	return withRetry(ctx, step.Retry, func() ([]byte, error) {
		return h.validate(in, step.Validation)
	})
}

func (h *ValidationHandler) validate(
	in []byte, cfg *api.ValidationConfig,
) ([]byte, error) {
	t, err := DecodeTable(in)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, ErrTableEmpty)
	}

	if cfg != nil {
		doc := string(in)
		for _, rule := range cfg.Rules {
			if err := checkRule(doc, rule); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
			}
		}
	}
	return in, nil
}

func checkRule(doc string, rule *api.ValidationRule) error {
	res := gjson.Get(doc, rule.Path)
	if !res.Exists() {
		if rule.Required {
			return fmt.Errorf("%w: %s", ErrRuleMissing, rule.Path)
		}
		return nil
	}
	if rule.Equals != "" && res.String() != rule.Equals {
		return fmt.Errorf("%w: %s: got %q, want %q",
			ErrRuleMismatch, rule.Path, res.String(), rule.Equals)
	}
	return nil
}
