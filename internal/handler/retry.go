package handler

import (
	"context"
	"time"

	"github.com/awlabs/trellis/pkg/api"
)

// withRetry runs fn up to cfg.MaxRetries+1 times with the configured
// backoff between attempts. Retry policy belongs to the handlers; the
// engine only enforces deadlines. A nil cfg means a single attempt.
func withRetry(
	ctx context.Context, cfg *api.RetryConfig,
	fn func() ([]byte, error),
) ([]byte, error) {
	attempts := 1
	if cfg != nil && cfg.MaxRetries > 0 {
		attempts += cfg.MaxRetries
	}

	var out []byte
	var err error
	for i := range attempts {
		out, err = fn()
		if err == nil {
			return out, nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(cfg, i)):
		}
	}
	return nil, err
}

func backoff(cfg *api.RetryConfig, attempt int) time.Duration {
	base := time.Duration(cfg.BackoffMs) * time.Millisecond
	if base <= 0 {
		return 0
	}

	switch cfg.BackoffType {
	case api.BackoffTypeLinear:
		return base * time.Duration(attempt+1)
	case api.BackoffTypeExponential:
		return base << attempt
	}
	return base
}
