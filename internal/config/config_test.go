package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awlabs/trellis/internal/config"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.APIHost)
	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, config.BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, config.DefaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, config.DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, config.DefaultRedisPrefix, cfg.Redis.Prefix)
	assert.Equal(t, config.DefaultWorkers, cfg.Workers)
	assert.Equal(t, config.DefaultQueueSize, cfg.QueueSize)
	assert.Equal(t, config.DefaultJobTimeout, cfg.JobTimeout)
	assert.Equal(t, config.DefaultStepTimeout, cfg.StepTimeout)
	assert.Equal(t, config.DefaultApprovalTimeout, cfg.ApprovalTimeout)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_BACKEND", "mem")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("QUEUE_SIZE", "512")
	t.Setenv("STEP_TIMEOUT", "30s")
	t.Setenv("JOB_TIMEOUT", "10m")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "127.0.0.1", cfg.APIHost)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 512, cfg.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.StepTimeout)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port_not_a_number", "API_PORT", "eighty"},
		{"port_too_high", "API_PORT", "70000"},
		{"negative_workers", "WORKER_COUNT", "-1"},
		{"bad_duration", "STEP_TIMEOUT", "soon"},
		{"negative_duration", "JOB_TIMEOUT", "-5m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := config.NewDefaultConfig()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*config.Config)
		want error
	}{
		{
			name: "zero_api_port",
			mod:  func(c *config.Config) { c.APIPort = 0 },
			want: config.ErrInvalidAPIPort,
		},
		{
			name: "unknown_backend",
			mod:  func(c *config.Config) { c.Storage.Backend = "tape" },
			want: config.ErrInvalidBackend,
		},
		{
			name: "bucket_without_url",
			mod: func(c *config.Config) {
				c.Storage.Backend = config.BackendBucket
			},
			want: config.ErrBucketURLRequired,
		},
		{
			name: "zero_workers",
			mod:  func(c *config.Config) { c.Workers = 0 },
			want: config.ErrInvalidWorkers,
		},
		{
			name: "zero_queue",
			mod:  func(c *config.Config) { c.QueueSize = 0 },
			want: config.ErrInvalidQueueSize,
		},
		{
			name: "step_timeout_exceeds_job_timeout",
			mod: func(c *config.Config) {
				c.JobTimeout = time.Minute
				c.StepTimeout = time.Hour
			},
			want: config.ErrStepTimeoutTooLarge,
		},
		{
			name: "zero_approval_timeout",
			mod:  func(c *config.Config) { c.ApprovalTimeout = 0 },
			want: config.ErrInvalidApprovalWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.mod(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
