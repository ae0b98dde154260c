package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the engine and its
	// collaborators
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores
		Storage StorageConfig
		Redis   RedisConfig

		// Dispatch
		Workers   int
		QueueSize int

		// Engine deadlines
		JobTimeout      time.Duration
		StepTimeout     time.Duration
		ApprovalTimeout time.Duration
		ShutdownTimeout time.Duration
	}

	// StorageConfig selects and parameterizes the storage backend. The
	// engine never chooses a backend itself; it only sees the facade.
	StorageConfig struct {
		Backend   string
		Path      string
		BucketURL string
		Prefix    string
	}

	// RedisConfig holds connection settings for the job state store
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const (
	BackendLocal  = "local"
	BackendBucket = "bucket"
	BackendMemory = "mem"

	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "trellis"
	DefaultRedisDB     = 0

	DefaultStoragePath = "./data"

	DefaultWorkers   = 4
	DefaultQueueSize = 256
	MaxWorkers       = 1024
	MaxQueueSize     = 1_000_000

	DefaultJobTimeout      = time.Hour
	DefaultStepTimeout     = 5 * time.Minute
	DefaultApprovalTimeout = 10 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	MaxTimeout             = 365 * 24 * time.Hour
)

var (
	ErrInvalidAPIPort        = errors.New("invalid API port")
	ErrInvalidBackend        = errors.New("invalid storage backend")
	ErrBucketURLRequired     = errors.New("bucket URL required for bucket backend")
	ErrInvalidWorkers        = errors.New("worker count must be positive")
	ErrInvalidQueueSize      = errors.New("queue size must be positive")
	ErrInvalidJobTimeout     = errors.New("job timeout must be positive")
	ErrInvalidStepTimeout    = errors.New("step timeout must be positive")
	ErrStepTimeoutTooLarge   = errors.New("step timeout must be <= job timeout")
	ErrInvalidApprovalWindow = errors.New("approval timeout must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for
// all engine settings and stores
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:  DefaultAPIHost,
		APIPort:  DefaultAPIPort,
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: BackendLocal,
			Path:    DefaultStoragePath,
		},
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
		JobTimeout:      DefaultJobTimeout,
		StepTimeout:     DefaultStepTimeout,
		ApprovalTimeout: DefaultApprovalTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if url := os.Getenv("STORAGE_BUCKET_URL"); url != "" {
		c.Storage.BucketURL = url
	}
	if prefix := os.Getenv("STORAGE_PREFIX"); prefix != "" {
		c.Storage.Prefix = prefix
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Redis.DB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt("WORKER_COUNT", &c.Workers, 0, MaxWorkers); err != nil {
		return err
	}
	if err := loadEnvInt("QUEUE_SIZE", &c.QueueSize, 0, MaxQueueSize); err != nil {
		return err
	}

	if err := loadEnvDuration("JOB_TIMEOUT", &c.JobTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration("STEP_TIMEOUT", &c.StepTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"APPROVAL_TIMEOUT", &c.ApprovalTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendBucket:
		if c.Storage.BucketURL == "" {
			return ErrBucketURLRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBackend, c.Storage.Backend)
	}

	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidJobTimeout
	}
	if c.StepTimeout <= 0 {
		return ErrInvalidStepTimeout
	}
	if c.StepTimeout > c.JobTimeout {
		return ErrStepTimeoutTooLarge
	}
	if c.ApprovalTimeout <= 0 {
		return ErrInvalidApprovalWindow
	}

	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer,
// and sets *dst if the value is in the range (min, max). Returns an
// error if the value cannot be parsed or falls outside the valid range.
func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, v, min+1, max)
	}
	*dst = v
	return nil
}

// loadEnvDuration reads key from the environment and parses it with
// time.ParseDuration (e.g. "30s", "5m")
func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d <= 0 || d > MaxTimeout {
		return fmt.Errorf("invalid %s: %s out of range", key, d)
	}
	*dst = d
	return nil
}
