package testsupport

import (
	"path/filepath"
	"testing"

	"dispatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.SocketPath = filepath.Join(base, "dispatchd.sock")
	cfg.Scheduler.PollInterval = 1
	cfg.Scheduler.ErrorRetryInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithRetryLimit overrides the global retry budget on the test config.
func WithRetryLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Scheduler.RetryLimit = limit
	}
}

// WithTaskRetryLimit sets a per-task-type retry budget on the test config.
func WithTaskRetryLimit(taskType string, limit int) ConfigOption {
	return func(cfg *config.Config) {
		if cfg.Scheduler.TaskRetryLimits == nil {
			cfg.Scheduler.TaskRetryLimits = make(map[string]int)
		}
		cfg.Scheduler.TaskRetryLimits[taskType] = limit
	}
}

// WithBackoff overrides the retry backoff delays (in seconds).
func WithBackoff(base, max int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Scheduler.RetryBaseDelay = base
		cfg.Scheduler.RetryMaxDelay = max
	}
}
