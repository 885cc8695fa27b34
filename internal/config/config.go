package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
	SocketPath string `toml:"socket_path"`
}

// Scheduler contains the orchestration policy knobs.
type Scheduler struct {
	// PollInterval is the scheduler pass interval in seconds.
	PollInterval int `toml:"poll_interval"`
	// ErrorRetryInterval is the pause after a failed pass in seconds.
	ErrorRetryInterval int `toml:"error_retry_interval"`
	// RetryLimit is the global bound on automatic retries per work item.
	RetryLimit int `toml:"retry_limit"`
	// TaskRetryLimits overrides RetryLimit for specific task types.
	TaskRetryLimits map[string]int `toml:"task_retry_limits"`
	// RetryBaseDelay is the first backoff delay in seconds; it doubles per
	// attempt up to RetryMaxDelay.
	RetryBaseDelay int `toml:"retry_base_delay"`
	RetryMaxDelay  int `toml:"retry_max_delay"`
	// AgentFreshness is the heartbeat window in seconds inside which an
	// agent counts as alive for assignment.
	AgentFreshness int `toml:"agent_freshness"`
	// AgentGracePeriod is the additional slack in seconds before items held
	// by a stale agent are reclaimed.
	AgentGracePeriod int `toml:"agent_grace_period"`
	// DLQAutoReprocessAfter re-enqueues unescalated dead letters older than
	// this many seconds. Zero disables the sweep.
	DLQAutoReprocessAfter int `toml:"dlq_auto_reprocess_after"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the dispatch daemon.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, API bind address, IPC socket
//   - Scheduler: polling cadence, retry/backoff policy, agent liveness
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scheduler Scheduler `toml:"scheduler"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dispatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the data and log directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "dispatch.db")
}

// RetryLimitFor returns the retry budget for a task type, honoring
// per-task-type overrides.
func (c *Config) RetryLimitFor(taskType string) int {
	if limit, ok := c.Scheduler.TaskRetryLimits[taskType]; ok && limit >= 0 {
		return limit
	}
	return c.Scheduler.RetryLimit
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
