package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configured values for internal consistency.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Scheduler.PollInterval <= 0 {
		problems = append(problems, "scheduler.poll_interval must be positive")
	}
	if c.Scheduler.ErrorRetryInterval <= 0 {
		problems = append(problems, "scheduler.error_retry_interval must be positive")
	}
	if c.Scheduler.RetryLimit < 1 {
		problems = append(problems, "scheduler.retry_limit must be at least 1")
	}
	for taskType, limit := range c.Scheduler.TaskRetryLimits {
		if limit < 0 {
			problems = append(problems, fmt.Sprintf("scheduler.task_retry_limits[%s] must not be negative", taskType))
		}
	}
	if c.Scheduler.RetryBaseDelay <= 0 {
		problems = append(problems, "scheduler.retry_base_delay must be positive")
	}
	if c.Scheduler.RetryMaxDelay < c.Scheduler.RetryBaseDelay {
		problems = append(problems, "scheduler.retry_max_delay must be at least retry_base_delay")
	}
	if c.Scheduler.AgentFreshness < 60 {
		problems = append(problems, "scheduler.agent_freshness must be at least 60 seconds")
	}
	if c.Scheduler.AgentGracePeriod < 0 {
		problems = append(problems, "scheduler.agent_grace_period must not be negative")
	}
	if c.Scheduler.DLQAutoReprocessAfter < 0 {
		problems = append(problems, "scheduler.dlq_auto_reprocess_after must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (text, json)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
