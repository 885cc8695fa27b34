package config

const (
	defaultDataDir               = "~/.local/share/dispatch"
	defaultLogDir                = "~/.local/share/dispatch/logs"
	defaultAPIBind               = "127.0.0.1:7810"
	defaultSocketPath            = "~/.local/share/dispatch/dispatchd.sock"
	defaultLogFormat             = "text"
	defaultLogLevel              = "info"
	defaultPollInterval          = 5
	defaultErrorRetryInterval    = 10
	defaultRetryLimit            = 3
	defaultRetryBaseDelay        = 30
	defaultRetryMaxDelay         = 900
	defaultAgentFreshness        = 300
	defaultAgentGracePeriod      = 120
	defaultDLQAutoReprocessAfter = 0
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
			SocketPath: defaultSocketPath,
		},
		Scheduler: Scheduler{
			PollInterval:          defaultPollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			RetryLimit:            defaultRetryLimit,
			RetryBaseDelay:        defaultRetryBaseDelay,
			RetryMaxDelay:         defaultRetryMaxDelay,
			AgentFreshness:        defaultAgentFreshness,
			AgentGracePeriod:      defaultAgentGracePeriod,
			DLQAutoReprocessAfter: defaultDLQAutoReprocessAfter,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
