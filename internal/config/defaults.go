package config

const (
	defaultLogDir                 = "~/.local/share/conveyor/logs"
	defaultBaselineDir            = "~/.local/share/conveyor/baseline"
	defaultQuietPeriodSeconds     = 2
	defaultDedupWindowSeconds     = 2
	defaultReadAttempts           = 10
	defaultReadRetryDelayMS       = 300
	defaultPlaceholder            = "#1"
	defaultEnsureTimeoutSeconds   = 180
	defaultPollIntervalMS         = 500
	defaultIdleSleepMS            = 200
	defaultMergeQuietSeconds      = 5
	defaultMergerBinary           = "img2pdf"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:      defaultLogDir,
			BaselineDir: defaultBaselineDir,
		},
		Stability: Stability{
			QuietPeriodSeconds: defaultQuietPeriodSeconds,
		},
		Routing: Routing{
			DedupWindowSeconds: defaultDedupWindowSeconds,
			ReadAttempts:       defaultReadAttempts,
			ReadRetryDelayMS:   defaultReadRetryDelayMS,
		},
		Baseline: Baseline{
			Placeholder:          defaultPlaceholder,
			EnsureTimeoutSeconds: defaultEnsureTimeoutSeconds,
			PollIntervalMS:       defaultPollIntervalMS,
		},
		Dispatch: Dispatch{
			IdleSleepMS: defaultIdleSleepMS,
		},
		Merge: Merge{
			QuietPeriodSeconds: defaultMergeQuietSeconds,
			MergerBinary:       defaultMergerBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
