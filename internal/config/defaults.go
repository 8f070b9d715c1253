package config

const (
	defaultLogDir                 = "~/.local/share/quotarun/logs"
	defaultStateDir               = "~/.local/share/quotarun/state"
	defaultOutputDir              = "~/.local/share/quotarun/output"
	defaultLockFileName           = "quotarun.lock"
	defaultResultFileName         = "last_result.txt"
	defaultSummaryFileName        = "last_run.json"
	defaultHistoryDBName          = "history.db"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultMaxRounds              = 30
	defaultLongTermThresholdHours = 6.5
	// One hour quota window plus five minutes for clock skew.
	defaultReplenishWaitSeconds = 3900
	defaultShortPauseSeconds    = 30
	defaultTailLines            = 50
	defaultUnitsMarker          = "this_run"
	defaultExhaustedMarker      = "All keys exhausted"
	defaultLongTermMarker       = "daily"
	defaultShortTermMarker      = "hourly"
	defaultArtifactPattern      = "*.txt"
	defaultExcerptLines         = 10
	defaultNotifyRequestTimeout = 10
)

var (
	defaultSuccessMarkers     = []string{" ok |"}
	defaultFailureMarkers     = []string{"download failed", "ERR:"}
	defaultInformativeMarkers = []string{"this_run=", "exhausted", "daily=", "total_files=", "Run done"}
)

// Default returns a Config populated with repository defaults. Lock, result,
// summary and history paths are derived from the state directory during
// normalization when left empty.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
		},
		Worker: Worker{
			Env: map[string]string{},
		},
		Policy: Policy{
			MaxRounds:              defaultMaxRounds,
			LongTermThresholdHours: defaultLongTermThresholdHours,
			ReplenishWaitSeconds:   defaultReplenishWaitSeconds,
			ShortPauseSeconds:      defaultShortPauseSeconds,
			TailLines:              defaultTailLines,
		},
		Markers: Markers{
			Units:       defaultUnitsMarker,
			Exhausted:   defaultExhaustedMarker,
			LongTerm:    defaultLongTermMarker,
			ShortTerm:   defaultShortTermMarker,
			Success:     cloneStrings(defaultSuccessMarkers),
			Failure:     cloneStrings(defaultFailureMarkers),
			Informative: cloneStrings(defaultInformativeMarkers),
		},
		Report: Report{
			ArtifactPattern: defaultArtifactPattern,
			ExcerptLines:    defaultExcerptLines,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
