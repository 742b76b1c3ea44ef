package config

const (
	defaultDataDir            = "~/.local/share/signsync"
	defaultLogDir             = "~/.local/share/signsync/logs"
	defaultLogRetentionDays   = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultAppVersion         = "dev"
	defaultRequestTimeout     = 60
	defaultProbeTimeout       = 5
	defaultBatchSize          = 100
	defaultChunkSizeBytes     = 1 << 20
	minChunkSizeBytes         = 64 << 10
	defaultContentType        = "video/mp4"
	defaultSettleSeconds      = 10
	defaultInitialDelay       = 5
	defaultUploadInterval     = 15 * 60
	defaultErrorRetryInterval = 60
	defaultWatchdogInterval   = 60 * 60
	defaultForegroundPause    = 2 * 60 * 60
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			AppVersion:     defaultAppVersion,
			RequestTimeout: defaultRequestTimeout,
			ProbeTimeout:   defaultProbeTimeout,
		},
		Upload: Upload{
			BatchSize:      defaultBatchSize,
			ChunkSizeBytes: defaultChunkSizeBytes,
			ContentType:    defaultContentType,
			WatchUploadDir: true,
			SettleSeconds:  defaultSettleSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Progress:       true,
			Errors:         true,
		},
		Workflow: Workflow{
			InitialDelay:       defaultInitialDelay,
			UploadInterval:     defaultUploadInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			WatchdogInterval:   defaultWatchdogInterval,
			ForegroundPause:    defaultForegroundPause,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
