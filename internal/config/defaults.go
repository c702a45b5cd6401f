package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFlushSize            = 100
	DefaultFlushInterval        = 5 * time.Minute
	DefaultQueueCapacity        = 64
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 500 * time.Millisecond
	DefaultReconnectMaxDelay    = 10 * time.Second
	DefaultStableResetAfter     = 1 * time.Minute
	DefaultPingTimeout          = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second

	DefaultProvider         = "news"
	DefaultPageSize         = 50
	DefaultCheckpointEvery  = 100
	DefaultCheckpointDir    = "."
	DefaultMaxRetryAttempts = 5
	DefaultRetryBaseDelay   = 1 * time.Second
	DefaultRetryMaxDelay    = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultTargetRPS        = 3.5
	DefaultUserAgent        = "corpus-data/1.0"

	DefaultBarsInterval    = 15 * time.Minute
	DefaultBarsConcurrency = 4
	DefaultBarsTimeout     = 10 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultTimezone         = "America/New_York"
	DefaultCutoffHour       = 15
	DefaultCutoffMinute     = 30
	DefaultSafetyLag        = 30 * time.Minute
	DefaultMode             = "training"
	DefaultWindowDays       = 7
	DefaultHammingThreshold = 3
	// Sequential by default: each day's novelty reference must see
	// every prior curated day.
	DefaultConcurrency = 1

	DefaultMaxKeys       = 5
	DefaultStrategy      = "round_robin"
	DefaultResetTimezone = "US/Pacific"
)

// DefaultSubreddits is the community set the social provider walks when
// none is configured.
var DefaultSubreddits = []string{"stocks", "investing", "wallstreetbets"}

func (c *Config) applyDefaults() {
	// Stream defaults
	if c.Stream.FlushSize == 0 {
		c.Stream.FlushSize = DefaultFlushSize
	}
	if c.Stream.FlushInterval == 0 {
		c.Stream.FlushInterval = DefaultFlushInterval
	}
	if c.Stream.QueueCapacity == 0 {
		c.Stream.QueueCapacity = DefaultQueueCapacity
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.StableResetAfter == 0 {
		c.Stream.StableResetAfter = DefaultStableResetAfter
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}

	// Backfill defaults
	if c.Backfill.Provider == "" {
		c.Backfill.Provider = DefaultProvider
	}
	if c.Backfill.PageSize == 0 {
		c.Backfill.PageSize = DefaultPageSize
	}
	if c.Backfill.CheckpointEvery == 0 {
		c.Backfill.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.Backfill.CheckpointDir == "" {
		c.Backfill.CheckpointDir = DefaultCheckpointDir
	}
	if c.Backfill.MaxRetryAttempts == 0 {
		c.Backfill.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.Backfill.RetryBaseDelay == 0 {
		c.Backfill.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Backfill.RetryMaxDelay == 0 {
		c.Backfill.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Backfill.RequestTimeout == 0 {
		c.Backfill.RequestTimeout = DefaultRequestTimeout
	}
	if c.Backfill.Provider == "social" {
		if len(c.Backfill.Subreddits) == 0 {
			c.Backfill.Subreddits = DefaultSubreddits
		}
		if c.Backfill.TargetRPS == 0 {
			c.Backfill.TargetRPS = DefaultTargetRPS
		}
		if c.Backfill.UserAgent == "" {
			c.Backfill.UserAgent = DefaultUserAgent
		}
	}

	// Bars defaults (only meaningful when the refresher is enabled)
	if c.Bars.Interval == 0 {
		c.Bars.Interval = DefaultBarsInterval
	}
	if c.Bars.Concurrency == 0 {
		c.Bars.Concurrency = DefaultBarsConcurrency
	}
	if c.Bars.Timeout == 0 {
		c.Bars.Timeout = DefaultBarsTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Curation defaults
	if c.Curation.Timezone == "" {
		c.Curation.Timezone = DefaultTimezone
		if c.Curation.CutoffHour == 0 && c.Curation.CutoffMinute == 0 {
			c.Curation.CutoffHour = DefaultCutoffHour
			c.Curation.CutoffMinute = DefaultCutoffMinute
		}
	}
	if c.Curation.SafetyLag == 0 {
		c.Curation.SafetyLag = DefaultSafetyLag
	}
	if c.Curation.Mode == "" {
		c.Curation.Mode = DefaultMode
	}
	if c.Curation.WindowDays == 0 {
		c.Curation.WindowDays = DefaultWindowDays
	}
	if c.Curation.HammingThreshold == 0 {
		c.Curation.HammingThreshold = DefaultHammingThreshold
	}
	if c.Curation.Concurrency == 0 {
		c.Curation.Concurrency = DefaultConcurrency
	}

	// Credential defaults
	if c.Credentials.MaxKeys == 0 {
		c.Credentials.MaxKeys = DefaultMaxKeys
	}
	if c.Credentials.Strategy == "" {
		c.Credentials.Strategy = DefaultStrategy
	}
	if c.Credentials.ResetTimezone == "" {
		c.Credentials.ResetTimezone = DefaultResetTimezone
	}
}
