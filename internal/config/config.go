package config

import "time"

// Config is the root configuration for the acquisition and curation
// binaries.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Stream      StreamConfig      `yaml:"stream"`
	Backfill    BackfillConfig    `yaml:"backfill"`
	Database    DBConfig          `yaml:"database"`
	Bars        BarsConfig        `yaml:"bars"`
	Curation    CurationConfig    `yaml:"curation"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds streaming ingest session settings.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	Topics               []string      `yaml:"topics"`
	Source               string        `yaml:"source"`
	FlushSize            int           `yaml:"flush_size"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	QueueCapacity        int           `yaml:"queue_capacity"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	StableResetAfter     time.Duration `yaml:"stable_reset_after"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// BackfillConfig holds paginated backfill fetcher settings. Provider
// selects the page client: "news" for the authenticated wire API,
// "social" for the public forum archive.
type BackfillConfig struct {
	Provider         string        `yaml:"provider"`
	URL              string        `yaml:"url"`
	Source           string        `yaml:"source"`
	PageSize         int           `yaml:"page_size"`
	CheckpointEvery  int           `yaml:"checkpoint_every"`
	CheckpointDir    string        `yaml:"checkpoint_dir"`
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	// Social provider settings
	Subreddits []string `yaml:"subreddits"`
	UserAgent  string   `yaml:"user_agent"`
	TargetRPS  float64  `yaml:"target_rps"`
}

// DBConfig holds the Postgres connection for the document store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BarsConfig holds the daily price bar refresher settings. An empty
// URL disables the refresher.
type BarsConfig struct {
	URL         string        `yaml:"url"`
	Symbols     []string      `yaml:"symbols"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CurationConfig holds window, clustering, and novelty settings.
type CurationConfig struct {
	Timezone         string        `yaml:"timezone"`
	CutoffHour       int           `yaml:"cutoff_hour"`
	CutoffMinute     int           `yaml:"cutoff_minute"`
	SafetyLag        time.Duration `yaml:"safety_lag"`
	Mode             string        `yaml:"mode"` // "training" or "inference"
	WindowDays       int           `yaml:"window_days"`
	HammingThreshold int           `yaml:"hamming_threshold"`
	Concurrency      int           `yaml:"concurrency"`
}

// CredentialsConfig holds credential pool settings. Key material itself
// is supplied out-of-band via numbered environment variables.
type CredentialsConfig struct {
	EnvPrefix     string `yaml:"env_prefix"`
	MaxKeys       int    `yaml:"max_keys"`
	Strategy      string `yaml:"strategy"` // "round_robin" or "least_used"
	QuotaPerDay   int    `yaml:"quota_per_day"`
	ResetTimezone string `yaml:"reset_timezone"`
}
