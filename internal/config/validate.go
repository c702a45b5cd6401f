package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Stream.FlushSize < 1 {
		return errors.New("stream.flush_size must be >= 1")
	}
	if c.Stream.FlushInterval < time.Second {
		return errors.New("stream.flush_interval must be >= 1s")
	}
	if c.Stream.QueueCapacity < 1 {
		return errors.New("stream.queue_capacity must be >= 1")
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		return errors.New("stream.max_reconnect_attempts must be >= 1")
	}
	if c.Stream.ReconnectBaseDelay <= 0 {
		return errors.New("stream.reconnect_base_delay must be positive")
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return errors.New("stream.reconnect_max_delay cannot be below reconnect_base_delay")
	}

	if c.Backfill.Provider != "news" && c.Backfill.Provider != "social" {
		return fmt.Errorf("backfill.provider must be %q or %q, got %q", "news", "social", c.Backfill.Provider)
	}
	if c.Backfill.Provider == "social" && c.Backfill.TargetRPS <= 0 {
		return errors.New("backfill.target_rps must be positive")
	}
	if c.Backfill.PageSize < 1 {
		return errors.New("backfill.page_size must be >= 1")
	}
	if c.Backfill.CheckpointEvery < 1 {
		return errors.New("backfill.checkpoint_every must be >= 1")
	}
	if c.Backfill.MaxRetryAttempts < 1 {
		return errors.New("backfill.max_retry_attempts must be >= 1")
	}

	if c.Bars.URL != "" {
		if len(c.Bars.Symbols) == 0 {
			return errors.New("bars.symbols is required when bars.url is set")
		}
		if c.Bars.Interval < time.Second {
			return errors.New("bars.interval must be >= 1s")
		}
		if c.Bars.Concurrency < 1 {
			return errors.New("bars.concurrency must be >= 1")
		}
	}

	if c.Curation.CutoffHour < 0 || c.Curation.CutoffHour > 23 {
		return fmt.Errorf("curation.cutoff_hour must be between 0 and 23, got %d", c.Curation.CutoffHour)
	}
	if c.Curation.CutoffMinute < 0 || c.Curation.CutoffMinute > 59 {
		return fmt.Errorf("curation.cutoff_minute must be between 0 and 59, got %d", c.Curation.CutoffMinute)
	}
	if c.Curation.SafetyLag < 0 {
		return errors.New("curation.safety_lag cannot be negative")
	}
	if c.Curation.Mode != "training" && c.Curation.Mode != "inference" {
		return fmt.Errorf("curation.mode must be %q or %q, got %q", "training", "inference", c.Curation.Mode)
	}
	if c.Curation.WindowDays < 1 {
		return errors.New("curation.window_days must be >= 1")
	}
	if c.Curation.HammingThreshold < 0 || c.Curation.HammingThreshold > 64 {
		return fmt.Errorf("curation.hamming_threshold must be between 0 and 64, got %d", c.Curation.HammingThreshold)
	}
	if c.Curation.Concurrency < 1 {
		return errors.New("curation.concurrency must be >= 1")
	}
	if _, err := time.LoadLocation(c.Curation.Timezone); err != nil {
		return fmt.Errorf("curation.timezone: %w", err)
	}

	if c.Credentials.Strategy != "round_robin" && c.Credentials.Strategy != "least_used" {
		return fmt.Errorf("credentials.strategy must be %q or %q, got %q", "round_robin", "least_used", c.Credentials.Strategy)
	}
	if c.Credentials.MaxKeys < 1 {
		return errors.New("credentials.max_keys must be >= 1")
	}
	if c.Credentials.QuotaPerDay < 0 {
		return errors.New("credentials.quota_per_day cannot be negative")
	}
	if _, err := time.LoadLocation(c.Credentials.ResetTimezone); err != nil {
		return fmt.Errorf("credentials.reset_timezone: %w", err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
