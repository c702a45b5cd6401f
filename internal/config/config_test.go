package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-ingest
stream:
  url: wss://feed.example.com/v1/stream
  source: newswire
  topics: [headlines]
database:
  host: localhost
  port: 5432
  name: test_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-ingest" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-ingest")
	}
	if cfg.Stream.URL != "wss://feed.example.com/v1/stream" {
		t.Errorf("Stream.URL = %q, want %q", cfg.Stream.URL, "wss://feed.example.com/v1/stream")
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-ingest
database:
  host: localhost
  name: test_db
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-ingest
database:
  host: localhost
  name: test_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Stream.FlushSize != DefaultFlushSize {
		t.Errorf("Stream.FlushSize = %d, want default %d", cfg.Stream.FlushSize, DefaultFlushSize)
	}
	if cfg.Stream.FlushInterval != DefaultFlushInterval {
		t.Errorf("Stream.FlushInterval = %v, want default %v", cfg.Stream.FlushInterval, DefaultFlushInterval)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Curation.Timezone != DefaultTimezone {
		t.Errorf("Curation.Timezone = %q, want default %q", cfg.Curation.Timezone, DefaultTimezone)
	}
	if cfg.Curation.CutoffHour != DefaultCutoffHour || cfg.Curation.CutoffMinute != DefaultCutoffMinute {
		t.Errorf("Curation cutoff = %02d:%02d, want default %02d:%02d",
			cfg.Curation.CutoffHour, cfg.Curation.CutoffMinute, DefaultCutoffHour, DefaultCutoffMinute)
	}
	if cfg.Curation.HammingThreshold != DefaultHammingThreshold {
		t.Errorf("Curation.HammingThreshold = %d, want default %d", cfg.Curation.HammingThreshold, DefaultHammingThreshold)
	}
	if cfg.Curation.Concurrency != 1 {
		t.Errorf("Curation.Concurrency = %d, want sequential default 1", cfg.Curation.Concurrency)
	}
	if cfg.Backfill.Provider != DefaultProvider {
		t.Errorf("Backfill.Provider = %q, want default %q", cfg.Backfill.Provider, DefaultProvider)
	}
}

func TestLoadWithDefaults_SocialProvider(t *testing.T) {
	yaml := `
instance:
  id: test-ingest
database:
  host: localhost
  name: test_db
  user: testuser
  password: testpass
backfill:
  provider: social
  source: social
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if len(cfg.Backfill.Subreddits) != 3 {
		t.Errorf("Backfill.Subreddits = %v, want the default community set", cfg.Backfill.Subreddits)
	}
	if cfg.Backfill.TargetRPS != DefaultTargetRPS {
		t.Errorf("Backfill.TargetRPS = %v, want default %v", cfg.Backfill.TargetRPS, DefaultTargetRPS)
	}
	if cfg.Backfill.UserAgent == "" {
		t.Error("Backfill.UserAgent empty, want a default identity")
	}
}

func TestLoadWithDefaults_ExplicitMidnightCutoffKept(t *testing.T) {
	yaml := `
instance:
  id: test-ingest
database:
  host: localhost
  name: test_db
  user: testuser
  password: testpass
curation:
  timezone: UTC
  cutoff_hour: 0
  cutoff_minute: 0
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// An explicit timezone means the operator set the cutoff; 00:00
	// must not be rewritten to the business-day default.
	if cfg.Curation.CutoffHour != 0 || cfg.Curation.CutoffMinute != 0 {
		t.Errorf("Curation cutoff = %02d:%02d, want 00:00 preserved",
			cfg.Curation.CutoffHour, cfg.Curation.CutoffMinute)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Instance: InstanceConfig{ID: "test"},
			Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database.host is required",
		},
		{
			name:    "missing database password",
			mutate:  func(c *Config) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name:    "min_conns exceeds max_conns",
			mutate:  func(c *Config) { c.Database.MinConns = 20 },
			wantErr: "database.min_conns (20) cannot exceed max_conns (10)",
		},
		{
			name:    "bad curation mode",
			mutate:  func(c *Config) { c.Curation.Mode = "replay" },
			wantErr: `curation.mode must be "training" or "inference", got "replay"`,
		},
		{
			name:    "hamming threshold out of range",
			mutate:  func(c *Config) { c.Curation.HammingThreshold = 65 },
			wantErr: "curation.hamming_threshold must be between 0 and 64, got 65",
		},
		{
			name:    "bad credential strategy",
			mutate:  func(c *Config) { c.Credentials.Strategy = "random" },
			wantErr: `credentials.strategy must be "round_robin" or "least_used", got "random"`,
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
