package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
api:
  base_url: https://api-sandbox.upstox.com/v2
  access_token: test-token
feed:
  reconnect_base_delay: 2s
  read_timeout: 45s
subscriptions:
  - mode: ltpc
    instrument_keys:
      - NSE_EQ|INE848E01016
      - NSE_EQ|INE009A01021
  - mode: full
    instrument_keys:
      - NSE_FO|53001
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-streamer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-streamer")
	}
	if cfg.API.BaseURL != "https://api-sandbox.upstox.com/v2" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://api-sandbox.upstox.com/v2")
	}
	if cfg.Feed.ReconnectBaseDelay != 2*time.Second {
		t.Errorf("Feed.ReconnectBaseDelay = %v, want 2s", cfg.Feed.ReconnectBaseDelay)
	}
	if len(cfg.Subscriptions) != 2 {
		t.Fatalf("len(Subscriptions) = %d, want 2", len(cfg.Subscriptions))
	}
	if cfg.Subscriptions[1].Mode != "full" {
		t.Errorf("Subscriptions[1].Mode = %q, want %q", cfg.Subscriptions[1].Mode, "full")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_ACCESS_TOKEN", "secret123")

	yaml := `
instance:
  id: test-streamer
api:
  access_token: ${TEST_ACCESS_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.AccessToken != "secret123" {
		t.Errorf("API.AccessToken = %q, want %q", cfg.API.AccessToken, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
api:
  access_token: test-token
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("API.BaseURL = %q, want default %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Feed.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Feed.ReconnectMaxDelay = %v, want default %v", cfg.Feed.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want default %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
	if cfg.Writers.BatchSize != DefaultBatchSize {
		t.Errorf("Writers.BatchSize = %d, want default %d", cfg.Writers.BatchSize, DefaultBatchSize)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, DefaultLogLevel)
	}
}

func validBase() StreamerConfig {
	return StreamerConfig{
		Instance: InstanceConfig{ID: "test"},
		API:      APIConfig{AccessToken: "token"},
		Feed: FeedConfig{
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  time.Minute,
			BufferSize:         1000,
		},
		Writers: WritersConfig{
			BatchSize:     1000,
			FlushInterval: time.Second,
			BufferSize:    10000,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamerConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*StreamerConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *StreamerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing access token",
			mutate:  func(c *StreamerConfig) { c.API.AccessToken = "" },
			wantErr: "api.access_token is required",
		},
		{
			name: "base delay exceeds max delay",
			mutate: func(c *StreamerConfig) {
				c.Feed.ReconnectBaseDelay = 2 * time.Minute
			},
			wantErr: "feed.reconnect_base_delay (2m0s) cannot exceed reconnect_max_delay (1m0s)",
		},
		{
			name: "invalid subscription mode",
			mutate: func(c *StreamerConfig) {
				c.Subscriptions = []SubscriptionConfig{
					{Mode: "turbo", InstrumentKeys: []string{"NSE_EQ|INE848E01016"}},
				}
			},
			wantErr: `subscriptions[0].mode "turbo" is not a valid mode`,
		},
		{
			name: "empty subscription keys",
			mutate: func(c *StreamerConfig) {
				c.Subscriptions = []SubscriptionConfig{{Mode: "ltpc"}}
			},
			wantErr: "subscriptions[0].instrument_keys is empty",
		},
		{
			name: "partial database section",
			mutate: func(c *StreamerConfig) {
				c.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 10}
			},
			wantErr: "database.timescale.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *StreamerConfig) {
				c.Database.Timescale = DBConfig{
					Host: "localhost", Name: "db", User: "user", Password: "pass",
					MaxConns: 5, MinConns: 10,
				}
			},
			wantErr: "database.timescale.min_conns (10) cannot exceed max_conns (5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestRequireDatabase(t *testing.T) {
	cfg := validBase()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// The streamer runs fine without a database; the recorder does not.
	if err := cfg.RequireDatabase(); err == nil {
		t.Fatal("RequireDatabase() with no database succeeded")
	}

	cfg.Database.Timescale = DBConfig{
		Host: "localhost", Name: "ticks", User: "recorder", Password: "pass",
		MaxConns: 10, MinConns: 2,
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() error = %v", err)
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
