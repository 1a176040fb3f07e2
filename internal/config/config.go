package config

import "time"

// StreamerConfig is the root configuration shared by the streamer and
// recorder binaries.
type StreamerConfig struct {
	Instance      InstanceConfig       `yaml:"instance"`
	API           APIConfig            `yaml:"api"`
	Feed          FeedConfig           `yaml:"feed"`
	Database      DatabaseConfig       `yaml:"database"`
	Writers       WritersConfig        `yaml:"writers"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds Upstox REST API settings.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"` // Usually ${UPSTOX_ACCESS_TOKEN}
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// FeedConfig holds streaming connection settings.
type FeedConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
	JoinTimeout        time.Duration `yaml:"join_timeout"`
}

// DatabaseConfig holds the TimescaleDB connection used by the recorder.
// The streamer binary runs without one.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
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

// WritersConfig holds batch writer settings for the recorder.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// SubscriptionConfig is one mode with its instrument keys, subscribed
// at startup.
type SubscriptionConfig struct {
	Mode           string   `yaml:"mode"`
	InstrumentKeys []string `yaml:"instrument_keys"`
}

// LoggingConfig controls the slog handler in the binaries.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
