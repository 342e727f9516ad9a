package config

import "time"

// FeedConfig is the root configuration for a price feed daemon.
type FeedConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     PushConfig     `yaml:"feed"`
	Quote    QuoteConfig    `yaml:"quote"`
	Poller   PollerConfig   `yaml:"poller"`
	Cache    CacheConfig    `yaml:"cache"`
	Journal  JournalConfig  `yaml:"journal"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`

	// Symbols is the daemon's standing watch list, subscribed at startup.
	Symbols []string `yaml:"symbols"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// PushConfig holds the push WebSocket connection settings. An empty WSURL
// disables the push channel entirely; the daemon then serves from polling.
type PushConfig struct {
	WSURL                string        `yaml:"ws_url"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SendBufferSize       int           `yaml:"send_buffer_size"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`
}

// QuoteConfig holds the REST quote API settings used by the fallback poller.
type QuoteConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PollerConfig holds fallback poller settings.
type PollerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	Concurrency         int           `yaml:"concurrency"`
	PauseWhileConnected bool          `yaml:"pause_while_connected"`
}

// CacheConfig holds price cache settings.
type CacheConfig struct {
	DirectionThreshold float64       `yaml:"direction_threshold"`
	DirectionWindow    time.Duration `yaml:"direction_window"`
	FanoutBufferSize   int           `yaml:"fanout_buffer_size"`
}

// JournalConfig holds the optional PostgreSQL observation journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

// MirrorConfig holds the optional Redis snapshot mirror.
type MirrorConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	BufferSize int           `yaml:"buffer_size"`
}

// LoggingConfig holds structured logging settings. File is optional; when
// set, output is rotated with the size and retention limits below.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig holds the HTTP health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
