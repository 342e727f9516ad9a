package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultSendBufferSize       = 256
	DefaultMessageBufferSize    = 4096

	DefaultQuoteTimeout    = 10 * time.Second
	DefaultQuoteMaxRetries = 3

	DefaultPollInterval    = 5 * time.Second
	DefaultPollConcurrency = 8

	DefaultDirectionThreshold = 0.0001
	DefaultDirectionWindow    = 1 * time.Second
	DefaultFanoutBufferSize   = 1024

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 5 * time.Second
	DefaultBufferSize    = 4096

	DefaultMirrorTTL = 5 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultHealthPort = 8080
)

func (c *FeedConfig) applyDefaults() {
	// Push connection defaults. WSURL deliberately has no default: unset
	// means pure polling mode.
	if c.Feed.ConnectTimeout == 0 {
		c.Feed.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.SendBufferSize == 0 {
		c.Feed.SendBufferSize = DefaultSendBufferSize
	}
	if c.Feed.MessageBufferSize == 0 {
		c.Feed.MessageBufferSize = DefaultMessageBufferSize
	}

	// Quote API defaults
	if c.Quote.Timeout == 0 {
		c.Quote.Timeout = DefaultQuoteTimeout
	}
	if c.Quote.MaxRetries == 0 {
		c.Quote.MaxRetries = DefaultQuoteMaxRetries
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	// Cache defaults
	if c.Cache.DirectionThreshold == 0 {
		c.Cache.DirectionThreshold = DefaultDirectionThreshold
	}
	if c.Cache.DirectionWindow == 0 {
		c.Cache.DirectionWindow = DefaultDirectionWindow
	}
	if c.Cache.FanoutBufferSize == 0 {
		c.Cache.FanoutBufferSize = DefaultFanoutBufferSize
	}

	// Journal defaults
	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Database)
		if c.Journal.BatchSize == 0 {
			c.Journal.BatchSize = DefaultBatchSize
		}
		if c.Journal.FlushInterval == 0 {
			c.Journal.FlushInterval = DefaultFlushInterval
		}
		if c.Journal.BufferSize == 0 {
			c.Journal.BufferSize = DefaultBufferSize
		}
	}

	// Mirror defaults
	if c.Mirror.Enabled {
		if c.Mirror.TTL == 0 {
			c.Mirror.TTL = DefaultMirrorTTL
		}
		if c.Mirror.BufferSize == 0 {
			c.Mirror.BufferSize = DefaultBufferSize
		}
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
