package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPIBaseURL         = "http://localhost:8000/api"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultRealtimeOrigin     = "http://localhost:8000"
	DefaultRealtimeBasePath   = "ws"
	DefaultReconnectBaseDelay = 2 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxAttempts        = 10
	DefaultPingInterval       = 20 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultStaleAfter         = 60 * time.Second
	DefaultCredentialSource   = CredentialStatic
	DefaultCredentialPoll     = 5 * time.Second
	DefaultRedisKey           = "bidsync:token"
	DefaultDedupCeiling       = 1000
	DefaultDedupRetain        = 500
	DefaultPollInterval       = 15 * time.Second
	DefaultPollConcurrency    = 8
	DefaultPollTimeout        = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 1000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

func (c *BidsyncConfig) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Realtime defaults
	if c.Realtime.Origin == "" {
		c.Realtime.Origin = DefaultRealtimeOrigin
	}
	if c.Realtime.BasePath == "" {
		c.Realtime.BasePath = DefaultRealtimeBasePath
	}

	// Connections defaults
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.MaxAttempts == 0 {
		c.Connections.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.ConnectTimeout == 0 {
		c.Connections.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.StaleAfter == 0 {
		c.Connections.StaleAfter = DefaultStaleAfter
	}

	// Credential defaults
	if c.Credential.Source == "" {
		c.Credential.Source = DefaultCredentialSource
	}
	if c.Credential.PollInterval == 0 {
		c.Credential.PollInterval = DefaultCredentialPoll
	}
	if c.Credential.Redis.Key == "" {
		c.Credential.Redis.Key = DefaultRedisKey
	}

	// Dedup defaults
	if c.Dedup.Ceiling == 0 {
		c.Dedup.Ceiling = DefaultDedupCeiling
	}
	if c.Dedup.Retain == 0 {
		c.Dedup.Retain = DefaultDedupRetain
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
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
