package config

import "time"

// BidsyncConfig is the root configuration for a bidsync client.
type BidsyncConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Session     SessionConfig     `yaml:"session"`
	API         APIConfig         `yaml:"api"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Connections ConnectionsConfig `yaml:"connections"`
	Credential  CredentialConfig  `yaml:"credential"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Poller      PollerConfig      `yaml:"poller"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SessionConfig identifies the signed-in user.
type SessionConfig struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
}

// APIConfig holds HTTP data API settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RealtimeConfig locates the realtime channel endpoint.
type RealtimeConfig struct {
	Origin   string `yaml:"origin"`    // http(s) origin; mapped to ws(s)
	BasePath string `yaml:"base_path"` // Path prefix before the topic path
}

// ConnectionsConfig holds reconnection supervisor and transport settings.
type ConnectionsConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after"`
}

// Credential sources.
const (
	CredentialStatic = "static"
	CredentialFile   = "file"
	CredentialRedis  = "redis"
)

// CredentialConfig selects where the bearer token is read from.
type CredentialConfig struct {
	Source       string        `yaml:"source"`
	Token        string        `yaml:"token"`         // static
	Path         string        `yaml:"path"`          // file
	PollInterval time.Duration `yaml:"poll_interval"` // file, redis
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the Redis credential store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	Channel  string `yaml:"channel"` // Pub/Sub channel announcing rotations
}

// ReconcileConfig tunes provisional entry matching.
type ReconcileConfig struct {
	// RequireToken disables the payload signature fallback, so a
	// confirmation without a correlation token is appended as new.
	RequireToken bool `yaml:"require_token"`
}

// DedupConfig bounds the notification dedup store.
type DedupConfig struct {
	Ceiling int `yaml:"ceiling"`
	Retain  int `yaml:"retain"`
}

// PollerConfig holds HTTP resync poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ArchiveConfig holds the optional Postgres archive.
type ArchiveConfig struct {
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

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
