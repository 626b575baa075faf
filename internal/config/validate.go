package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks that all required fields are set and values are valid.
func (c *BidsyncConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Session.UserID == "" {
		return errors.New("session.user_id is required")
	}

	if err := validateURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if err := validateURL("realtime.origin", c.Realtime.Origin); err != nil {
		return err
	}

	if c.Connections.ReconnectBaseDelay <= 0 {
		return errors.New("connections.reconnect_base_delay must be > 0")
	}
	if c.Connections.ReconnectMaxDelay < c.Connections.ReconnectBaseDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Connections.ReconnectMaxDelay, c.Connections.ReconnectBaseDelay)
	}
	if c.Connections.MaxAttempts < 1 {
		return errors.New("connections.max_attempts must be >= 1")
	}

	switch c.Credential.Source {
	case CredentialStatic:
	case CredentialFile:
		if c.Credential.Path == "" {
			return errors.New("credential.path is required for file source")
		}
	case CredentialRedis:
		if c.Credential.Redis.Addr == "" {
			return errors.New("credential.redis.addr is required for redis source")
		}
	default:
		return fmt.Errorf("credential.source must be one of static, file, redis, got %q", c.Credential.Source)
	}

	if c.Dedup.Ceiling < 1 {
		return errors.New("dedup.ceiling must be >= 1")
	}
	if c.Dedup.Retain < 0 || c.Dedup.Retain > c.Dedup.Ceiling {
		return fmt.Errorf("dedup.retain must be between 0 and ceiling (%d), got %d", c.Dedup.Ceiling, c.Dedup.Retain)
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", field, u.Scheme)
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
