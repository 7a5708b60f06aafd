package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.WSURL == "" {
		return errors.New("api.wss_url is required")
	}
	if (c.API.APIKey == "") != (c.API.APISecret == "") {
		return errors.New("api.api_key and api.api_secret must be set together")
	}

	conns := c.Connections
	if conns.Connections() < 0 {
		return fmt.Errorf("connections.count must be >= 0, got %d", conns.Connections())
	}
	if conns.BackoffFactor < 1 {
		return fmt.Errorf("connections.backoff_factor must be >= 1, got %v", conns.BackoffFactor)
	}
	if conns.BackoffCeiling < conns.BackoffFloor {
		return fmt.Errorf("connections.backoff_ceiling (%v) cannot be below backoff_floor (%v)", conns.BackoffCeiling, conns.BackoffFloor)
	}
	if conns.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}

	for i, sub := range c.Subscriptions {
		if sub.Channel == "" {
			return fmt.Errorf("subscriptions[%d].channel is required", i)
		}
	}
	if len(c.Subscriptions) > 0 && conns.Connections() == 0 {
		return errors.New("subscriptions require connections.count >= 1")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Relay.Enabled {
		if c.Relay.Addr == "" {
			return errors.New("relay.addr is required")
		}
		if c.Relay.BufferSize < 1 {
			return errors.New("relay.buffer_size must be >= 1")
		}
	}

	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
	}
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
