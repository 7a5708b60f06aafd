package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance      InstanceConfig       `yaml:"instance"`
	API           APIConfig            `yaml:"api"`
	Connections   ConnectionsConfig    `yaml:"connections"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Logging       LoggingConfig        `yaml:"logging"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Journal       JournalConfig        `yaml:"journal"`
	Relay         RelayConfig          `yaml:"relay"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// APIConfig holds exchange endpoints and credentials.
type APIConfig struct {
	WSURL          string        `yaml:"wss_url"`
	RestURL        string        `yaml:"rest_url"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	Filters        []string      `yaml:"filters"` // Private channel filters; empty = everything
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	StatusInterval time.Duration `yaml:"status_interval"` // Platform status poll interval
}

// HasCredentials reports whether an API key pair is configured.
func (c APIConfig) HasCredentials() bool {
	return c.APIKey != "" || c.APISecret != ""
}

// ConnectionsConfig holds websocket pool settings.
type ConnectionsConfig struct {
	Count            *int          `yaml:"count"` // nil = default; 0 disables public subscriptions
	ReconnectTimeout Timeout       `yaml:"reconnect_timeout"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	BackoffFloor     time.Duration `yaml:"backoff_floor"`
	BackoffCeiling   time.Duration `yaml:"backoff_ceiling"`
	BackoffJitter    time.Duration `yaml:"backoff_jitter"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// UnmarshalYAML decodes the section and treats an explicit null
// reconnect_timeout as disabled.
func (c *ConnectionsConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ConnectionsConfig
	if err := node.Decode((*plain)(c)); err != nil {
		return err
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "reconnect_timeout" && node.Content[i+1].ShortTag() == "!!null" {
			c.ReconnectTimeout = Timeout{Disabled: true, set: true}
		}
	}
	return nil
}

// Connections returns the configured pool size.
func (c ConnectionsConfig) Connections() int {
	if c.Count == nil {
		return DefaultConnectionCount
	}
	return *c.Count
}

// Timeout is a duration that can be switched off with "off", 0, a negative
// value or null.
type Timeout struct {
	Duration time.Duration
	Disabled bool

	set bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Timeout) UnmarshalYAML(node *yaml.Node) error {
	t.set = true

	switch v := strings.ToLower(strings.TrimSpace(node.Value)); v {
	case "off", "none", "disabled", "false":
		t.Disabled = true
		t.Duration = 0
		return nil
	default:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("line %d: invalid timeout %q: %w", node.Line, node.Value, err)
		}
		t.Duration = d
		t.Disabled = d <= 0
		return nil
	}
}

// Value returns the timeout, or 0 when disabled.
func (t Timeout) Value() time.Duration {
	if t.Disabled {
		return 0
	}
	return t.Duration
}

// SubscriptionConfig is a channel subscription issued once the pool is open.
type SubscriptionConfig struct {
	Channel string         `yaml:"channel"`
	Params  map[string]any `yaml:"params"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// JournalConfig holds the connection lifecycle journal settings.
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

// RelayConfig holds the Redis relay settings.
type RelayConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Addr       string   `yaml:"addr"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	Prefix     string   `yaml:"prefix"`
	Events     []string `yaml:"events"` // Bus events to publish; empty = all public channel events
	BufferSize int      `yaml:"buffer_size"`
}
