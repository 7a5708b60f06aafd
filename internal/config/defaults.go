package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL            = "wss://api.bitfinex.com/ws/2"
	DefaultRestURL          = "https://api.bitfinex.com/v2"
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultStatusInterval   = time.Minute
	DefaultConnectionCount  = 5
	DefaultReconnectTimeout = 15 * time.Minute
	DefaultBackoffFactor    = 1.618
	DefaultBackoffFloor     = 1920 * time.Millisecond
	DefaultBackoffCeiling   = 60 * time.Second
	DefaultBackoffJitter    = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSocketBuffer     = 1000
	DefaultLogLevel         = "info"
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 500
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 10000
	DefaultRelayAddr        = "localhost:6379"
	DefaultRelayPrefix      = "bfx:"
)

func (c *StreamerConfig) applyDefaults() {
	// API defaults
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.StatusInterval == 0 {
		c.API.StatusInterval = DefaultStatusInterval
	}

	// Connections defaults
	conns := &c.Connections
	if conns.Count == nil {
		n := DefaultConnectionCount
		conns.Count = &n
	}
	if !conns.ReconnectTimeout.set {
		conns.ReconnectTimeout = Timeout{Duration: DefaultReconnectTimeout, set: true}
	}
	if conns.BackoffFactor == 0 {
		conns.BackoffFactor = DefaultBackoffFactor
	}
	if conns.BackoffFloor == 0 {
		conns.BackoffFloor = DefaultBackoffFloor
	}
	if conns.BackoffCeiling == 0 {
		conns.BackoffCeiling = DefaultBackoffCeiling
	}
	if conns.BackoffJitter == 0 {
		conns.BackoffJitter = DefaultBackoffJitter
	}
	if conns.PingInterval == 0 {
		conns.PingInterval = DefaultPingInterval
	}
	if conns.PingTimeout == 0 {
		conns.PingTimeout = DefaultPingTimeout
	}
	if conns.WriteTimeout == 0 {
		conns.WriteTimeout = DefaultWriteTimeout
	}
	if conns.HandshakeTimeout == 0 {
		conns.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conns.BufferSize == 0 {
		conns.BufferSize = DefaultSocketBuffer
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Journal defaults
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

	// Relay defaults
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.Prefix == "" {
		c.Relay.Prefix = DefaultRelayPrefix
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = DefaultBufferSize
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
