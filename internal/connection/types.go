package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bfx-stream/internal/auth"
	"github.com/rickgao/bfx-stream/internal/backoff"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyRunning  = errors.New("already running")

	ErrZeroConnections                  = errors.New("unable to subscribe: the number of connections must be greater than 0")
	ErrAuthenticationRequired           = errors.New("authentication required: configure an API key and secret")
	ErrInvalidAuthenticationCredentials = errors.New("cannot authenticate with given API key and secret")
	ErrEventNotSupported                = errors.New("event not supported")
	ErrSubscriptionNotFound             = errors.New("subscription not found")
	ErrDuplicateSubID                   = errors.New("duplicate subscription id")
)

// OutdatedClientVersionError is returned when the server speaks a different
// protocol version.
type OutdatedClientVersionError struct {
	Client int
	Server int
}

func (e *OutdatedClientVersionError) Error() string {
	return fmt.Sprintf("mismatch between client version %d and server version %d: update the client", e.Client, e.Server)
}

// ReconnectionTimeoutError is returned when the private connection stays
// down longer than the configured budget.
type ReconnectionTimeoutError struct {
	Timeout time.Duration
}

func (e *ReconnectionTimeoutError) Error() string {
	return fmt.Sprintf("connection has been offline for too long without being able to reconnect (timeout: %s)", e.Timeout)
}

// Close codes.
const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseGoingAway      = websocket.CloseGoingAway
	CloseAbnormal       = websocket.CloseAbnormalClosure
	CloseServiceRestart = websocket.CloseServiceRestart
)

// Client events. Handler-defined events are listed in the router package.
const (
	EventOpen          = "open"
	EventAuthenticated = "authenticated"
	EventDisconnection = "disconnection"
	EventSubscribed    = "subscribed"
	EventWSSError      = "wss-error"
)

// MaxConnections is the pool size above which the server may answer with
// 429 Too Many Requests.
const MaxConnections = 20

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://api-pub.bitfinex.com/ws/2)
	PingInterval     time.Duration // Interval between keepalive pings; 0 disables pings
	PingTimeout      time.Duration // Max time without any inbound frame before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake deadline
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	WSURL            string            // WebSocket URL shared by buckets and the private connection
	Credentials      *auth.Credentials // nil = no authentication
	Connections      int               // Number of buckets; 0 is legal but disables Subscribe
	ReconnectTimeout time.Duration     // Max private connection downtime; 0 disables the timeout
	Backoff          backoff.Config    // Reconnection delays for the private connection and buckets
	Client           ClientConfig      // Per-socket settings; URL is taken from WSURL
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Connections:      5,
		ReconnectTimeout: 15 * time.Minute,
		Backoff:          backoff.DefaultConfig(),
		Client:           DefaultClientConfig(),
	}
}

// State is the private connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateLive
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BucketState is the state of one bucket socket.
type BucketState int

const (
	BucketDisconnected BucketState = iota
	BucketConnecting
	BucketOpen
	BucketReconnecting
	BucketClosed
)

func (s BucketState) String() string {
	switch s {
	case BucketDisconnected:
		return "disconnected"
	case BucketConnecting:
		return "connecting"
	case BucketOpen:
		return "open"
	case BucketReconnecting:
		return "reconnecting"
	case BucketClosed:
		return "closed"
	default:
		return fmt.Sprintf("bucket_state(%d)", int(s))
	}
}

// Reconnection describes the current reconnection episode of the private
// connection. It is replaced as a whole on every transition.
type Reconnection struct {
	Status    bool      // true while reconnecting
	Attempts  int       // attempts made in this episode
	Timestamp time.Time // when the connection was lost; zero when not reconnecting
}

// ManagerStats provides statistics about the Manager.
type ManagerStats struct {
	State             string
	Buckets           int
	OpenBuckets       int
	Subscriptions     int
	Pending           int
	Authenticated     bool
	ReconnectAttempts int
}

// BucketStats describes one bucket.
type BucketStats struct {
	ID      int
	State   string
	Pending int
	Active  int
}

// Lifecycle kinds reported to a WithLifecycle hook.
const (
	LifecycleOpened           = "opened"
	LifecycleAuthenticated    = "authenticated"
	LifecycleLost             = "lost"
	LifecycleReconnectAttempt = "reconnect_attempt"
	LifecycleReconnected      = "reconnected"
	LifecycleTerminated       = "terminated"
)

// Lifecycle is one transition of the private connection.
type Lifecycle struct {
	Kind     string
	At       time.Time
	Code     int           // close code for lost and terminated
	Reason   string        // close reason, or the fatal error for terminated
	Attempts int           // reconnect_attempt and reconnected
	Downtime time.Duration // since the connection was lost
}
