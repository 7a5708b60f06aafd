package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket connection. A Client is used for one
// connection attempt only; reconnecting means building a new one.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close sends a close frame with code and reason and releases the socket.
	Close(code int, reason string) error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of ALL raw frames, in arrival order. It is
	// closed once the connection ends.
	Messages() <-chan TimestampedMessage

	// Done is closed once the connection ends.
	Done() <-chan struct{}

	// Err returns a *websocket.CloseError describing why the connection
	// ended, or nil while it is still open.
	Err() error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory builds the Client for one connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	done     chan struct{}
	stop     chan struct{}
	finished sync.Once

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.RWMutex
	started     bool
	connected   bool
	closed      bool
	stale       bool
	lastFrameAt time.Time
	localCode   int
	localReason string
	err         *websocket.CloseError
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.started = true
	c.connected = true
	c.lastFrameAt = time.Now()
	c.mu.Unlock()

	// Server pings are answered; any control frame counts as liveness.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(conn)
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.localCode = code
	c.localReason = reason
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	close(c.stop)

	if !started {
		c.finish(&websocket.CloseError{Code: code, Text: reason})
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Done returns a channel closed when the connection ends.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err == nil {
		return nil
	}
	return c.err
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastFrameAt = time.Now()
	c.mu.Unlock()
}

// finish records the terminal error and releases waiters. Runs once.
func (c *client) finish(err *websocket.CloseError) {
	c.finished.Do(func() {
		c.mu.Lock()
		c.err = err
		c.connected = false
		c.mu.Unlock()

		close(c.messages)
		close(c.done)
	})
}

// closeError maps a read error to the close status the connection ended with.
// Local closes report the code passed to Close; failures without a close
// frame report 1006.
func (c *client) closeError(err error) *websocket.CloseError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return &websocket.CloseError{Code: c.localCode, Text: c.localReason}
	}
	if c.stale {
		return &websocket.CloseError{Code: CloseAbnormal, Text: ErrStaleConnection.Error()}
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce
	}
	return &websocket.CloseError{Code: CloseAbnormal, Text: err.Error()}
}

// readLoop reads messages from the WebSocket and sends them to the messages channel.
func (c *client) readLoop(conn *websocket.Conn) {
	var err error
	defer func() {
		c.finish(c.closeError(err))
	}()

	for {
		var data []byte
		_, data, err = conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			return
		}

		c.mu.Lock()
		c.lastFrameAt = receivedAt
		c.mu.Unlock()

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.stop:
			err = ErrAlreadyClosed
			return
		}
	}
}

// heartbeatLoop pings the server and closes the socket when nothing has
// been received for PingTimeout.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			timeout := c.cfg.WriteTimeout
			if timeout <= 0 {
				timeout = time.Second
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(timeout)); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastFrame := c.lastFrameAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastFrame) > c.cfg.PingTimeout {
				c.logger.Warn("no frames received, connection stale",
					"last_frame", lastFrame,
					"timeout", c.cfg.PingTimeout,
				)

				c.mu.Lock()
				c.stale = true
				c.connected = false
				c.mu.Unlock()

				conn.Close()
				return
			}
		}
	}
}
