package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeClient is an in-memory Client. Frames pushed with push are delivered
// on Messages, up to 100 unread; end finishes the connection with a close
// status.
type fakeClient struct {
	dialErr  error
	messages chan TimestampedMessage
	done     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	connected bool
	ended     bool
	err       error
	sent      [][]byte
}

func newFakeClient(dialErr error) *fakeClient {
	return &fakeClient{
		dialErr:  dialErr,
		messages: make(chan TimestampedMessage, 100),
		done:     make(chan struct{}),
	}
}

func (c *fakeClient) Connect(context.Context) error {
	if c.dialErr != nil {
		return c.dialErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Close(code int, reason string) error {
	c.end(&websocket.CloseError{Code: code, Text: reason})
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Done() <-chan struct{}               { return c.done }

func (c *fakeClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) push(raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.messages <- TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()}
}

func (c *fakeClient) end(err *websocket.CloseError) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.connected = false
		c.ended = true
		c.err = err
		close(c.messages)
		close(c.done)
	})
}

func (c *fakeClient) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

// exchange is a mock websocket gateway. Every socket gets an info frame on
// connect; subscribe, unsubscribe and auth requests are acknowledged.
// authStatus overrides the "OK" auth answer, onSubscribe replaces the
// subscribe acknowledgment and afterSubscribe runs after it.
type exchange struct {
	server *httptest.Server
	chanID atomic.Int64

	authStatus     string
	onSubscribe    func(conn *websocket.Conn, req map[string]any, chanID int64)
	afterSubscribe func(conn *websocket.Conn, req map[string]any, chanID int64)

	mu         sync.Mutex
	conns      []*websocket.Conn
	subscribes []map[string]any
	received   []map[string]any
}

func newExchange(t *testing.T) *exchange {
	t.Helper()

	ex := &exchange{}
	ex.server = mockWSServer(t, ex.serve)
	t.Cleanup(ex.server.Close)
	return ex
}

func (ex *exchange) url() string {
	return wsURL(ex.server)
}

func (ex *exchange) serve(conn *websocket.Conn) {
	ex.mu.Lock()
	ex.conns = append(ex.conns, conn)
	ex.mu.Unlock()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"info","version":2,"serverId":"test","platform":{"status":1}}`))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		ex.mu.Lock()
		ex.received = append(ex.received, req)
		if req["event"] == "subscribe" {
			ex.subscribes = append(ex.subscribes, req)
		}
		ex.mu.Unlock()

		switch req["event"] {
		case "subscribe":
			chanID := ex.chanID.Add(1)
			if ex.onSubscribe != nil {
				ex.onSubscribe(conn, req, chanID)
				continue
			}
			ack := map[string]any{}
			for k, v := range req {
				ack[k] = v
			}
			ack["event"] = "subscribed"
			ack["chanId"] = chanID
			writeJSON(conn, ack)
			if ex.afterSubscribe != nil {
				ex.afterSubscribe(conn, req, chanID)
			}

		case "unsubscribe":
			writeJSON(conn, map[string]any{"event": "unsubscribed", "status": "OK", "chanId": req["chanId"]})

		case "auth":
			status := ex.authStatus
			if status == "" {
				status = "OK"
			}
			resp := map[string]any{"event": "auth", "status": status, "chanId": 0}
			if status == "OK" {
				resp["userId"] = 1234
			} else {
				resp["code"] = 10100
				resp["msg"] = "apikey: invalid"
			}
			writeJSON(conn, resp)
		}
	}
}

// dropAll closes every socket without a close frame.
func (ex *exchange) dropAll() {
	ex.mu.Lock()
	conns := ex.conns
	ex.conns = nil
	ex.mu.Unlock()

	for _, c := range conns {
		c.UnderlyingConn().Close()
	}
}

func (ex *exchange) subscribeRequests() []map[string]any {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return append([]map[string]any(nil), ex.subscribes...)
}

func (ex *exchange) requests(event string) []map[string]any {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var out []map[string]any
	for _, r := range ex.received {
		if r["event"] == event {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal: %v", err))
	}
	conn.WriteMessage(websocket.TextMessage, data)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
