package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bfx-stream/internal/auth"
	"github.com/rickgao/bfx-stream/internal/events"
	"github.com/rickgao/bfx-stream/internal/model"
	"github.com/rickgao/bfx-stream/internal/router"
)

func testManagerConfig(url string, connections int) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.WSURL = url
	cfg.Connections = connections
	cfg.Backoff = fastBackoff
	cfg.Client.PingInterval = 0
	return cfg
}

// dialer hands out fake clients built by next and records them.
type dialer struct {
	mu      sync.Mutex
	next    func(n int) *fakeClient
	clients []*fakeClient
	dialed  chan *fakeClient
}

func newDialer(next func(n int) *fakeClient) *dialer {
	return &dialer{next: next, dialed: make(chan *fakeClient, 100)}
}

func (d *dialer) factory(ClientConfig, *slog.Logger) Client {
	d.mu.Lock()
	c := d.next(len(d.clients))
	d.clients = append(d.clients, c)
	d.mu.Unlock()

	d.dialed <- c
	return c
}

func (d *dialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

type runResult struct {
	err error
}

func startRun(m *Manager) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		done <- runResult{err: m.Run(context.Background())}
	}()
	return done
}

func awaitRun(t *testing.T, done <-chan runResult) error {
	t.Helper()

	select {
	case r := <-done:
		return r.err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestManager_EndToEnd(t *testing.T) {
	ex := newExchange(t)
	ex.afterSubscribe = func(conn *websocket.Conn, req map[string]any, chanID int64) {
		if req["channel"] == model.ChannelTicker {
			writeJSON(conn, []any{chanID, []float64{7616.5, 31.89, 7617.5, 43.36, -550.8, -0.0674, 7617.1, 8314.71, 8257.8, 7500}})
		}
	}
	m := NewManager(testManagerConfig(ex.url(), 2), quietLogger())
	defer m.Dispose()

	opened := make(chan struct{})
	if err := m.On(func(context.Context, ...any) error {
		close(opened)
		return nil
	}, EventOpen); err != nil {
		t.Fatalf("On: %v", err)
	}
	subscribed := collect[model.Subscription](m.bus, EventSubscribed, 0)
	tickers := collect[model.TradingPairTicker](m.bus, router.EventTradingTickerUpdate, 1)

	done := startRun(m)
	receive(t, opened)

	if got := m.State(); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}

	var ids []string
	for _, req := range []struct {
		channel string
		params  map[string]any
	}{
		{model.ChannelTicker, map[string]any{"symbol": "tBTCUSD"}},
		{model.ChannelTrades, map[string]any{"symbol": "tETHUSD"}},
		{model.ChannelBook, map[string]any{"symbol": "tBTCUSD", "prec": "P0", "freq": "F0", "len": "25"}},
	} {
		id, err := m.Subscribe(req.channel, req.params)
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", req.channel, err)
		}
		ids = append(ids, id)
	}
	for range ids {
		receive(t, subscribed)
	}

	stats := m.BucketStats()
	if stats[0].Active != 2 || stats[1].Active != 1 {
		t.Fatalf("active per bucket = %d/%d, want 2/1", stats[0].Active, stats[1].Active)
	}
	if s := m.Stats(); s.Subscriptions != 3 || s.Pending != 0 || s.OpenBuckets != 2 {
		t.Errorf("Stats = %+v", s)
	}

	if err := m.Unsubscribe(ids[0]); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	waitFor(t, "unsubscribe acknowledgment", func() bool { return m.BucketStats()[0].Active == 1 })
	if got := m.BucketStats()[1].Active; got != 1 {
		t.Errorf("bucket 1 active = %d, want 1", got)
	}

	subs := m.Subscriptions()
	for _, sub := range subs[0] {
		if sub.SubID == ids[0] {
			t.Errorf("unsubscribed %s still held by bucket 0", ids[0])
		}
	}

	if err := m.Unsubscribe(ids[0]); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe = %v, want ErrSubscriptionNotFound", err)
	}

	if ticker := receive(t, tickers); ticker.LastPrice != 7617.1 {
		t.Errorf("LastPrice = %v, want 7617.1", ticker.LastPrice)
	}

	if err := m.Close(CloseNormal, "test done"); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := awaitRun(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if got := m.State(); got != StateTerminated {
		t.Errorf("State = %v, want terminated", got)
	}
}

func TestManager_Placement(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 3), quietLogger())

	// Buckets are not connected: subscriptions stay pending and count as load.
	want := []int{0, 1, 2, 0, 1, 2, 0}
	for i, bucket := range want {
		before := m.BucketStats()[bucket].Pending
		if _, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tBTCUSD"}); err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
		if got := m.BucketStats()[bucket].Pending; got != before+1 {
			t.Fatalf("subscription %d not placed on bucket %d: %+v", i, bucket, m.BucketStats())
		}
	}

	// Lower the load of bucket 1; it wins over the earlier bucket 0.
	sub := m.Subscriptions()[1][0]
	if err := m.Unsubscribe(sub.SubID); err != nil {
		t.Fatalf("Unsubscribe pending: %v", err)
	}
	if _, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tETHUSD"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	stats := m.BucketStats()
	if stats[0].Pending != 3 || stats[1].Pending != 2 || stats[2].Pending != 2 {
		t.Errorf("pending per bucket = %d/%d/%d, want 3/2/2", stats[0].Pending, stats[1].Pending, stats[2].Pending)
	}
}

func TestManager_SubscribeIDs(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 2), quietLogger())

	id, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tBTCUSD", "subId": "mine"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if id != "mine" {
		t.Errorf("subId = %q, want mine", id)
	}

	// Held by bucket 0; the empty bucket 1 must still reject it.
	if _, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tETHUSD", "subId": "mine"}); !errors.Is(err, ErrDuplicateSubID) {
		t.Errorf("duplicate subId = %v, want ErrDuplicateSubID", err)
	}
	if _, err := m.Subscribe(model.ChannelTicker, map[string]any{"subId": 7}); err == nil {
		t.Error("expected error for non-string subId")
	}

	generated, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tETHUSD"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if generated == "" || generated == id {
		t.Errorf("generated subId = %q", generated)
	}
	if sub := m.Subscriptions()[1][0]; sub.Params["subId"] != nil {
		t.Errorf("subId leaked into params: %v", sub.Params)
	}
}

func TestManager_ZeroConnections(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger())

	if _, err := m.Subscribe(model.ChannelTicker, map[string]any{"symbol": "tBTCUSD"}); !errors.Is(err, ErrZeroConnections) {
		t.Fatalf("Subscribe = %v, want ErrZeroConnections", err)
	}

	stats := m.Stats()
	if stats.Buckets != 0 || stats.Subscriptions != 0 || stats.Pending != 0 {
		t.Errorf("Stats = %+v, want empty pool", stats)
	}
	if err := m.Unsubscribe("anything"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Unsubscribe = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestManager_NegativeConnections(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", -3), quietLogger())
	if got := len(m.BucketStats()); got != 0 {
		t.Errorf("buckets = %d, want 0", got)
	}
}

func TestManager_On(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger())
	defer m.Dispose()

	noop := func(context.Context, ...any) error { return nil }

	err := m.On(noop, EventOpen, "bogus")
	if !errors.Is(err, ErrEventNotSupported) {
		t.Fatalf("On = %v, want ErrEventNotSupported", err)
	}
	if got := m.bus.ListenerCount(EventOpen); got != 0 {
		t.Errorf("open listeners after rejected On = %d, want 0", got)
	}

	var order []string
	record := func(tag string) events.Handler {
		return func(context.Context, ...any) error {
			order = append(order, tag)
			return nil
		}
	}

	if err := m.On(record("open"), EventOpen); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := m.On(record("wss-a"), EventWSSError); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := m.On(record("wss-b"), EventWSSError); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := m.On(record("wallets"), router.EventWalletSnapshot); err != nil {
		t.Fatalf("On: %v", err)
	}

	for i := 0; i < 2; i++ {
		m.bus.Emit(EventOpen)
		m.bus.Emit(EventWSSError, 10000, "x")
		m.bus.Emit(router.EventWalletSnapshot, nil)
	}

	want := []string{"open", "wss-a", "wss-b", "wallets", "wss-a", "wss-b"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	names := make(map[string]bool)
	for _, name := range m.Events() {
		names[name] = true
	}
	for _, name := range []string{EventOpen, EventDisconnection, EventSubscribed, router.EventCandlesUpdate, router.EventOrderNew} {
		if !names[name] {
			t.Errorf("Events() missing %q", name)
		}
	}
}

func TestManager_OnAsyncFailureReachesErrorEvent(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger())
	defer m.Dispose()

	failures := collect[error](m.bus, events.ErrorEvent, 0)
	boom := errors.New("boom")
	if err := m.OnAsync(func(context.Context, ...any) error { return boom }, EventSubscribed); err != nil {
		t.Fatalf("OnAsync: %v", err)
	}

	m.bus.Emit(EventSubscribed, model.Subscription{})

	if err := receive(t, failures); !errors.Is(err, boom) {
		t.Errorf("error event = %v, want boom", err)
	}
}

func TestManager_ReconnectsAfterAbnormalClosure(t *testing.T) {
	var m *Manager
	var during Reconnection

	d := newDialer(func(n int) *fakeClient {
		if n == 1 {
			during = m.Reconnection()
		}
		return newFakeClient(nil)
	})

	cfg := testManagerConfig("ws://unused", 0)
	cfg.ReconnectTimeout = time.Minute
	m = NewManager(cfg, quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	done := startRun(m)

	first := receive(t, d.dialed)
	waitFor(t, "first open", func() bool { return m.State() == StateOpen })
	first.end(&websocket.CloseError{Code: CloseAbnormal})

	receive(t, d.dialed)
	waitFor(t, "reconnection", func() bool { return m.State() == StateOpen && !m.Reconnection().Status })

	if !during.Status || during.Attempts != 1 || during.Timestamp.IsZero() {
		t.Errorf("record while reconnecting = %+v, want status true, 1 attempt", during)
	}
	if got := m.Reconnection(); got != (Reconnection{}) {
		t.Errorf("record after reconnect = %+v, want zero value", got)
	}

	m.mu.Lock()
	timer, timedOut := m.timer, m.timedOut
	m.mu.Unlock()
	if timer != nil || timedOut {
		t.Errorf("timeout timer still armed after reconnect")
	}

	m.Close(CloseNormal, "")
	if err := awaitRun(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestManager_ServerRestartNoticeReconnects(t *testing.T) {
	d := newDialer(func(int) *fakeClient { return newFakeClient(nil) })
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	done := startRun(m)

	first := receive(t, d.dialed)
	first.push(`{"event":"info","code":20051,"msg":"Stop/Restart Websocket Server (please reconnect)"}`)

	receive(t, d.dialed)
	waitFor(t, "reconnection", func() bool { return m.State() == StateOpen })

	select {
	case <-first.Done():
	default:
		t.Error("old private socket not closed")
	}

	m.Close(CloseNormal, "")
	if err := awaitRun(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestManager_ReconnectionTimeout(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.bitfinex.test", IsNotFound: true}
	d := newDialer(func(n int) *fakeClient {
		if n == 0 {
			return newFakeClient(nil)
		}
		return newFakeClient(dnsErr)
	})

	cfg := testManagerConfig("ws://unused", 0)
	cfg.ReconnectTimeout = 50 * time.Millisecond
	m := NewManager(cfg, quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	var disconnections int
	var mu sync.Mutex
	m.On(func(context.Context, ...any) error {
		mu.Lock()
		disconnections++
		mu.Unlock()
		return nil
	}, EventDisconnection)

	done := startRun(m)

	first := receive(t, d.dialed)
	waitFor(t, "first open", func() bool { return m.State() == StateOpen })
	first.end(&websocket.CloseError{Code: CloseAbnormal})

	err := awaitRun(t, done)
	var timeoutErr *ReconnectionTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run = %v, want *ReconnectionTimeoutError", err)
	}
	if timeoutErr.Timeout != cfg.ReconnectTimeout {
		t.Errorf("Timeout = %v, want %v", timeoutErr.Timeout, cfg.ReconnectTimeout)
	}

	if got := m.Reconnection().Attempts; got < 2 {
		t.Errorf("Attempts = %d, want name resolution failures counted", got)
	}

	dials := d.count()
	time.Sleep(50 * time.Millisecond)
	if got := d.count(); got != dials {
		t.Errorf("dialed %d more times after timeout", got-dials)
	}

	mu.Lock()
	defer mu.Unlock()
	if disconnections != 1 {
		t.Errorf("disconnection fired %d times, want 1", disconnections)
	}
}

func TestManager_LifecycleHook(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.bitfinex.test", IsNotFound: true}
	d := newDialer(func(n int) *fakeClient {
		if n == 1 {
			return newFakeClient(dnsErr)
		}
		return newFakeClient(nil)
	})

	var mu sync.Mutex
	var seen []Lifecycle
	record := func(l Lifecycle) {
		mu.Lock()
		seen = append(seen, l)
		mu.Unlock()
	}

	cfg := testManagerConfig("ws://unused", 0)
	m := NewManager(cfg, quietLogger(), WithClientFactory(d.factory), WithLifecycle(record))
	defer m.Dispose()

	done := startRun(m)

	first := receive(t, d.dialed)
	waitFor(t, "first open", func() bool { return m.State() == StateOpen })
	first.end(&websocket.CloseError{Code: CloseAbnormal, Text: "gone"})

	receive(t, d.dialed)
	receive(t, d.dialed)
	waitFor(t, "reconnection", func() bool { return m.State() == StateOpen && !m.Reconnection().Status })

	m.Close(CloseNormal, "bye")
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var kinds []string
	for _, l := range seen {
		kinds = append(kinds, l.Kind)
		if l.At.IsZero() {
			t.Errorf("%s has no timestamp", l.Kind)
		}
	}
	want := []string{LifecycleOpened, LifecycleLost, LifecycleReconnectAttempt, LifecycleReconnected, LifecycleTerminated}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	if lost := seen[1]; lost.Code != CloseAbnormal || lost.Reason != "gone" {
		t.Errorf("lost = %+v, want code 1006 reason gone", lost)
	}
	if back := seen[3]; back.Attempts != 2 || back.Downtime <= 0 {
		t.Errorf("reconnected = %+v, want 2 attempts and downtime", back)
	}
	if last := seen[4]; last.Code != CloseNormal || last.Reason != "bye" {
		t.Errorf("terminated = %+v, want code 1000 reason bye", last)
	}
}

func TestManager_FatalErrors(t *testing.T) {
	creds := &auth.Credentials{APIKey: "key", APISecret: "secret"}

	tests := []struct {
		name      string
		creds     *auth.Credentials
		dialErr   error
		frames    []string
		closeWith *websocket.CloseError
		check     func(t *testing.T, err error)
	}{
		{
			name:    "dial failure on first connect",
			dialErr: errors.New("connection refused"),
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Fatal("Run = nil, want dial error")
				}
			},
		},
		{
			name:    "name resolution failure on first connect",
			dialErr: &net.DNSError{Err: "no such host", Name: "api.bitfinex.test"},
			check: func(t *testing.T, err error) {
				var dnsErr *net.DNSError
				if !errors.As(err, &dnsErr) {
					t.Fatalf("Run = %v, want *net.DNSError", err)
				}
			},
		},
		{
			name:   "outdated protocol version",
			frames: []string{`{"event":"info","version":3}`},
			check: func(t *testing.T, err error) {
				var outdated *OutdatedClientVersionError
				if !errors.As(err, &outdated) {
					t.Fatalf("Run = %v, want *OutdatedClientVersionError", err)
				}
				if outdated.Client != 2 || outdated.Server != 3 {
					t.Errorf("versions = %d/%d, want 2/3", outdated.Client, outdated.Server)
				}
			},
		},
		{
			name:   "authentication rejected",
			creds:  creds,
			frames: []string{`{"event":"auth","status":"FAILED","chanId":0,"code":10100,"msg":"apikey: invalid"}`},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrInvalidAuthenticationCredentials) {
					t.Fatalf("Run = %v, want ErrInvalidAuthenticationCredentials", err)
				}
			},
		},
		{
			name:      "unrecoverable close code",
			closeWith: &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "policy"},
			check: func(t *testing.T, err error) {
				var ce *websocket.CloseError
				if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
					t.Fatalf("Run = %v, want close 1008", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDialer(func(int) *fakeClient { return newFakeClient(tt.dialErr) })

			cfg := testManagerConfig("ws://unused", 0)
			cfg.Credentials = tt.creds
			m := NewManager(cfg, quietLogger(), WithClientFactory(d.factory))
			defer m.Dispose()

			done := startRun(m)

			client := receive(t, d.dialed)
			for _, f := range tt.frames {
				client.push(f)
			}
			if tt.closeWith != nil {
				waitFor(t, "open", func() bool { return m.State() == StateOpen })
				client.end(tt.closeWith)
			}

			tt.check(t, awaitRun(t, done))

			if got := d.count(); got != 1 {
				t.Errorf("dialed %d times, want no retry", got)
			}
			if got := m.State(); got != StateTerminated {
				t.Errorf("State = %v, want terminated", got)
			}
		})
	}
}

func TestManager_NormalServerCloseEndsRun(t *testing.T) {
	d := newDialer(func(int) *fakeClient { return newFakeClient(nil) })
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	type status struct {
		code   int
		reason string
	}
	disconnected := make(chan status, 1)
	m.On(func(_ context.Context, args ...any) error {
		disconnected <- status{args[0].(int), args[1].(string)}
		return nil
	}, EventDisconnection)

	done := startRun(m)
	client := receive(t, d.dialed)
	waitFor(t, "open", func() bool { return m.State() == StateOpen })
	client.end(&websocket.CloseError{Code: CloseGoingAway, Text: "server shutdown"})

	if err := awaitRun(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if got := receive(t, disconnected); got.code != CloseGoingAway || got.reason != "server shutdown" {
		t.Errorf("disconnection = %+v", got)
	}
}

func TestManager_AuthenticatedSession(t *testing.T) {
	d := newDialer(func(int) *fakeClient { return newFakeClient(nil) })

	cfg := testManagerConfig("ws://unused", 0)
	cfg.Credentials = &auth.Credentials{APIKey: "key", APISecret: "secret", Filters: []string{"trading"}}
	m := NewManager(cfg, quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	authenticated := collect[any](m.bus, EventAuthenticated, 0)
	wallets := collect[model.Wallet](m.bus, router.EventWalletUpdate, 0)
	wssErrors := collect[string](m.bus, EventWSSError, 1)

	if err := m.Notify(nil, "early", nil); !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("Notify before auth = %v, want ErrAuthenticationRequired", err)
	}

	done := startRun(m)
	client := receive(t, d.dialed)

	waitFor(t, "auth frame", func() bool { return len(client.sentFrames()) > 0 })
	var login map[string]any
	if err := json.Unmarshal([]byte(client.sentFrames()[0]), &login); err != nil {
		t.Fatalf("auth frame: %v", err)
	}
	if login["event"] != "auth" || login["apiKey"] != "key" {
		t.Errorf("auth frame = %v", login)
	}
	if m.State() != StateAuthenticating {
		t.Errorf("State = %v, want authenticating", m.State())
	}
	if err := m.Inputs().CancelOrder(1); !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("input before auth ack = %v, want ErrAuthenticationRequired", err)
	}

	client.push(`{"event":"auth","status":"OK","chanId":0,"userId":1234,"auth_id":"a-1","caps":{"orders":{"read":1,"write":1}}}`)
	receive(t, authenticated)
	if !m.Authenticated() || m.State() != StateLive {
		t.Fatalf("after auth: authenticated=%v state=%v", m.Authenticated(), m.State())
	}

	client.push(`[0,"hb"]`)
	client.push(`[0,"wu",["exchange","USD",100,0,90,"deposit",null]]`)
	if w := receive(t, wallets); w.Currency != "USD" || w.Balance != 100 {
		t.Errorf("wallet = %+v", w)
	}

	client.push(`{"event":"error","code":10300,"msg":"Subscription failed (generic)"}`)
	if msg := receive(t, wssErrors); msg != "Subscription failed (generic)" {
		t.Errorf("wss-error msg = %q", msg)
	}

	id := int64(42)
	if err := m.Notify(&id, "hello", map[string]any{"extra": true}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := m.Inputs().CancelOrder(1); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err := m.Inputs().Calc("margin_base", "wallet_exchange_USD"); err != nil {
		t.Fatalf("Calc: %v", err)
	}

	sent := client.sentFrames()
	want := []string{
		`[0,"n",42,{"extra":true,"info":"hello","type":"ucm-test"}]`,
		`[0,"oc",null,{"id":1}]`,
		`[0,"calc",null,[["margin_base"],["wallet_exchange_USD"]]]`,
	}
	if len(sent) != 1+len(want) {
		t.Fatalf("sent %d frames, want %d", len(sent), 1+len(want))
	}
	for i, w := range want {
		if sent[i+1] != w {
			t.Errorf("frame %d = %s, want %s", i, sent[i+1], w)
		}
	}

	m.Close(CloseNormal, "")
	if err := awaitRun(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if m.Authenticated() {
		t.Error("still authenticated after Close")
	}
}

func TestManager_ContextCancelIsDeliberate(t *testing.T) {
	ex := newExchange(t)
	m := NewManager(testManagerConfig(ex.url(), 1), quietLogger())
	defer m.Dispose()

	opened := make(chan struct{})
	m.On(func(context.Context, ...any) error {
		close(opened)
		return nil
	}, EventOpen)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	receive(t, opened)

	if err := m.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_ContextCancelWhileBucketsOpening(t *testing.T) {
	refused := errors.New("connection refused")
	d := newDialer(func(n int) *fakeClient {
		if n == 0 {
			return newFakeClient(nil)
		}
		return newFakeClient(refused)
	})
	m := NewManager(testManagerConfig("ws://unused", 1), quietLogger(), WithClientFactory(d.factory))
	defer m.Dispose()

	type status struct {
		code   int
		reason string
	}
	disconnected := make(chan status, 1)
	m.On(func(_ context.Context, args ...any) error {
		disconnected <- status{args[0].(int), args[1].(string)}
		return nil
	}, EventDisconnection)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	receive(t, d.dialed)
	waitFor(t, "private open", func() bool { return m.State() == StateOpen })
	waitFor(t, "bucket dial", func() bool { return d.count() > 1 })
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := receive(t, disconnected); got.code != CloseNormal || got.reason != "context canceled" {
		t.Errorf("disconnection = %+v, want {1000 context canceled}", got)
	}
}

func TestManager_EventsSorted(t *testing.T) {
	m := NewManager(testManagerConfig("ws://unused", 0), quietLogger())
	defer m.Dispose()

	first := m.Events()
	if !sort.StringsAreSorted(first) {
		t.Errorf("Events() not sorted: %v", first)
	}
	if second := m.Events(); !reflect.DeepEqual(first, second) {
		t.Errorf("Events() changed between calls: %v vs %v", first, second)
	}
}
