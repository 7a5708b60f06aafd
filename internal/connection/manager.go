package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/bfx-stream/internal/auth"
	"github.com/rickgao/bfx-stream/internal/backoff"
	"github.com/rickgao/bfx-stream/internal/events"
	"github.com/rickgao/bfx-stream/internal/metrics"
	"github.com/rickgao/bfx-stream/internal/model"
	"github.com/rickgao/bfx-stream/internal/router"
	"github.com/rickgao/bfx-stream/internal/wire"
)

// AuthenticatedHandler consumes frames of the private channel.
type AuthenticatedHandler interface {
	Handle(frame *wire.ChannelFrame) error
}

const rolePrivate = "private"

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the websocket client used for every socket.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithMetrics records connection activity on c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithLifecycle calls fn on every transition of the private connection. fn
// runs on the connection goroutine and must not block.
func WithLifecycle(fn func(Lifecycle)) Option {
	return func(m *Manager) {
		m.lifecycle = fn
	}
}

// Manager owns the bucket pool and the private connection, and runs the
// reconnection state machine of the private connection.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	bus       *events.Bus
	metrics   *metrics.Collectors
	lifecycle func(Lifecycle)
	newClient ClientFactory
	private   AuthenticatedHandler
	buckets   []*Bucket

	known map[string]bool
	once  map[string]bool

	mu            sync.Mutex
	state         State
	client        Client
	authenticated bool
	reconnection  Reconnection
	timer         *time.Timer
	timedOut      bool
	running       bool
	closed        bool
	cancel        context.CancelFunc
	closeCode     int
	closeReason   string
}

// NewManager creates a Manager and its buckets. Sockets are opened by Run.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Connections < 0 {
		cfg.Connections = 0
	}
	switch {
	case cfg.Connections > MaxConnections:
		logger.Warn("connection count above server limit, expect HTTP 429 on connect",
			"connections", cfg.Connections,
			"max_connections", MaxConnections,
		)
	case cfg.Connections == 0:
		logger.Info("no bucket connections configured, public subscriptions are disabled")
	}
	cfg.Client.URL = cfg.WSURL

	bus := events.New(logger)

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		newClient: NewClient,
		private:   router.NewAuthenticatedHandler(bus, logger),
		known:     make(map[string]bool),
		once:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	public := router.NewPublicHandler(bus, logger)
	m.buckets = make([]*Bucket, cfg.Connections)
	for i := range m.buckets {
		m.buckets[i] = newBucket(i, cfg.Client, cfg.Backoff, bus, public, m.newClient, m.metrics, logger)
	}

	for _, group := range [][]string{
		{EventOpen, EventAuthenticated, EventDisconnection, EventSubscribed, EventWSSError, events.ErrorEvent},
		router.PublicEvents,
		router.AuthenticatedEvents,
	} {
		for _, name := range group {
			m.known[name] = true
		}
	}
	for _, name := range append([]string{EventOpen, EventAuthenticated, EventDisconnection}, router.OnceEvents...) {
		m.once[name] = true
	}

	bus.On(events.ErrorEvent, m.logError)

	return m
}

func (m *Manager) logError(_ context.Context, args ...any) error {
	for _, arg := range args {
		err, ok := arg.(error)
		if !ok {
			continue
		}
		var lerr *events.ListenerError
		if errors.As(err, &lerr) {
			m.metrics.ListenerFailed()
		}
		m.logger.Error("event handling failed", "error", err)
	}
	return nil
}

// Run connects the pool and the private socket and keeps them connected
// until ctx is cancelled, Close is called or a fatal error occurs. A
// deliberate close returns nil. Run may be called once.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	err := m.loop(ctx)

	m.mu.Lock()
	m.state = StateTerminated
	m.authenticated = false
	m.stopTimerLocked()
	code, reason := m.closeCode, m.closeReason
	m.mu.Unlock()

	last := Lifecycle{Kind: LifecycleTerminated, Code: code, Reason: reason}
	if err != nil {
		m.metrics.Fatal(fatalReason(err))
		m.logger.Error("connection manager terminated", "error", err)
		last.Reason = err.Error()
	} else {
		m.logger.Info("connection manager stopped", "code", code, "reason", reason)
	}
	m.observe(last)

	m.bus.Emit(EventDisconnection, code, reason)
	return err
}

// errCanceled is the close status reported when Run's context ends.
var errCanceled = &websocket.CloseError{Code: CloseNormal, Text: "context canceled"}

func (m *Manager) loop(ctx context.Context) error {
	var policy *backoff.Policy

	for {
		if m.Reconnection().Status {
			timer := time.NewTimer(policy.Next())
			select {
			case <-ctx.Done():
				timer.Stop()
				m.recordClose(errCanceled)
				return nil
			case <-timer.C:
			}
		}

		if m.isTimedOut() {
			return &ReconnectionTimeoutError{Timeout: m.cfg.ReconnectTimeout}
		}

		err := m.session(ctx)
		if err == nil || ctx.Err() != nil || m.isClosed() {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) && ctx.Err() != nil {
				err = errCanceled
			}
			m.recordClose(err)
			return nil
		}

		var dnsErr *net.DNSError
		var closeErr *websocket.CloseError

		switch {
		case errors.As(err, &closeErr):
			m.recordClose(closeErr)

			switch closeErr.Code {
			case CloseAbnormal, CloseServiceRestart:
				m.beginReconnect(closeErr)
				policy = backoff.New(m.cfg.Backoff)
			case CloseNormal, CloseGoingAway:
				return nil
			default:
				return fmt.Errorf("private connection closed: %w", err)
			}

		case errors.As(err, &dnsErr) && m.Reconnection().Status:
			m.mu.Lock()
			rec := m.reconnection
			m.reconnection = Reconnection{Status: true, Attempts: rec.Attempts + 1, Timestamp: rec.Timestamp}
			m.mu.Unlock()

			m.metrics.ReconnectAttempted()
			m.observe(Lifecycle{Kind: LifecycleReconnectAttempt, Attempts: rec.Attempts, Downtime: time.Since(rec.Timestamp)})
			m.logger.Warn("reconnection attempt failed",
				"attempts", rec.Attempts,
				"next_attempt_in", policy.Peek(),
				"downtime", time.Since(rec.Timestamp),
				"error", err,
			)

		default:
			return err
		}
	}
}

// beginReconnect starts a reconnection episode.
func (m *Manager) beginReconnect(closeErr *websocket.CloseError) {
	if closeErr.Code == CloseServiceRestart {
		m.logger.Info("server is restarting, reconnecting")
	} else {
		m.logger.Error("connection lost without close frame, reconnecting", "reason", closeErr.Text)
	}

	m.mu.Lock()
	m.reconnection = Reconnection{Status: true, Attempts: 1, Timestamp: time.Now()}
	m.state = StateReconnecting
	m.authenticated = false
	m.stopTimerLocked()
	m.timedOut = false
	if timeout := m.cfg.ReconnectTimeout; timeout > 0 {
		var t *time.Timer
		t = time.AfterFunc(timeout, func() {
			m.mu.Lock()
			if m.timer == t {
				m.timedOut = true
			}
			m.mu.Unlock()
		})
		m.timer = t
	}
	m.mu.Unlock()

	m.metrics.ReconnectStarted()
	m.observe(Lifecycle{Kind: LifecycleLost, Code: closeErr.Code, Reason: closeErr.Text})
}

// session runs one private socket from dial to close, with the bucket pool
// connecting alongside it. Bucket tasks are cancelled when it returns.
func (m *Manager) session(ctx context.Context) error {
	m.setState(StateConnecting)

	client := m.newClient(m.cfg.Client, m.logger.With("socket", rolePrivate))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect private socket: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close(CloseNormal, "")
		return nil
	}
	m.client = client
	m.state = StateOpen
	rec := m.reconnection
	if rec.Status {
		m.reconnection = Reconnection{}
		m.stopTimerLocked()
		m.timedOut = false
	}
	m.mu.Unlock()

	if rec.Status {
		downtime := time.Since(rec.Timestamp)
		m.metrics.Reconnected(downtime)
		m.logger.Info("reconnection successful",
			"attempts", rec.Attempts,
			"downtime", downtime,
			"lost_at", rec.Timestamp,
		)
		m.observe(Lifecycle{Kind: LifecycleReconnected, Attempts: rec.Attempts, Downtime: downtime})
	} else {
		m.observe(Lifecycle{Kind: LifecycleOpened})
	}

	m.metrics.ConnectionOpened(rolePrivate)
	defer func() {
		client.Close(CloseNormal, "")

		m.mu.Lock()
		if m.client == client {
			m.client = nil
		}
		m.authenticated = false
		m.mu.Unlock()

		m.metrics.ConnectionClosed(rolePrivate)
	}()

	stop := context.AfterFunc(ctx, func() {
		client.Close(errCanceled.Code, errCanceled.Text)
	})
	defer stop()

	bctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		cancel()
		g.Wait()
	}()

	opened := make(chan struct{}, len(m.buckets))
	for _, b := range m.buckets {
		b := b
		var once sync.Once
		g.Go(func() error {
			return b.Connect(bctx, func() {
				once.Do(func() { opened <- struct{}{} })
			})
		})
	}

	for range m.buckets {
		select {
		case <-opened:
		case <-client.Done():
			return m.consume(client)
		case <-ctx.Done():
			client.Close(errCanceled.Code, errCanceled.Text)
			return m.consume(client)
		}
	}

	m.logger.Info("connections open", "buckets", len(m.buckets))
	m.bus.Emit(EventOpen)

	if m.cfg.Credentials != nil {
		m.setState(StateAuthenticating)
		if err := m.authenticate(client); err != nil {
			return err
		}
	}

	return m.consume(client)
}

// authenticate sends the signed login frame. The result arrives on the
// private socket.
func (m *Manager) authenticate(client Client) error {
	data, err := m.cfg.Credentials.Frame(auth.Nonce(time.Now()))
	if err != nil {
		return fmt.Errorf("build auth frame: %w", err)
	}
	if err := client.Send(data); err != nil {
		m.logger.Warn("failed to send auth frame", "error", err)
	}
	return nil
}

func (m *Manager) consume(client Client) error {
	for msg := range client.Messages() {
		if err := m.route(msg); err != nil {
			return err
		}
	}
	return client.Err()
}

func (m *Manager) route(msg TimestampedMessage) error {
	frame, err := wire.Decode(msg.Data)
	if err != nil {
		err = fmt.Errorf("decode private frame: %w", err)
		if !m.bus.Emit(events.ErrorEvent, err) {
			return err
		}
		return nil
	}

	switch f := frame.(type) {
	case *wire.InfoFrame:
		m.metrics.FrameReceived("info")

		if f.HasVersion && f.Version != wire.ProtocolVersion {
			return &OutdatedClientVersionError{Client: wire.ProtocolVersion, Server: f.Version}
		}
		if f.Platform == 0 {
			m.logger.Warn("platform is in maintenance mode")
		}
		if f.Code == wire.CodeServerRestart {
			return &websocket.CloseError{
				Code: CloseServiceRestart,
				Text: "Stop/Restart WebSocket Server (please reconnect)",
			}
		}

	case *wire.AuthFrame:
		m.metrics.FrameReceived("auth")

		if !f.OK() {
			return fmt.Errorf("%w: %s (code %d)", ErrInvalidAuthenticationCredentials, f.Msg, f.Code)
		}

		m.mu.Lock()
		m.authenticated = true
		m.state = StateLive
		m.mu.Unlock()

		m.logger.Info("authenticated", "user_id", f.UserID)
		m.observe(Lifecycle{Kind: LifecycleAuthenticated})
		m.bus.Emit(EventAuthenticated, f)

	case *wire.ErrorFrame:
		m.metrics.FrameReceived("error")
		m.bus.Emit(EventWSSError, f.Code, f.Msg)

	case *wire.HeartbeatFrame:
		m.metrics.FrameReceived("heartbeat")

	case *wire.ChannelFrame:
		m.metrics.FrameReceived("channel")

		if !f.Private() {
			m.logger.Debug("frame for public channel on private socket", "chan_id", f.ChanID)
			return nil
		}
		if err := m.private.Handle(f); err != nil {
			err = fmt.Errorf("private channel %q: %w", f.Event, err)
			if !m.bus.Emit(events.ErrorEvent, err) {
				return err
			}
		}

	default:
		m.metrics.FrameReceived("other")
	}

	return nil
}

// Subscribe places a subscription on the least-loaded bucket, ties going to
// the lowest index. params may carry a caller chosen "subId"; otherwise a
// random one is allocated. The subscription id is returned.
func (m *Manager) Subscribe(channel string, params map[string]any) (string, error) {
	if len(m.buckets) == 0 {
		return "", ErrZeroConnections
	}

	rest := make(map[string]any, len(params))
	subID := ""
	for k, v := range params {
		if k == "subId" {
			s, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("subId must be a string, got %T", v)
			}
			subID = s
			continue
		}
		rest[k] = v
	}

	if subID == "" {
		subID = uuid.NewString()
	} else {
		for _, b := range m.buckets {
			if b.Holds(subID) {
				return "", fmt.Errorf("%w: %s", ErrDuplicateSubID, subID)
			}
		}
	}

	target := m.buckets[0]
	load := target.Load()
	for _, b := range m.buckets[1:] {
		if l := b.Load(); l < load {
			target, load = b, l
		}
	}

	if err := target.Subscribe(channel, subID, rest); err != nil {
		return "", err
	}

	m.logger.Debug("subscription placed",
		"channel", channel,
		"sub_id", subID,
		"bucket", target.ID(),
	)
	m.updateSubscriptionGauge()

	return subID, nil
}

// Unsubscribe removes the subscription with the given id. The first bucket
// resolving the id to a channel id sends the unsubscribe; a subscription not
// yet acknowledged is dropped locally.
func (m *Manager) Unsubscribe(subID string) error {
	defer m.updateSubscriptionGauge()

	for _, b := range m.buckets {
		if chanID, ok := b.GetChannelID(subID); ok {
			return b.Unsubscribe(chanID)
		}
	}
	for _, b := range m.buckets {
		if b.Discard(subID) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
}

// Notify sends a notification to the authenticated account.
func (m *Manager) Notify(id *int64, info any, extra map[string]any) error {
	client, err := m.authenticatedClient()
	if err != nil {
		return err
	}
	data, err := wire.Notify(id, info, extra)
	if err != nil {
		return err
	}
	return client.Send(data)
}

// Input sends a user input (order, offer, calc...) on the private channel.
func (m *Manager) Input(event string, data any) error {
	client, err := m.authenticatedClient()
	if err != nil {
		return err
	}
	frame, err := wire.Input(event, nil, data)
	if err != nil {
		return err
	}
	return client.Send(frame)
}

func (m *Manager) authenticatedClient() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.authenticated || m.client == nil {
		return nil, ErrAuthenticationRequired
	}
	return m.client, nil
}

// Close closes every bucket and the private socket with code and reason and
// stops Run.
func (m *Manager) Close(code int, reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.closeCode = code
	m.closeReason = reason
	client := m.client
	cancel := m.cancel
	m.mu.Unlock()

	var errs []error
	for _, b := range m.buckets {
		if err := b.Close(code, reason); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %d: %w", b.ID(), err))
		}
	}
	if client != nil {
		if err := client.Close(code, reason); err != nil {
			errs = append(errs, fmt.Errorf("close private socket: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}

	return errors.Join(errs...)
}

// On registers h for every named event. One-shot events (open,
// authenticated, disconnection and snapshots) fire h at most once. Unknown
// names are rejected before anything is registered.
func (m *Manager) On(h events.Handler, names ...string) error {
	return m.register(h, false, names)
}

// OnAsync is like On but runs h on its own goroutine. Failures are reported
// on the "error" event.
func (m *Manager) OnAsync(h events.Handler, names ...string) error {
	return m.register(h, true, names)
}

func (m *Manager) register(h events.Handler, async bool, names []string) error {
	for _, name := range names {
		if !m.known[name] {
			return fmt.Errorf("%w: %q", ErrEventNotSupported, name)
		}
	}

	for _, name := range names {
		var opts []events.Option
		if m.once[name] {
			opts = append(opts, events.Once())
		}
		if async {
			opts = append(opts, events.Async())
		}
		m.bus.On(name, h, opts...)
	}
	return nil
}

// Events returns the names accepted by On.
func (m *Manager) Events() []string {
	names := make([]string, 0, len(m.known))
	for name := range m.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispose releases the event bus. Detached listeners are cancelled and
// waited for.
func (m *Manager) Dispose() {
	m.bus.Close()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticated reports whether the private socket is authenticated.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Reconnection returns the current reconnection record.
func (m *Manager) Reconnection() Reconnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnection
}

// Subscriptions returns the subscriptions of every bucket, in pool order.
func (m *Manager) Subscriptions() [][]model.Subscription {
	out := make([][]model.Subscription, len(m.buckets))
	for i, b := range m.buckets {
		out[i] = b.Subscriptions()
	}
	return out
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:             m.state.String(),
		Buckets:           len(m.buckets),
		Authenticated:     m.authenticated,
		ReconnectAttempts: m.reconnection.Attempts,
	}
	m.mu.Unlock()

	for _, b := range m.buckets {
		bs := b.Stats()
		if b.State() == BucketOpen {
			stats.OpenBuckets++
		}
		stats.Subscriptions += bs.Active
		stats.Pending += bs.Pending
	}
	return stats
}

// BucketStats returns per-bucket statistics.
func (m *Manager) BucketStats() []BucketStats {
	out := make([]BucketStats, len(m.buckets))
	for i, b := range m.buckets {
		out[i] = b.Stats()
	}
	return out
}

func (m *Manager) updateSubscriptionGauge() {
	var pending, active int
	for _, b := range m.buckets {
		bs := b.Stats()
		pending += bs.Pending
		active += bs.Active
	}
	m.metrics.SetSubscriptions(pending, active)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) isTimedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timedOut
}

// recordClose keeps the close status reported by the disconnection event.
// A status set by Close wins.
func (m *Manager) recordClose(err error) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return
	}

	m.mu.Lock()
	if !m.closed {
		m.closeCode = ce.Code
		m.closeReason = ce.Text
	}
	m.mu.Unlock()
}

func (m *Manager) observe(l Lifecycle) {
	if m.lifecycle == nil {
		return
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	m.lifecycle(l)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func fatalReason(err error) string {
	var (
		outdated *OutdatedClientVersionError
		timeout  *ReconnectionTimeoutError
		closeErr *websocket.CloseError
	)
	switch {
	case errors.As(err, &outdated):
		return "outdated_version"
	case errors.Is(err, ErrInvalidAuthenticationCredentials):
		return "auth_rejected"
	case errors.As(err, &timeout):
		return "reconnect_timeout"
	case errors.As(err, &closeErr):
		return fmt.Sprintf("close_%d", closeErr.Code)
	default:
		return "transport"
	}
}
