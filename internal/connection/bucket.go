package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/bfx-stream/internal/backoff"
	"github.com/rickgao/bfx-stream/internal/events"
	"github.com/rickgao/bfx-stream/internal/metrics"
	"github.com/rickgao/bfx-stream/internal/model"
	"github.com/rickgao/bfx-stream/internal/wire"
)

// PublicHandler consumes data frames of subscribed channels.
type PublicHandler interface {
	Handle(sub model.Subscription, frame *wire.ChannelFrame) error
}

const roleBucket = "bucket"

// errServerRestart ends a bucket session when the server announces a restart.
var errServerRestart = errors.New("server restart announced")

// entry is a subscription owned by a bucket. seq keeps replay in issue order.
type entry struct {
	sub model.Subscription
	seq uint64
}

// Bucket owns one websocket and multiplexes channel subscriptions over it.
// Pending subscriptions are keyed by subscription id, active ones by the
// channel id the server assigned.
type Bucket struct {
	id        int
	cfg       ClientConfig
	policy    backoff.Config
	logger    *slog.Logger
	bus       *events.Bus
	handler   PublicHandler
	newClient ClientFactory
	metrics   *metrics.Collectors

	mu      sync.Mutex
	state   BucketState
	client  Client
	pending map[string]*entry
	active  map[int64]*entry
	seq     uint64
	closed  bool
	done    chan struct{}
}

func newBucket(id int, cfg ClientConfig, policy backoff.Config, bus *events.Bus, handler PublicHandler, newClient ClientFactory, m *metrics.Collectors, logger *slog.Logger) *Bucket {
	return &Bucket{
		id:        id,
		cfg:       cfg,
		policy:    policy,
		logger:    logger.With("bucket", id),
		bus:       bus,
		handler:   handler,
		newClient: newClient,
		metrics:   m,
		pending:   make(map[string]*entry),
		active:    make(map[int64]*entry),
		done:      make(chan struct{}),
	}
}

// ID returns the bucket's position in the pool.
func (b *Bucket) ID() int {
	return b.id
}

// Connect keeps the bucket socket open until ctx is cancelled or Close is
// called. onOpen runs after every successful open, once the subscription set
// has been replayed. Transient failures are retried with a fresh backoff
// policy per episode and never returned.
func (b *Bucket) Connect(ctx context.Context, onOpen func()) error {
	var policy *backoff.Policy

	for {
		opened, err := b.session(ctx, onOpen)

		if b.isClosed() {
			return nil
		}
		if ctx.Err() != nil {
			b.setState(BucketDisconnected)
			return ctx.Err()
		}

		if opened || policy == nil {
			policy = backoff.New(b.policy)
		}
		delay := policy.Next()

		b.setState(BucketReconnecting)
		b.logger.Warn("bucket connection lost, reconnecting",
			"error", err,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.setState(BucketDisconnected)
			return ctx.Err()
		case <-b.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one socket from dial to teardown. It reports whether the
// socket opened.
func (b *Bucket) session(ctx context.Context, onOpen func()) (bool, error) {
	b.setState(BucketConnecting)

	client := b.newClient(b.cfg, b.logger)
	if err := client.Connect(ctx); err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		client.Close(CloseNormal, "")
		return false, nil
	}
	b.client = client
	b.state = BucketOpen
	replay := sortedEntries(b.pending)
	b.mu.Unlock()

	b.metrics.ConnectionOpened(roleBucket)
	defer b.teardown(client)

	stop := context.AfterFunc(ctx, func() {
		client.Close(CloseNormal, "context canceled")
	})
	defer stop()

	for _, e := range replay {
		if err := b.sendSubscribe(client, e.sub); err != nil {
			return true, err
		}
	}
	if len(replay) > 0 {
		b.logger.Info("replayed subscriptions", "count", len(replay))
	}

	onOpen()

	for msg := range client.Messages() {
		if err := b.handle(client, msg); err != nil {
			return true, err
		}
	}

	return true, client.Err()
}

// teardown releases the socket and demotes active subscriptions to pending
// so the next open re-issues them.
func (b *Bucket) teardown(client Client) {
	client.Close(CloseNormal, "")

	b.mu.Lock()
	for chanID, e := range b.active {
		e.sub.ChanID = 0
		b.pending[e.sub.SubID] = e
		delete(b.active, chanID)
	}
	b.client = nil
	if !b.closed {
		b.state = BucketDisconnected
	}
	b.mu.Unlock()

	b.metrics.ConnectionClosed(roleBucket)
}

func (b *Bucket) handle(client Client, msg TimestampedMessage) error {
	frame, err := wire.Decode(msg.Data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch f := frame.(type) {
	case *wire.HeartbeatFrame:
		b.metrics.FrameReceived("heartbeat")

	case *wire.ChannelFrame:
		b.metrics.FrameReceived("channel")

		b.mu.Lock()
		e, ok := b.active[f.ChanID]
		var sub model.Subscription
		if ok {
			sub = e.sub
		}
		b.mu.Unlock()

		if !ok {
			b.logger.Debug("frame for unknown channel", "chan_id", f.ChanID)
			return nil
		}

		if err := b.handler.Handle(sub, f); err != nil {
			err = fmt.Errorf("bucket %d channel %s: %w", b.id, sub.Channel, err)
			if !b.bus.Emit(events.ErrorEvent, err) {
				return err
			}
		}

	case *wire.SubscribedFrame:
		b.metrics.FrameReceived("subscribed")
		return b.subscribed(client, f)

	case *wire.UnsubscribedFrame:
		b.metrics.FrameReceived("unsubscribed")

		b.mu.Lock()
		delete(b.active, f.ChanID)
		b.mu.Unlock()

		b.logger.Debug("unsubscribed", "chan_id", f.ChanID, "status", f.Status)

	case *wire.ErrorFrame:
		b.metrics.FrameReceived("error")

		if f.SubID != "" {
			b.mu.Lock()
			delete(b.pending, f.SubID)
			b.mu.Unlock()
		}

		b.logger.Warn("server error", "code", f.Code, "msg", f.Msg, "sub_id", f.SubID)
		b.bus.Emit(EventWSSError, f.Code, f.Msg)

	case *wire.InfoFrame:
		b.metrics.FrameReceived("info")

		if f.HasVersion && f.Version != wire.ProtocolVersion {
			b.logger.Warn("server protocol version mismatch", "client", wire.ProtocolVersion, "server", f.Version)
		}
		if f.Code == wire.CodeServerRestart {
			return errServerRestart
		}

	default:
		b.metrics.FrameReceived("other")
		b.logger.Debug("ignoring frame", "type", fmt.Sprintf("%T", f))
	}

	return nil
}

func (b *Bucket) subscribed(client Client, f *wire.SubscribedFrame) error {
	b.mu.Lock()
	e, ok := b.pending[f.SubID]
	if ok {
		delete(b.pending, f.SubID)
		e.sub.ChanID = f.ChanID
		params := make(map[string]any, len(e.sub.Params)+len(f.Fields))
		for k, v := range e.sub.Params {
			params[k] = v
		}
		for k, v := range f.Fields {
			params[k] = v
		}
		e.sub.Params = params
		b.active[f.ChanID] = e
	}
	b.mu.Unlock()

	if !ok {
		// Unsubscribed before the acknowledgment arrived.
		b.logger.Debug("dropping orphaned subscription", "sub_id", f.SubID, "chan_id", f.ChanID)
		data, err := wire.Unsubscribe(f.ChanID)
		if err != nil {
			return err
		}
		if err := client.Send(data); err != nil {
			return fmt.Errorf("send unsubscribe: %w", err)
		}
		return nil
	}

	b.logger.Debug("subscribed",
		"channel", f.Channel,
		"sub_id", f.SubID,
		"chan_id", f.ChanID,
	)

	b.bus.Emit(EventSubscribed, e.sub)
	return nil
}

// Subscribe records a pending subscription and sends the subscribe frame if
// the socket is open. While the socket is down the frame is sent on the
// next open.
func (b *Bucket) Subscribe(channel, subID string, params map[string]any) error {
	sub := model.Subscription{SubID: subID, Channel: channel, Params: make(map[string]any, len(params))}
	for k, v := range params {
		sub.Params[k] = v
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrAlreadyClosed
	}
	if b.holdsLocked(subID) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubID, subID)
	}
	b.seq++
	b.pending[subID] = &entry{sub: sub, seq: b.seq}
	client := b.client
	b.mu.Unlock()

	if client == nil {
		b.logger.Debug("socket down, subscription queued", "sub_id", subID, "channel", channel)
		return nil
	}

	if err := b.sendSubscribe(client, sub); err != nil {
		// The session is ending; the next open replays the subscription.
		b.logger.Warn("subscribe deferred to next open", "sub_id", subID, "error", err)
	}
	return nil
}

func (b *Bucket) sendSubscribe(client Client, sub model.Subscription) error {
	data, err := wire.Subscribe(sub.Channel, sub.SubID, sub.Params)
	if err != nil {
		return err
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}

// Unsubscribe sends the unsubscribe frame for an active channel. The
// subscription is removed when the server acknowledges it.
func (b *Bucket) Unsubscribe(chanID int64) error {
	b.mu.Lock()
	_, ok := b.active[chanID]
	client := b.client
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: channel %d", ErrSubscriptionNotFound, chanID)
	}
	if client == nil {
		return ErrNotConnected
	}

	data, err := wire.Unsubscribe(chanID)
	if err != nil {
		return err
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	return nil
}

// Discard drops a subscription that has not been acknowledged yet. It
// reports whether the bucket held it. A late acknowledgment is answered
// with an unsubscribe.
func (b *Bucket) Discard(subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[subID]; !ok {
		return false
	}
	delete(b.pending, subID)
	return true
}

// GetChannelID returns the channel id of an active subscription.
func (b *Bucket) GetChannelID(subID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for chanID, e := range b.active {
		if e.sub.SubID == subID {
			return chanID, true
		}
	}
	return 0, false
}

// Holds reports whether subID is pending or active on this bucket.
func (b *Bucket) Holds(subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holdsLocked(subID)
}

func (b *Bucket) holdsLocked(subID string) bool {
	if _, ok := b.pending[subID]; ok {
		return true
	}
	for _, e := range b.active {
		if e.sub.SubID == subID {
			return true
		}
	}
	return false
}

// Load is the number of pending plus active subscriptions.
func (b *Bucket) Load() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) + len(b.active)
}

// Subscriptions returns pending and active subscriptions in issue order.
func (b *Bucket) Subscriptions() []model.Subscription {
	b.mu.Lock()
	entries := sortedEntries(b.pending)
	for _, e := range b.active {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	subs := make([]model.Subscription, len(entries))
	for i, e := range entries {
		subs[i] = e.sub
	}
	return subs
}

// State returns the socket state.
func (b *Bucket) State() BucketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bucket) Stats() BucketStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BucketStats{
		ID:      b.id,
		State:   b.state.String(),
		Pending: len(b.pending),
		Active:  len(b.active),
	}
}

// Close tears the bucket down for good. A running Connect returns once the
// socket is released.
func (b *Bucket) Close(code int, reason string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.state = BucketClosed
	client := b.client
	close(b.done)
	b.mu.Unlock()

	if client != nil {
		return client.Close(code, reason)
	}
	return nil
}

func (b *Bucket) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bucket) setState(s BucketState) {
	b.mu.Lock()
	if !b.closed {
		b.state = s
	}
	b.mu.Unlock()
}

func sortedEntries(m map[string]*entry) []*entry {
	out := make([]*entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
