package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/bfx-stream/internal/config"
	"github.com/rickgao/bfx-stream/internal/events"
	"github.com/rickgao/bfx-stream/internal/metrics"
	"github.com/rickgao/bfx-stream/internal/queue"
)

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Source registers listeners. *connection.Manager satisfies it.
type Source interface {
	On(h events.Handler, names ...string) error
}

// Config selects what is relayed and where.
type Config struct {
	Prefix     string
	Events     []string
	BufferSize int
}

// Envelope is the JSON document published for every event.
type Envelope struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Args  []any     `json:"args"`
}

// Stats tracks publisher activity.
type Stats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

type message struct {
	channel string
	payload []byte
}

// Relay publishes bus events to Redis.
type Relay struct {
	cfg     Config
	pub     Publisher
	logger  *slog.Logger
	metrics *metrics.Collectors
	input   *queue.Queue[message]

	mu    sync.Mutex
	stats Stats

	done chan struct{}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RelayConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// New creates a Relay. Call Attach to select the events and Start to begin
// publishing.
func New(cfg Config, pub Publisher, m *metrics.Collectors, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:     cfg,
		pub:     pub,
		logger:  logger,
		metrics: m,
		input:   queue.New[message](256, cfg.BufferSize),
		done:    make(chan struct{}),
	}
}

// Attach registers a listener on src for every configured event.
func (r *Relay) Attach(src Source) error {
	for _, name := range r.cfg.Events {
		if err := src.On(r.listener(name), name); err != nil {
			return fmt.Errorf("relay %q: %w", name, err)
		}
	}
	return nil
}

// Channel returns the Redis channel event is published to.
func (r *Relay) Channel(event string) string {
	return r.cfg.Prefix + event
}

func (r *Relay) listener(event string) events.Handler {
	channel := r.Channel(event)

	return func(_ context.Context, args ...any) error {
		payload, err := Encode(event, time.Now(), args)
		if err != nil {
			return err
		}

		before := r.input.Stats().Dropped
		r.input.Push(message{channel: channel, payload: payload})
		if n := r.input.Stats().Dropped - before; n > 0 {
			r.metrics.Dropped("relay", n)
		}
		return nil
	}
}

// Encode builds the published JSON document. Error arguments are encoded as
// their message.
func Encode(event string, at time.Time, args []any) ([]byte, error) {
	env := Envelope{Event: event, At: at.UTC(), Args: make([]any, len(args))}
	for i, arg := range args {
		if err, ok := arg.(error); ok {
			env.Args[i] = err.Error()
			continue
		}
		env.Args[i] = arg
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return data, nil
}

// Start publishes queued events until Stop.
func (r *Relay) Start(ctx context.Context) {
	go r.publishLoop(ctx)

	r.logger.Info("redis relay started",
		"prefix", r.cfg.Prefix,
		"events", r.cfg.Events,
	)
}

// Stop publishes what is already queued and returns once the publisher has
// exited or ctx is done.
func (r *Relay) Stop(ctx context.Context) {
	r.input.Close()

	select {
	case <-r.done:
		r.logger.Info("redis relay stopped")
	case <-ctx.Done():
		r.logger.Warn("redis relay stop timed out", "queued", r.input.Len())
	}
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Dropped = r.input.Stats().Dropped
	return s
}

func (r *Relay) publishLoop(ctx context.Context) {
	defer close(r.done)

	for {
		msg, ok := r.input.Pop()
		if !ok {
			return
		}

		err := r.pub.Publish(ctx, msg.channel, msg.payload).Err()

		r.mu.Lock()
		if err != nil {
			r.stats.Failed++
		} else {
			r.stats.Published++
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warn("redis publish failed", "channel", msg.channel, "error", err)
		}
	}
}
