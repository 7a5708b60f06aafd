package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/bfx-stream/internal/api"
)

// StatusSource fetches the platform status. *api.Client satisfies it.
type StatusSource interface {
	GetPlatformStatus(ctx context.Context) (api.PlatformStatus, error)
}

// TransitionHandler is called when the polled status changes, including the
// first successful poll.
type TransitionHandler func(from, to api.PlatformStatus)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 1m)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Snapshot is the last poll result.
type Snapshot struct {
	Status    api.PlatformStatus
	Known     bool      // false until a poll succeeds
	CheckedAt time.Time // time of the last successful poll
	Failures  int       // consecutive failed polls
}

// Poller periodically checks the platform status via the REST API.
type Poller struct {
	cfg     Config
	source  StatusSource
	handler TransitionHandler
	logger  *slog.Logger

	mu   sync.Mutex
	last Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source StatusSource, handler TransitionHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("platform status poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("platform status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent poll result.
func (p *Poller) Last() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	status, err := p.source.GetPlatformStatus(ctx)

	p.mu.Lock()
	prev := p.last
	if err != nil {
		p.last.Failures++
		failures := p.last.Failures
		p.mu.Unlock()

		if p.ctx.Err() == nil {
			p.logger.Warn("failed to poll platform status", "failures", failures, "err", err)
		}
		return
	}
	p.last = Snapshot{Status: status, Known: true, CheckedAt: time.Now()}
	p.mu.Unlock()

	if prev.Known && prev.Status == status {
		return
	}

	if status == api.PlatformOperative {
		p.logger.Info("platform operative", "previous", prev.Status, "first_poll", !prev.Known)
	} else {
		p.logger.Warn("platform not operative", "status", status)
	}
	if p.handler != nil {
		p.handler(prev.Status, status)
	}
}
