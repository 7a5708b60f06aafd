package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ErrorEvent is the reserved event listener failures are published on.
const ErrorEvent = "error"

// Handler is the uniform listener signature. Handlers that do not block
// simply return; handlers registered with Async may block freely.
type Handler func(ctx context.Context, args ...any) error

// Option configures a listener registration.
type Option func(*listener)

// Once deregisters the listener before its first invocation.
func Once() Option {
	return func(l *listener) { l.once = true }
}

// Async runs the listener on its own goroutine.
func Async() Option {
	return func(l *listener) { l.async = true }
}

// ListenerError wraps a failure raised by a listener.
type ListenerError struct {
	Event string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q: %v", e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

type listener struct {
	fn    Handler
	once  bool
	async bool
}

// Bus is a registry of event listeners. It is safe for concurrent use:
// listeners may be added while events are being published.
type Bus struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[string][]*listener
	closed    bool
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bus{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]*listener),
	}
}

// On registers h for event.
func (b *Bus) On(event string, h Handler, opts ...Option) {
	l := &listener{fn: h}
	for _, opt := range opts {
		opt(l)
	}

	b.mu.Lock()
	b.listeners[event] = append(b.listeners[event], l)
	b.mu.Unlock()
}

// ListenerCount returns the number of listeners registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

// Emit publishes args to every listener of event, in registration order.
// It reports whether any listener was registered.
func (b *Bus) Emit(event string, args ...any) bool {
	b.mu.Lock()
	registered := b.listeners[event]
	if b.closed || len(registered) == 0 {
		b.mu.Unlock()
		return false
	}

	targets := make([]*listener, len(registered))
	copy(targets, registered)

	// One-shot listeners leave the table before they run so that a
	// concurrent Emit cannot invoke them a second time.
	kept := registered[:0]
	for _, l := range registered {
		if !l.once {
			kept = append(kept, l)
		}
	}
	for i := len(kept); i < len(registered); i++ {
		registered[i] = nil
	}
	if len(kept) == 0 {
		delete(b.listeners, event)
	} else {
		b.listeners[event] = kept
	}

	// Detached listeners are counted before Close can observe the table.
	for _, l := range targets {
		if l.async {
			b.wg.Add(1)
		}
	}
	b.mu.Unlock()

	for _, l := range targets {
		if l.async {
			go func(l *listener) {
				defer b.wg.Done()
				b.invoke(event, l, args)
			}(l)
			continue
		}
		b.invoke(event, l, args)
	}

	return true
}

// Wait blocks until every detached listener started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close removes all listeners, cancels the context handed to detached
// listeners and waits for them to return.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.listeners = make(map[string][]*listener)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

func (b *Bus) invoke(event string, l *listener, args []any) {
	if err := b.call(l.fn, args); err != nil {
		b.fail(event, err)
	}
}

func (b *Bus) call(fn Handler, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(b.ctx, args...)
}

func (b *Bus) fail(event string, err error) {
	if event == ErrorEvent {
		b.logger.Error("error listener failed", "error", err)
		return
	}

	lerr := &ListenerError{Event: event, Err: err}
	if !b.Emit(ErrorEvent, lerr) {
		b.logger.Error("unhandled listener error", "event", event, "error", err)
	}
}
