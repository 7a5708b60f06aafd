package backoff

import (
	"testing"
	"time"
)

func TestPolicy_FirstDelayIsJittered(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := New(DefaultConfig())
		d := p.Next()
		if d < 0 || d >= DefaultJitter {
			t.Fatalf("first delay = %v, want in [0, %v)", d, DefaultJitter)
		}
	}
}

func TestPolicy_Growth(t *testing.T) {
	cfg := Config{
		Floor:   time.Second,
		Ceiling: 10 * time.Second,
		Jitter:  5 * time.Second,
		Factor:  2,
	}
	p := newWithRand(cfg, func() float64 { return 0.5 })

	want := []time.Duration{
		2500 * time.Millisecond, // jittered first delay
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}

	for i, w := range want {
		if got := p.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestPolicy_MonotonicAfterFirst(t *testing.T) {
	p := New(DefaultConfig())
	p.Next()

	prev := p.Next()
	for i := 0; i < 50; i++ {
		d := p.Next()
		if d < prev {
			t.Fatalf("delay decreased: %v after %v", d, prev)
		}
		if d > DefaultCeiling {
			t.Fatalf("delay %v exceeds ceiling %v", d, DefaultCeiling)
		}
		prev = d
	}
	if prev != DefaultCeiling {
		t.Errorf("delay after 50 steps = %v, want ceiling %v", prev, DefaultCeiling)
	}
}

func TestPolicy_PeekMatchesNext(t *testing.T) {
	p := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		peek := p.Peek()
		if next := p.Next(); next != peek {
			t.Fatalf("step %d: Peek() = %v, Next() = %v", i, peek, next)
		}
	}
}

func TestPolicy_NewInstanceResets(t *testing.T) {
	cfg := DefaultConfig()
	p := newWithRand(cfg, func() float64 { return 0.1 })
	for i := 0; i < 5; i++ {
		p.Next()
	}

	fresh := newWithRand(cfg, func() float64 { return 0.1 })
	if got, want := fresh.Peek(), time.Duration(0.1*float64(cfg.Jitter)); got != want {
		t.Errorf("fresh Peek() = %v, want %v", got, want)
	}
}
