// Package backoff generates reconnection delays.
//
// The first delay of an episode is a small random value so that many clients
// dropped at the same moment do not reconnect in lockstep. Later delays grow
// geometrically from the floor up to a hard ceiling.
//
// A Policy is good for exactly one reconnect episode. Build a new one every
// time a connection enters the reconnecting state.
package backoff

import (
	"math/rand"
	"time"
)

// Defaults used by the exchange client.
const (
	DefaultFloor   = 1920 * time.Millisecond
	DefaultCeiling = 60 * time.Second
	DefaultJitter  = 5 * time.Second
	DefaultFactor  = 1.618
)

// Config holds the parameters of a Policy.
type Config struct {
	Floor   time.Duration // Delay the growth starts from
	Ceiling time.Duration // Delays never exceed this
	Jitter  time.Duration // Upper bound (exclusive) of the first, random delay
	Factor  float64       // Growth factor applied after every Next
}

// DefaultConfig returns the exchange client's reconnection parameters.
func DefaultConfig() Config {
	return Config{
		Floor:   DefaultFloor,
		Ceiling: DefaultCeiling,
		Jitter:  DefaultJitter,
		Factor:  DefaultFactor,
	}
}

// Policy is a stateful delay generator. It is not safe for concurrent use.
type Policy struct {
	cfg     Config
	current time.Duration
	initial time.Duration
}

// New creates a Policy with a freshly drawn initial delay.
func New(cfg Config) *Policy {
	return newWithRand(cfg, rand.Float64)
}

func newWithRand(cfg Config, random func() float64) *Policy {
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = cfg.Floor
	}
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	return &Policy{
		cfg:     cfg,
		current: cfg.Floor,
		initial: time.Duration(random() * float64(cfg.Jitter)),
	}
}

// Peek returns the delay the next call to Next will return.
func (p *Policy) Peek() time.Duration {
	if p.current == p.cfg.Floor {
		return p.initial
	}
	return p.current
}

// Next returns the current delay and advances the policy.
func (p *Policy) Next() time.Duration {
	delay := p.Peek()

	grown := time.Duration(float64(p.current) * p.cfg.Factor)
	if grown > p.cfg.Ceiling || grown < 0 {
		grown = p.cfg.Ceiling
	}
	p.current = grown

	return delay
}
