package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls fault injection behavior.
type Config struct {
	// Seed fixes the random sequence so a failure run can be replayed.
	// Zero seeds from the wall clock.
	Seed int64

	// DropRate is the probability an inbound frame is silently discarded.
	DropRate float64

	// CutRate is the probability a frame operation force-closes the
	// connection instead of completing.
	CutRate float64

	// MaxDelay bounds the artificial latency added per frame. Zero adds
	// no latency.
	MaxDelay time.Duration
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.CutRate < 0 || c.CutRate > 1 {
		return fmt.Errorf("cutRate must be between 0 and 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Engine draws fault decisions from a seeded source. A nil engine is
// valid and never injects anything.
type Engine struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand

	dropped atomic.Uint64
	cuts    atomic.Uint64
}

// NewEngine creates an engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// DropFrame decides whether to discard the current inbound frame.
func (e *Engine) DropFrame() bool {
	if e == nil || e.cfg.DropRate <= 0 {
		return false
	}
	if e.draw() < e.cfg.DropRate {
		e.dropped.Add(1)
		return true
	}
	return false
}

// CutConnection decides whether to force-close the connection now.
func (e *Engine) CutConnection() bool {
	if e == nil || e.cfg.CutRate <= 0 {
		return false
	}
	if e.draw() < e.cfg.CutRate {
		e.cuts.Add(1)
		return true
	}
	return false
}

// Delay returns the artificial latency for the current frame.
func (e *Engine) Delay() time.Duration {
	if e == nil || e.cfg.MaxDelay <= 0 {
		return 0
	}
	e.mu.Lock()
	d := time.Duration(e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1))
	e.mu.Unlock()
	return d
}

// Dropped counts frames discarded so far.
func (e *Engine) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Cuts counts forced closes so far.
func (e *Engine) Cuts() uint64 {
	if e == nil {
		return 0
	}
	return e.cuts.Load()
}

func (e *Engine) draw() float64 {
	e.mu.Lock()
	v := e.rng.Float64()
	e.mu.Unlock()
	return v
}
