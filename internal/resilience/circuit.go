package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the upstream while the circuit
// is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker opens and how long it stays open.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Breaker stops calling an upstream after consecutive failures and lets a
// single probe through once ResetTimeout has passed.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker. Zero config values fall back to five
// failures and a 30s reset.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current state, accounting for an elapsed reset timeout.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Execute runs fn through the breaker.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		return ErrCircuitOpen
	}
	b.setState(CircuitHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != CircuitClosed {
			b.setState(CircuitClosed)
		}
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(CircuitOpen)
	}
}

func (b *Breaker) setState(to CircuitState) {
	if b.state == to {
		return
	}
	zap.L().Info("circuit state change",
		zap.String("service", b.cfg.Name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}
