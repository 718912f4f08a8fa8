// Package circuitbreaker protects remote senders from cascade failures:
// when the vendor push API starts failing, the circuit opens and sends
// fail fast until a probe request succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
//	Closed -> Open:     failure count reaches threshold
//	Open -> HalfOpen:   recovery timeout elapsed, one probe allowed
//	HalfOpen -> Closed: probe succeeded
//	HalfOpen -> Open:   probe failed
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the circuit rejects a request.
var ErrOpen = errors.New("circuit breaker is open")

// Config for one breaker.
type Config struct {
	Name            string
	MaxFailures     int           // consecutive failures before opening
	RecoveryTimeout time.Duration // wait in Open before probing
}

// Breaker tracks consecutive failures for one downstream service.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger

	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a breaker. Zero config fields get defaults (5 failures,
// 30s recovery).
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, logger: logger, state: StateClosed}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probing = true
			b.logger.Info("circuit breaker allowing probe",
				zap.String("name", b.cfg.Name),
			)
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit after a successful probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.state = StateClosed
		b.logger.Info("circuit breaker closed, service recovered",
			zap.String("name", b.cfg.Name),
		)
	}
}

// RecordFailure opens the circuit when the failure threshold is reached
// or a probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.logger.Warn("circuit breaker opened",
				zap.String("name", b.cfg.Name),
				zap.Int("failures", b.failures),
			)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", b.cfg.Name),
		)
	}
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
