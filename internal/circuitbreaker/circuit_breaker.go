// Package circuitbreaker guards calls to the engine's collaborators: the
// language model, arXiv, Document AI, page fetches, Redis and Postgres.
//
// A breaker counts failures inside a rolling window while closed. Reaching
// FailureThreshold consecutive failures opens it; open breakers reject calls
// until Timeout passes, then admit up to MaxRequests trial calls (half-open).
// SuccessThreshold consecutive trial successes close it again and any trial
// failure reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config tunes one breaker. Settings in config.go hold the per-collaborator
// defaults.
type Config struct {
	MaxRequests      uint32        // trial calls admitted while half-open
	Interval         time.Duration // closed-state counting window; 0 never resets
	Timeout          time.Duration // open duration before probing
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)

	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every error except caller cancellation.
	IsFailure func(error) bool
}

// Counts are reset whenever the breaker changes state or its window rolls
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Status is a point-in-time view used by metrics and health reporting
type Status struct {
	Name    string
	State   State
	Counts  Counts
	RetryAt time.Time // when an open breaker starts probing
}

type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	epoch    uint64
	counts   Counts
	deadline time.Time // window end while closed, trial start while open
}

func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
	cb.resetWindow(cb.now())
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn when the breaker admits it. A done context is returned as
// is and does not touch the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(epoch, !cb.isFailure(err))
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.now())
	return cb.state
}

// IsOpen reports whether calls are currently rejected
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.now())
	st := Status{Name: cb.name, State: cb.state, Counts: cb.counts}
	if cb.state == StateOpen {
		st.RetryAt = cb.deadline
	}
	return st
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.cfg.IsFailure != nil {
		return cb.cfg.IsFailure(err)
	}
	return !errors.Is(err, context.Canceled)
}

// admit reserves a slot in the current epoch
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(cb.now())
	switch cb.state {
	case StateOpen:
		return cb.epoch, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.cfg.MaxRequests {
			return cb.epoch, ErrTooManyRequests
		}
	}
	cb.counts.Requests++
	return cb.epoch, nil
}

// settle records the outcome of a call admitted in epoch. Outcomes from an
// earlier epoch are ignored.
func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	if epoch != cb.epoch {
		return
	}

	c := &cb.counts
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed, now)
		}
		return
	}

	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
	switch cb.state {
	case StateClosed:
		if c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		cb.moveTo(StateOpen, now)
	}
}

// refresh applies time-based transitions: the closed window rolling over and
// an open breaker becoming eligible for trials.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.deadline.IsZero() || now.Before(cb.deadline) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.resetWindow(now)
	case StateOpen:
		cb.moveTo(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.resetWindow(now)

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// resetWindow starts a new epoch with zeroed counts
func (cb *CircuitBreaker) resetWindow(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	switch cb.state {
	case StateClosed:
		cb.deadline = time.Time{}
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	default:
		cb.deadline = time.Time{}
	}
}
