// Package circuitbreaker guards outbound calls to the payment and delivery
// providers so one hanging or failing upstream does not take the checkout
// path down with it.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	MaxHalfOpen  int
}

type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	maxHalfOpen  int

	mu          sync.Mutex
	state       State
	failures    int
	halfOpen    int
	lastFailure time.Time

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *Breaker {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.MaxHalfOpen <= 0 {
		config.MaxHalfOpen = 1
	}

	return &Breaker{
		name:         config.Name,
		maxFailures:  config.MaxFailures,
		resetTimeout: config.ResetTimeout,
		maxHalfOpen:  config.MaxHalfOpen,
		state:        StateClosed,
		logger:       logger,
	}
}

// Execute runs fn unless the breaker is open. A failure in half-open state
// re-opens the breaker immediately; a success closes it.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpen = 1
		return nil
	case StateHalfOpen:
		if b.halfOpen >= b.maxHalfOpen {
			return ErrOpen
		}
		b.halfOpen++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to != StateHalfOpen {
		b.halfOpen = 0
	}
	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"from":            from.String(),
		"to":              to.String(),
	}).Warn("Circuit breaker state change")
}
