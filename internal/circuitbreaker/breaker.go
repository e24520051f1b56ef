// Package circuitbreaker guards calls to flaky dependencies (the risk
// scorer in particular). Each key moves closed -> open -> half-open.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuit open")

// State is the breaker state for one key.
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
		return "half_open"
	}
	return "unknown"
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bank",
	Subsystem: "circuitbreaker",
	Name:      "transitions_total",
	Help:      "Circuit breaker state changes by key.",
}, []string{"key", "from", "to"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per key. After threshold failures the
// key opens; once cooldown has passed a single probe is let through.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	notify    func(key string, from, to State)
}

// New creates a breaker. Non-positive arguments fall back to 5 failures and
// a 30s cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition registers a callback fired (asynchronously) on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.cooldown {
			b.move(key, c, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	if c.state != StateClosed {
		b.move(key, c, StateClosed)
	}
}

// RecordFailure counts a failure and opens the circuit when the threshold
// is reached or a half-open probe fails.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		c.openedAt = b.now()
		b.move(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		c.openedAt = b.now()
		b.move(key, c, StateOpen)
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// It returns ErrOpen without calling fn when the circuit is open.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// State returns the state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) move(key string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	if fn := b.notify; fn != nil {
		go fn(key, from, to)
	}
}
