package infra

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a provider's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker trips after three consecutive failures, or a failure rate above 5%
// once 20 requests have been seen in the current interval.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// NewBreaker creates a breaker. Errors for which benign returns true count as
// successes, so a run of "symbol not found" answers does not trip the circuit.
func NewBreaker(name string, benign func(error) bool) *Breaker {
	st := cb.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	if benign != nil {
		st.IsSuccessful = func(err error) bool { return err == nil || benign(err) }
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Do runs fn through the breaker. A nil Breaker runs fn directly.
func (b *Breaker) Do(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.cb.Name(), ErrCircuitOpen)
	}
	return err
}

// State returns the breaker state name ("closed", "half-open", "open").
func (b *Breaker) State() string {
	if b == nil {
		return cb.StateClosed.String()
	}
	return b.cb.State().String()
}
