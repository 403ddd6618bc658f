package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned by Call when the named dependency's breaker is
// OPEN and the call is failed fast without reaching the dependency.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Params configures the breaker for one named dependency: a
// failure-threshold and a recovery-timeout.
type Params struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// Registry lazily constructs and caches one gobreaker.CircuitBreaker per
// named dependency (e.g. "database", "external-api").
type Registry struct {
	mu       sync.Mutex
	defaults Params
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRegistry builds a Registry applying defaults to any dependency not
// separately configured via WithParams.
func NewRegistry(defaults Params) *Registry {
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Registry) get(name string, params Params) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= params.FailureThreshold
		},
		Timeout: params.RecoveryTimeout,
	})
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker for name, constructing it with Registry defaults
// if this is the first reference.
func (r *Registry) Get(name string) *gobreaker.CircuitBreaker[any] {
	return r.get(name, r.defaults)
}

// GetWithParams returns the breaker for name, constructing it with custom
// params if this is the first reference. Subsequent calls with different
// params are ignored — a breaker's parameters do not change after first
// use, matching the spec's "Parameters" being per-dependency configuration
// rather than per-call.
func (r *Registry) GetWithParams(name string, params Params) *gobreaker.CircuitBreaker[any] {
	return r.get(name, params)
}

// Call executes fn through the named dependency's breaker, returning
// ErrBreakerOpen without invoking fn if the breaker is currently OPEN.
func (r *Registry) Call(name string, fn func() error) error {
	_, err := r.Get(name).Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrBreakerOpen
	}
	return err
}

// State reports the current breaker state for a named dependency, or
// gobreaker.StateClosed if it has never been referenced.
func (r *Registry) State(name string) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
