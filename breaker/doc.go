// Package breaker implements per-dependency circuit breaking and
// graceful-degradation signaling.
//
// The CLOSED/OPEN/HALF_OPEN state machine is delegated entirely to
// github.com/sony/gobreaker, which already implements the needed shape:
// a consecutive-failure counter tripping to OPEN, a recovery timeout
// before a single HALF_OPEN probe, and reset-to-CLOSED on probe success.
// Registry keys one *gobreaker.CircuitBreaker per named dependency and
// lazily constructs it from Settings.
package breaker
