package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy names the backoff computation applied when a handler fails.
type Strategy string

const (
	Immediate   Strategy = "immediate"
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
	Custom      Strategy = "custom"
)

// ErrUnregisteredStrategy is returned by Compute when Strategy is Custom
// but no computation has been registered under Config.CustomName.
var ErrUnregisteredStrategy = errors.New("retry: custom strategy has no registered computation")

// ErrUnknownStrategy is returned by Compute for any Strategy value other
// than the four named constants above.
var ErrUnknownStrategy = errors.New("retry: unknown strategy")

// Config mirrors a task's retry policy fields.
type Config struct {
	MaxRetries          uint32
	Strategy            Strategy
	BackoffBase         time.Duration
	MaxBackoff          time.Duration
	Increment           time.Duration // used by Linear
	RandomizationFactor float64       // symmetric jitter, 0 disables
	CustomName          string        // used when Strategy == Custom
}

// CustomFunc computes the backoff for a given retry attempt (1-indexed,
// matching Task.RetryCount after increment) under a custom strategy.
type CustomFunc func(attempt uint32, cfg Config) (time.Duration, bool)

var customStrategies = map[string]CustomFunc{}

// RegisterCustom installs a named custom backoff computation. Registering
// under a name that already exists overwrites it; this is normally only
// done once at process startup, matching how handler registries are wired
// in this module (see package doc of the dispatcher).
func RegisterCustom(name string, fn CustomFunc) {
	customStrategies[name] = fn
}

// Compute returns the delay before the (retryCount+1)'th attempt, and
// whether a retry should happen at all. retryCount is the number of
// attempts already made (Task.RetryCount before increment).
//
// ok is false once retryCount >= cfg.MaxRetries or
// when the strategy is non-retryable for some other built-in reason;
// callers must treat ok == false as "go to the terminal-fail path".
func Compute(retryCount uint32, cfg Config) (time.Duration, bool, error) {
	if retryCount >= cfg.MaxRetries {
		return 0, false, nil
	}
	attempt := retryCount + 1
	switch cfg.Strategy {
	case Immediate:
		return 0, true, nil
	case Linear:
		d := cfg.BackoffBase + time.Duration(retryCount)*cfg.Increment
		return clampJitter(d, cfg), true, nil
	case Exponential:
		exp := float64(cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
		return clampJitter(time.Duration(exp), cfg), true, nil
	case Custom:
		fn, ok := customStrategies[cfg.CustomName]
		if !ok {
			return 0, false, fmt.Errorf("%w: %q", ErrUnregisteredStrategy, cfg.CustomName)
		}
		d, ok := fn(attempt, cfg)
		return d, ok, nil
	default:
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}

func clampJitter(d time.Duration, cfg Config) time.Duration {
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	if d < 0 {
		d = 0
	}
	if cfg.RandomizationFactor <= 0 {
		return d
	}
	delta := cfg.RandomizationFactor * float64(d)
	minD := float64(d) - delta
	maxD := float64(d) + delta
	if minD < 0 {
		minD = 0
	}
	return time.Duration(minD + rand.Float64()*(maxD-minD))
}

// nonRetryableClasses are error classes that are always terminal,
// regardless of remaining retry budget.
var nonRetryableClasses = map[string]bool{
	"ValidationError":     true,
	"AuthenticationError": true,
	"PermissionDenied":    true,
	"ResourceNotFound":    true,
	"InvalidInput":        true,
}

// Classify reports whether an error of the given class should be retried
// at all. A false result means the terminal-fail path applies
// immediately, independent of remaining retry count.
func Classify(errorClass string) bool {
	return !nonRetryableClasses[errorClass]
}
