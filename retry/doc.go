// Package retry computes next-attempt backoff delays and classifies
// handler errors as retryable or terminal.
//
// It generalizes the single exponential-backoff formula used by simpler
// job queues (a fixed InitialInterval/Multiplier/MaxInterval computation)
// into the four named strategies a task may request: immediate, linear,
// exponential and custom. The custom strategy has no built-in computation;
// callers must register one with RegisterCustom before any task using it
// can be scheduled, otherwise Compute returns ErrUnregisteredStrategy.
package retry
