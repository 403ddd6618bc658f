package taskqueue

import (
	"errors"
	"fmt"

	"github.com/corewire/taskqueue/breaker"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/workflow"
)

// Sentinel errors surfaced to external collaborators (the Submit and
// Worker interfaces). Protocol errors (InvalidTransition, CycleDetected)
// wrap the lower-level package error they originate from so
// errors.Is(err, task.ErrInvalidTransition) and
// errors.Is(err, workflow.ErrCycleDetected) keep working for callers
// that only know the lower-level packages.
var (
	// ErrInvalidTask is returned by Submit when a descriptor fails
	// task.Task.Validate.
	ErrInvalidTask = task.ErrInvalidTask

	// ErrInvalidCron is returned by Submit when a recurring task's cron
	// expression does not parse.
	ErrInvalidCron = errors.New("taskqueue: invalid cron expression")

	// ErrInvalidTransition is returned whenever a caller requests a
	// status change that the Task Lifecycle state machine forbids.
	ErrInvalidTransition = task.ErrInvalidTransition

	// ErrCycleDetected is returned by SubmitWorkflow when the supplied
	// edge set is not acyclic. No tasks are persisted in this case.
	ErrCycleDetected = workflow.ErrCycleDetected

	// ErrNotFound is returned when a referenced task, worker or DLQ
	// entry id does not exist.
	ErrNotFound = errors.New("taskqueue: not found")

	// ErrCapacityExceeded is returned by Submit when the throughput-cap
	// admission rate configured via Lifecycle.SetSubmitRateLimit has been
	// exceeded for the current window.
	ErrCapacityExceeded = errors.New("taskqueue: capacity exceeded")

	// ErrBreakerOpen is returned when a call is failed fast by an open
	// circuit breaker guarding a named dependency.
	ErrBreakerOpen = breaker.ErrBreakerOpen

	// ErrStoreUnavailable wraps a Durable Store I/O failure the core
	// could not recover from locally.
	ErrStoreUnavailable = errors.New("taskqueue: store unavailable")

	// ErrBrokerUnavailable wraps a Queue Broker I/O failure the core
	// could not recover from locally.
	ErrBrokerUnavailable = errors.New("taskqueue: broker unavailable")
)

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func wrapBroker(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
}
