package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/breaker"
	"github.com/corewire/taskqueue/internal"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/worker"
)

// degradedThrottle is the fixed backoff applied before a call to a
// dependency flagged with the reduce-throughput degradation strategy,
// rather than skipping the call outright the way the other strategies do.
const degradedThrottle = 250 * time.Millisecond

// MessageHandler is the user-provided function that executes one claimed
// task. The core never inspects its body: name-in, result-or-error-out is
// the entire contract, with the handler registry living outside this
// module.
//
// The provided context is canceled once the task's timeout_seconds
// deadline passes; the handler must be idempotent, since at-least-once
// delivery means the same task id may reach a handler more than once
// across worker crashes.
type MessageHandler func(ctx context.Context, t *task.Task) ([]byte, error)

// HandlerError lets a MessageHandler classify its own failure so the
// Retry Policy can distinguish retryable infrastructure hiccups from
// terminal validation failures. A handler returning a plain error is
// treated as retryable (empty error class).
type HandlerError struct {
	Class   string
	Message string
}

func (e *HandlerError) Error() string { return e.Message }

func classifyHandlerError(err error) (class, message string) {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Class, he.Message
	}
	return "", err.Error()
}

// DispatcherConfig controls one worker process's claim-and-execute loop.
type DispatcherConfig struct {
	Capacity          int           // concurrent handler executions
	Queue             int           // internal buffer between dequeue and handler
	DequeueTimeout    time.Duration // blocking timeout per Broker.Dequeue call
	HeartbeatInterval time.Duration
}

// Dispatcher is the direct generalization of the teacher's pull-queue
// Worker: a background loop repeatedly calls Broker.Dequeue and fans
// claimed task ids out to a bounded internal.WorkerPool, one handler
// execution per pool slot.
//
// It differs from a single pull-queue in its claim step: Broker.Dequeue
// only pops a task id from a priority list, it never sets RUNNING itself.
// A separate Lifecycle.Claim performs the conditional QUEUED -> RUNNING
// transition; if that loses the race (another worker already claimed it,
// or it was cancelled), the id is discarded without a handler ever
// running for it.
//
// Dispatcher has the same strict Start-once/Stop-once lifecycle as every
// other background loop in this module.
type Dispatcher struct {
	internal.LifecycleBase
	lifecycle  *Lifecycle
	controller *worker.Controller
	broker     Broker
	handler    MessageHandler
	pool       *internal.WorkerPool[uuid.UUID]
	pullTask   internal.TimerTask
	heartbeat  internal.TimerTask
	log        *slog.Logger

	breakers    *breaker.Registry
	degradation *breaker.Degradation

	workerID       uuid.UUID
	dequeueTimeout time.Duration
	heartbeatEvery time.Duration

	load     atomic.Int64
	paused   atomic.Bool
	draining atomic.Bool
}

// NewDispatcher builds a Dispatcher for an already-registered worker. It
// is not started automatically.
func NewDispatcher(lifecycle *Lifecycle, controller *worker.Controller, br Broker, workerID uuid.UUID, handler MessageHandler, cfg *DispatcherConfig, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		lifecycle:      lifecycle,
		controller:     controller,
		broker:         br,
		handler:        handler,
		pool:           internal.NewWorkerPool[uuid.UUID](cfg.Capacity, cfg.Queue, log),
		log:            log,
		workerID:       workerID,
		dequeueTimeout: cfg.DequeueTimeout,
		heartbeatEvery: cfg.HeartbeatInterval,
	}
}

// UseBreaker wires a circuit breaker registry and/or degradation advisor
// into the dispatch loop: every handler invocation thereafter is guarded
// by registry.Call and preceded by a degradation.Check per spec.md §4.8.
// Either argument may be nil to leave that guard disabled; neither is
// wired by default so a Dispatcher built without calling this behaves
// exactly as before.
func (d *Dispatcher) UseBreaker(registry *breaker.Registry, degradation *breaker.Degradation) {
	d.breakers = registry
	d.degradation = degradation
}

// dependencyName identifies the external dependency a task's handler call
// exercises, for breaker/degradation bookkeeping: an explicit "dependency"
// metadata entry if the submitter set one (mirroring how Descriptor.Get
// already surfaces "idempotency_key"), falling back to the task's handler
// name, since most handlers call through to exactly one dependency.
func dependencyName(t *task.Task) string {
	if dep, ok := t.Get("dependency").(string); ok && dep != "" {
		return dep
	}
	return t.Name
}

// pull implements dispatch-loop steps 1-4: while not paused, block on
// Broker.Dequeue and fan every claimed id into the pool. A PAUSED
// dispatcher stops dequeuing entirely rather than pulling work it cannot
// run; a DRAINING one keeps finishing in-flight work but also stops
// pulling new tasks.
func (d *Dispatcher) pull(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.paused.Load() || d.draining.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		id, ok, err := d.broker.Dequeue(ctx, d.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error("dequeue failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}
		if !d.pool.Push(id) {
			return
		}
	}
}

// invoke runs the handler with the single panic-recovery point the
// dispatch loop guarantees: a panicking handler is converted into a
// classified error exactly like a returned one, so the task always
// reaches a FAILED/RETRYING transition instead of being silently dropped.
//
// Before the handler ever runs, invoke consults the degradation advisor
// (if wired) and takes the prescribed fallback per spec.md §4.8: a
// reduce-throughput flag throttles the call rather than skipping it, since
// it is an admission-rate signal, not an outage signal; every other
// strategy skips the call outright and reports a retryable
// HandlerError, letting the Retry Policy reschedule it once the
// dependency's degradation clears. The call itself, when made, runs
// through the named dependency's circuit breaker so a tripped breaker
// fails fast with breaker.ErrBreakerOpen instead of reaching a dependency
// already known to be down.
func (d *Dispatcher) invoke(ctx context.Context, t *task.Task) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	dep := dependencyName(t)
	if d.degradation != nil {
		strategy, degraded, derr := d.degradation.Check(ctx, dep)
		if derr != nil {
			d.log.Warn("degradation check failed", "dependency", dep, "err", derr)
		} else if degraded {
			if strategy == breaker.ReduceThroughput {
				d.log.Warn("dependency degraded, throttling", "dependency", dep, "strategy", strategy)
				time.Sleep(degradedThrottle)
			} else {
				d.log.Warn("dependency degraded, skipping call", "dependency", dep, "strategy", strategy)
				return nil, &HandlerError{Class: "DegradedDependency", Message: fmt.Sprintf("dependency %q degraded: %s", dep, strategy)}
			}
		}
	}

	if d.breakers == nil {
		return d.handler(ctx, t)
	}
	err = d.breakers.Call(dep, func() error {
		var cerr error
		result, cerr = d.handler(ctx, t)
		return cerr
	})
	return result, err
}

// handle implements dispatch-loop steps 5-8 for one claimed task id.
func (d *Dispatcher) handle(ctx context.Context, taskID uuid.UUID) {
	t, err := d.lifecycle.Claim(ctx, taskID, d.workerID)
	if err != nil {
		d.log.Error("claim failed", "id", taskID, "err", err)
		return
	}
	if t == nil {
		d.log.Debug("claim lost the race, discarding", "id", taskID)
		return
	}

	d.load.Add(1)
	defer d.load.Add(-1)

	deadline := time.Duration(t.TimeoutSeconds) * time.Second
	hctx, cancel := context.WithTimeout(ctx, deadline)
	result, err := d.invoke(hctx, t)
	timedOut := hctx.Err() == context.DeadlineExceeded
	cancel()

	switch {
	case timedOut:
		if terr := d.lifecycle.Timeout(ctx, t, d.workerID); terr != nil {
			d.log.Error("timeout transition failed", "id", taskID, "err", terr)
		}
	case err != nil:
		class, message := classifyHandlerError(err)
		if ferr := d.lifecycle.Fail(ctx, t, d.workerID, class, message); ferr != nil {
			d.log.Error("fail transition failed", "id", taskID, "err", ferr)
		}
	default:
		if cerr := d.lifecycle.Complete(ctx, t, d.workerID, result); cerr != nil {
			d.log.Error("complete transition failed", "id", taskID, "err", cerr)
		}
	}
}

func (d *Dispatcher) sendHeartbeat(ctx context.Context) {
	status := worker.Active
	switch {
	case d.draining.Load():
		status = worker.Draining
	case d.paused.Load():
		status = worker.Paused
	}
	if err := d.controller.Heartbeat(ctx, d.workerID, int(d.load.Load()), status); err != nil {
		d.log.Error("heartbeat failed", "worker_id", d.workerID, "err", err)
	}
}

// Pause stops the dispatcher from dequeuing new work without disturbing
// tasks already in flight. Idempotent.
func (d *Dispatcher) Pause() { d.paused.Store(true) }

// Resume reverses Pause.
func (d *Dispatcher) Resume() { d.paused.Store(false) }

// Drain stops the dispatcher from dequeuing new work; once its load
// reaches zero the caller should call worker.Controller.Terminate to
// retire the worker row.
func (d *Dispatcher) Drain() { d.draining.Store(true) }

// Load reports the number of handler executions currently in flight.
func (d *Dispatcher) Load() int { return int(d.load.Load()) }

// Start begins the pull loop and the heartbeat loop. Start may only be
// called once.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.TryStart(); err != nil {
		return err
	}
	d.pool.Start(ctx, d.handle)
	d.pullTask.Start(ctx, d.pull, time.Hour) // pull loops internally; the ticker never fires in practice
	d.heartbeat.Start(ctx, d.sendHeartbeat, d.heartbeatEvery)
	return nil
}

func (d *Dispatcher) doStop() internal.DoneChan {
	first := d.pullTask.Stop()
	second := d.heartbeat.Stop()
	third := d.pool.Stop()
	return internal.Combine(internal.Combine(first, second), third)
}

// Stop gracefully shuts down: it stops pulling new work, stops
// heartbeating, and waits up to timeout for in-flight handlers to finish.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.TryStop(timeout, d.doStop)
}
