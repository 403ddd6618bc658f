package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/internal"
)

// ErrNotFound is returned when a worker id is not known to the Store.
var ErrNotFound = errors.New("worker: not found")

// ErrCapacityOutOfRange is returned by UpdateCapacity for a non-positive value.
var ErrCapacityOutOfRange = errors.New("worker: capacity must be positive")

// Store is the persistence boundary the Controller depends on. store.Store
// implements it; Controller itself never dials a database.
type Store interface {
	InsertWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error)
	UpdateWorkerStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Worker, error)
	UpdateWorkerHeartbeat(ctx context.Context, id uuid.UUID, currentLoad int, status Status) error
	UpdateWorkerCapacity(ctx context.Context, id uuid.UUID, capacity int) error
	UpdateWorkerTimeout(ctx context.Context, id uuid.UUID, timeoutSeconds int) error
	ListExpiredWorkers(ctx context.Context, deadTimeout time.Duration) ([]Worker, error)
}

// SweepConfig configures the Controller's periodic orphan sweep.
type SweepConfig struct {
	Interval    time.Duration
	DeadTimeout time.Duration
}

// OrphanHandler is notified of every worker the sweep just marked DEAD, so
// the caller can reap the worker's RUNNING tasks ("Orphan
// Recovery"). Controller does not touch tasks itself: that crosses into
// Task Lifecycle territory and is wired by the top-level dispatcher.
type OrphanHandler func(ctx context.Context, dead []Worker)

// Controller implements the worker-admin operations: registration,
// heartbeats, pause/resume/drain, capacity and timeout updates, and
// orphan recovery via a periodic sweep.
type Controller struct {
	internal.LifecycleBase
	store   Store
	task    internal.TimerTask
	log     *slog.Logger
	sweep   SweepConfig
	onOrphan OrphanHandler
}

// NewController builds a Controller backed by store. sweep configures the
// background orphan sweep; onOrphan may be nil if the caller does not need
// notification (e.g. in tests that only exercise admin operations).
func NewController(store Store, sweep SweepConfig, onOrphan OrphanHandler, log *slog.Logger) *Controller {
	return &Controller{
		store:    store,
		log:      log,
		sweep:    sweep,
		onOrphan: onOrphan,
	}
}

// Register creates a new worker row with the given hostname and capacity,
// starting in the IDLE state.
func (c *Controller) Register(ctx context.Context, hostname string, capacity int) (*Worker, error) {
	if capacity <= 0 {
		return nil, ErrCapacityOutOfRange
	}
	w := New(hostname, capacity)
	if err := c.store.InsertWorker(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Heartbeat records current load and status for a live worker. Callers
// report Active when they have capacity to accept more work and Idle when
// they have none in flight.
func (c *Controller) Heartbeat(ctx context.Context, id uuid.UUID, currentLoad int, status Status) error {
	return c.store.UpdateWorkerHeartbeat(ctx, id, currentLoad, status)
}

func (c *Controller) transition(ctx context.Context, id uuid.UUID, to Status) (*Worker, error) {
	w, err := c.store.GetWorker(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(w.Status, to) {
		return nil, ErrInvalidTransition
	}
	return c.store.UpdateWorkerStatus(ctx, id, w.Status, to)
}

// Pause moves a worker to PAUSED: it stops receiving new claims but keeps
// its in-flight tasks running.
func (c *Controller) Pause(ctx context.Context, id uuid.UUID) (*Worker, error) {
	return c.transition(ctx, id, Paused)
}

// Resume moves a PAUSED worker back to ACTIVE.
func (c *Controller) Resume(ctx context.Context, id uuid.UUID) (*Worker, error) {
	return c.transition(ctx, id, Active)
}

// Drain moves a worker to DRAINING: no new claims are accepted and the
// worker is expected to reach IDLE once its in-flight tasks finish, at
// which point the caller should call Terminate.
func (c *Controller) Drain(ctx context.Context, id uuid.UUID) (*Worker, error) {
	return c.transition(ctx, id, Draining)
}

// Terminate moves a worker to DEAD, permanently retiring it.
func (c *Controller) Terminate(ctx context.Context, id uuid.UUID) (*Worker, error) {
	return c.transition(ctx, id, Dead)
}

// UpdateCapacity changes how many tasks a worker may run concurrently.
func (c *Controller) UpdateCapacity(ctx context.Context, id uuid.UUID, capacity int) error {
	if capacity <= 0 {
		return ErrCapacityOutOfRange
	}
	return c.store.UpdateWorkerCapacity(ctx, id, capacity)
}

// UpdateTimeout stores a new per-worker timeout value. SweepOrphans does
// not read it: expiry is judged against SweepConfig.DeadTimeout for every
// worker.
func (c *Controller) UpdateTimeout(ctx context.Context, id uuid.UUID, timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		return errors.New("worker: timeout must be positive")
	}
	return c.store.UpdateWorkerTimeout(ctx, id, timeoutSeconds)
}

// SweepOrphans marks every worker whose heartbeat is older than the
// configured dead-timeout as DEAD and invokes onOrphan with the list, once,
// synchronously. It is safe to call directly (e.g. from tests) without
// starting the background loop.
func (c *Controller) SweepOrphans(ctx context.Context) ([]Worker, error) {
	expired, err := c.store.ListExpiredWorkers(ctx, c.sweep.DeadTimeout)
	if err != nil {
		return nil, err
	}
	dead := make([]Worker, 0, len(expired))
	for _, w := range expired {
		if w.Status == Dead {
			continue
		}
		if _, err := c.store.UpdateWorkerStatus(ctx, w.ID, w.Status, Dead); err != nil {
			if c.log != nil {
				c.log.Error("failed to mark expired worker dead", "worker_id", w.ID, "error", err)
			}
			continue
		}
		w.Status = Dead
		dead = append(dead, w)
	}
	if len(dead) > 0 && c.onOrphan != nil {
		c.onOrphan(ctx, dead)
	}
	return dead, nil
}

// Start begins the periodic orphan sweep. Start may only be called once.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.TryStart(); err != nil {
		return err
	}
	c.task.Start(ctx, func(ctx context.Context) {
		if _, err := c.SweepOrphans(ctx); err != nil && c.log != nil {
			c.log.Error("orphan sweep failed", "error", err)
		}
	}, c.sweep.Interval)
	return nil
}

// Stop terminates the background sweep, waiting up to timeout for the
// in-flight sweep to finish.
func (c *Controller) Stop(timeout time.Duration) error {
	return c.TryStop(timeout, c.task.Stop)
}
