package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/cron"
	"github.com/corewire/taskqueue/internal"
	"github.com/corewire/taskqueue/task"
)

// Store is the subset of the Durable Store the Scheduler needs: finding
// due tasks and atomically promoting one to QUEUED.
type Store interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*task.Task, error)
	ClaimDueScheduled(ctx context.Context, id uuid.UUID, from task.Status) (*task.Task, error)
	InsertTask(ctx context.Context, t *task.Task) error
}

// Broker is the subset of the Queue Broker the Scheduler needs: pushing
// a promoted task onto its priority list and maintaining the scheduled
// set mirror.
type Broker interface {
	Enqueue(ctx context.Context, taskID uuid.UUID, priority int) error
	RemoveScheduled(ctx context.Context, taskID uuid.UUID) error
	ScheduleAt(ctx context.Context, taskID uuid.UUID, due time.Time) error
}

// Config controls how often the Scheduler polls and how many due tasks
// it promotes per tick.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Scheduler periodically promotes due scheduled/retrying tasks and
// expands recurring tasks into their next instance.
//
// Scheduler has a strict lifecycle: Start may only be called once, and
// Stop waits for the in-flight tick to finish or the timeout expires.
type Scheduler struct {
	internal.LifecycleBase
	store     Store
	broker    Broker
	task      internal.TimerTask
	log       *slog.Logger
	interval  time.Duration
	batchSize int
}

// New builds a Scheduler. It is not started automatically.
func New(store Store, broker Broker, cfg *Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		broker:    broker,
		log:       log,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueScheduled(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.log.Error("due scheduled query failed", "err", err)
		return
	}
	for _, t := range due {
		s.promote(ctx, t)
	}
}

func (s *Scheduler) promote(ctx context.Context, t *task.Task) {
	claimed, err := s.store.ClaimDueScheduled(ctx, t.ID, t.Status)
	if err != nil {
		s.log.Error("promotion failed", "id", t.ID, "err", err)
		return
	}
	if claimed == nil {
		// Another Scheduler instance, or a concurrent cancellation, won
		// the race; nothing to do.
		return
	}
	if err := s.broker.Enqueue(ctx, claimed.ID, claimed.Priority); err != nil {
		s.log.Error("enqueue after promotion failed", "id", claimed.ID, "err", err)
		return
	}
	if err := s.broker.RemoveScheduled(ctx, claimed.ID); err != nil {
		s.log.Error("scheduled set cleanup failed", "id", claimed.ID, "err", err)
	}
	if t.IsRecurring {
		s.scheduleNext(ctx, t)
	}
}

func (s *Scheduler) scheduleNext(ctx context.Context, t *task.Task) {
	base := time.Now()
	if t.ScheduledAt != nil {
		base = *t.ScheduledAt
	}
	next, err := cron.Next(t.RecurrenceCron, base)
	if err != nil {
		s.log.Error("cron evaluation failed", "id", t.ID, "cron", t.RecurrenceCron, "err", err)
		return
	}

	fresh := task.New(t.Name, t.Priority)
	fresh.Descriptor = t.Descriptor
	fresh.RecurrenceCron = t.RecurrenceCron
	fresh.IsRecurring = true
	fresh.ScheduledAt = &next
	fresh.MaxRetries = t.MaxRetries
	fresh.Strategy = t.Strategy
	fresh.BackoffBase = t.BackoffBase
	fresh.MaxBackoff = t.MaxBackoff
	fresh.Increment = t.Increment
	fresh.TimeoutSeconds = t.TimeoutSeconds
	fresh.WorkflowID = t.WorkflowID

	if err := s.store.InsertTask(ctx, fresh); err != nil {
		s.log.Error("recurring task insertion failed", "parent", t.ID, "err", err)
		return
	}
	if err := s.broker.ScheduleAt(ctx, fresh.ID, next); err != nil {
		s.log.Error("scheduled set mirror write failed", "id", fresh.ID, "err", err)
	}
}

// Start begins the periodic promotion sweep.
//
// Start returns internal.ErrDoubleStarted if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	s.task.Start(ctx, s.tick, s.interval)
	return nil
}

// Stop halts the sweep, waiting up to timeout for an in-flight tick to
// finish.
//
// Stop returns internal.ErrDoubleStopped if not running, or
// internal.ErrStopTimeout if shutdown did not complete in time.
func (s *Scheduler) Stop(timeout time.Duration) error {
	return s.TryStop(timeout, s.task.Stop)
}
