package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/retry"
)

// Priority bands.
const (
	MinPriority  = 1
	MaxPriority  = 10
	DefaultBand  = Medium
	highLowBound = 8
	medLowBound  = 4
)

// Band identifies one of the three priority queues a task is dispatched
// through.
type Band string

const (
	High   Band = "HIGH"
	Medium Band = "MEDIUM"
	Low    Band = "LOW"
)

// BandOf maps a priority integer to its queue band, clamping any
// out-of-range value to Medium rather than rejecting it.
func BandOf(priority int) Band {
	switch {
	case priority >= highLowBound && priority <= MaxPriority:
		return High
	case priority >= medLowBound && priority < highLowBound:
		return Medium
	case priority >= MinPriority && priority < medLowBound:
		return Low
	default:
		return Medium
	}
}

var (
	// ErrInvalidTask is returned by validation when a Task's fields
	// violate its structural invariants.
	ErrInvalidTask = errors.New("invalid task")
)

// Task is the unit of work managed by the queue, combining a Descriptor
// with scheduling, retry-policy, lifecycle and topology metadata.
//
// Task values returned by the store are snapshots; mutating a Task
// in-process does not change persisted state.
type Task struct {
	Descriptor

	ID uuid.UUID

	Priority      int
	ScheduledAt   *time.Time
	RecurrenceCron string
	IsRecurring   bool

	MaxRetries  uint32
	Strategy    retry.Strategy
	BackoffBase time.Duration
	MaxBackoff  time.Duration
	Increment   time.Duration
	TimeoutSeconds int

	Status       Status
	RetryCount   uint32
	NextRetryAt  *time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	UpdatedAt    time.Time
	WorkerID     *uuid.UUID
	ErrorMessage string
	Result       []byte

	ParentTaskID *uuid.UUID
	DependsOn    []uuid.UUID
	WorkflowID   *uuid.UUID

	// Skipped marks a COMPLETED task that reached completion via a false
	// workflow condition rather than handler execution.
	Skipped bool

	CancelRequested bool
}

// New builds a Task in the Pending status with a fresh ID and a descriptor
// for name. The priority is stored as given, without clamping, and no
// policy defaults are applied: TimeoutSeconds, MaxRetries and Strategy
// stay zero.
func New(name string, priority int) *Task {
	now := time.Now()
	return &Task{
		Descriptor: *NewDescriptor(name),
		ID:         NewTaskID(),
		Priority:   priority,
		Status:     Pending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Band returns the queue band this task's priority maps to.
func (t *Task) Band() Band {
	return BandOf(t.Priority)
}

// Validate enforces the structural invariants of a single task's fields.
// It does not check acyclicity of DependsOn: that is checked by the
// workflow package across the whole graph, not here.
func (t *Task) Validate() error {
	if t.Name == "" || len(t.Name) > 255 {
		return errFields("name must be non-empty and at most 255 characters")
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return errFields("priority must be in [1,10]")
	}
	if t.MaxRetries > 10 {
		return errFields("max_retries must be in [0,10]")
	}
	if t.TimeoutSeconds < 1 || t.TimeoutSeconds > 3600 {
		return errFields("timeout_seconds must be in [1,3600]")
	}
	if t.StartedAt != nil && t.StartedAt.Before(t.CreatedAt) {
		return errFields("started_at must be >= created_at")
	}
	if t.CompletedAt != nil && t.StartedAt != nil && t.CompletedAt.Before(*t.StartedAt) {
		return errFields("completed_at must be >= started_at")
	}
	if t.RetryCount > t.MaxRetries {
		return errFields("retry_count must be <= max_retries")
	}
	if t.Status.Terminal() && t.CompletedAt == nil && t.FailedAt == nil && !t.Skipped {
		return errFields("terminal status requires completed_at or failed_at")
	}
	return nil
}

func errFields(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTask, msg)
}

// ExecutionRecord is one append-only row of a task's attempt history.
type ExecutionRecord struct {
	TaskID    uuid.UUID
	Attempt   uint32
	WorkerID  uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   Status
	Error     string
}
