package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/corewire/taskqueue/retry"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/worker"
)

type taskModel struct {
	bun.BaseModel `bun:"table:tasks"`

	ID uuid.UUID `bun:"id,pk,type:uuid"`

	Name   string                     `bun:"name,notnull"`
	Args   []byte                     `bun:"args,type:jsonb"`
	Kwargs []byte                     `bun:"kwargs,type:jsonb"`
	Meta   []byte                     `bun:"metadata,type:jsonb"`

	Priority       int        `bun:"priority,notnull"`
	ScheduledAt    *time.Time `bun:"scheduled_at,nullzero"`
	RecurrenceCron string     `bun:"recurrence_cron"`
	IsRecurring    bool       `bun:"is_recurring,notnull,default:false"`

	MaxRetries  uint32 `bun:"max_retries,notnull,default:0"`
	Strategy    string `bun:"strategy,notnull,default:'immediate'"`
	BackoffBase int64  `bun:"backoff_base_ns,notnull,default:0"`
	MaxBackoff  int64  `bun:"max_backoff_ns,notnull,default:0"`
	Increment   int64  `bun:"increment_ns,notnull,default:0"`
	TimeoutSecs int    `bun:"timeout_seconds,notnull,default:30"`

	Status       task.Status `bun:"status,notnull,default:0"`
	RetryCount   uint32      `bun:"retry_count,notnull,default:0"`
	NextRetryAt  *time.Time  `bun:"next_retry_at,nullzero"`
	CreatedAt    time.Time   `bun:"created_at,notnull,default:current_timestamp"`
	StartedAt    *time.Time  `bun:"started_at,nullzero"`
	CompletedAt  *time.Time  `bun:"completed_at,nullzero"`
	FailedAt     *time.Time  `bun:"failed_at,nullzero"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull,default:current_timestamp"`
	WorkerID     *uuid.UUID  `bun:"worker_id,type:uuid,nullzero"`
	ErrorMessage string      `bun:"error_message"`
	Result       []byte      `bun:"result,type:jsonb"`

	ParentTaskID *uuid.UUID `bun:"parent_task_id,type:uuid,nullzero"`
	WorkflowID   *uuid.UUID `bun:"workflow_id,type:uuid,nullzero"`
	Skipped      bool       `bun:"skipped,notnull,default:false"`
	CancelReq    bool       `bun:"cancel_requested,notnull,default:false"`
}

func toTask(m *taskModel, dependsOn []uuid.UUID) *task.Task {
	var args []json.RawMessage
	if len(m.Args) > 0 {
		_ = json.Unmarshal(m.Args, &args)
	}
	var kwargs map[string]json.RawMessage
	if len(m.Kwargs) > 0 {
		_ = json.Unmarshal(m.Kwargs, &kwargs)
	}
	var meta map[string]any
	if len(m.Meta) > 0 {
		_ = json.Unmarshal(m.Meta, &meta)
	}
	return &task.Task{
		Descriptor: task.Descriptor{
			Name:     m.Name,
			Args:     args,
			Kwargs:   kwargs,
			Metadata: meta,
		},
		ID:              m.ID,
		Priority:        m.Priority,
		ScheduledAt:     m.ScheduledAt,
		RecurrenceCron:  m.RecurrenceCron,
		IsRecurring:     m.IsRecurring,
		MaxRetries:      m.MaxRetries,
		Strategy:        retry.Strategy(m.Strategy),
		BackoffBase:     time.Duration(m.BackoffBase),
		MaxBackoff:      time.Duration(m.MaxBackoff),
		Increment:       time.Duration(m.Increment),
		TimeoutSeconds:  m.TimeoutSecs,
		Status:          m.Status,
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		FailedAt:        m.FailedAt,
		UpdatedAt:       m.UpdatedAt,
		WorkerID:        m.WorkerID,
		ErrorMessage:    m.ErrorMessage,
		Result:          m.Result,
		ParentTaskID:    m.ParentTaskID,
		DependsOn:       dependsOn,
		WorkflowID:      m.WorkflowID,
		Skipped:         m.Skipped,
		CancelRequested: m.CancelReq,
	}
}

func fromTask(t *task.Task) *taskModel {
	args, _ := json.Marshal(t.Args)
	kwargs, _ := json.Marshal(t.Kwargs)
	meta, _ := json.Marshal(t.Metadata)
	return &taskModel{
		ID:             t.ID,
		Name:           t.Name,
		Args:           args,
		Kwargs:         kwargs,
		Meta:           meta,
		Priority:       t.Priority,
		ScheduledAt:    t.ScheduledAt,
		RecurrenceCron: t.RecurrenceCron,
		IsRecurring:    t.IsRecurring,
		MaxRetries:     t.MaxRetries,
		Strategy:       string(t.Strategy),
		BackoffBase:    int64(t.BackoffBase),
		MaxBackoff:     int64(t.MaxBackoff),
		Increment:      int64(t.Increment),
		TimeoutSecs:    t.TimeoutSeconds,
		Status:         t.Status,
		RetryCount:     t.RetryCount,
		NextRetryAt:    t.NextRetryAt,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		FailedAt:       t.FailedAt,
		UpdatedAt:      t.UpdatedAt,
		WorkerID:       t.WorkerID,
		ErrorMessage:   t.ErrorMessage,
		Result:         t.Result,
		ParentTaskID:   t.ParentTaskID,
		WorkflowID:     t.WorkflowID,
		Skipped:        t.Skipped,
		CancelReq:      t.CancelRequested,
	}
}

type workerModel struct {
	bun.BaseModel `bun:"table:workers"`

	ID             uuid.UUID     `bun:"id,pk,type:uuid"`
	Hostname       string        `bun:"hostname,notnull"`
	Capacity       int           `bun:"capacity,notnull"`
	CurrentLoad    int           `bun:"current_load,notnull,default:0"`
	Status         worker.Status `bun:"status,notnull"`
	LastHeartbeat  time.Time     `bun:"last_heartbeat,notnull"`
	TimeoutSeconds int           `bun:"timeout_seconds,notnull,default:30"`
	RegisteredAt   time.Time     `bun:"registered_at,notnull,default:current_timestamp"`
}

func toWorker(m *workerModel) *worker.Worker {
	return &worker.Worker{
		ID:             m.ID,
		Hostname:       m.Hostname,
		Capacity:       m.Capacity,
		CurrentLoad:    m.CurrentLoad,
		Status:         m.Status,
		LastHeartbeat:  m.LastHeartbeat,
		TimeoutSeconds: m.TimeoutSeconds,
		RegisteredAt:   m.RegisteredAt,
	}
}

func fromWorker(w *worker.Worker) *workerModel {
	return &workerModel{
		ID:             w.ID,
		Hostname:       w.Hostname,
		Capacity:       w.Capacity,
		CurrentLoad:    w.CurrentLoad,
		Status:         w.Status,
		LastHeartbeat:  w.LastHeartbeat,
		TimeoutSeconds: w.TimeoutSeconds,
		RegisteredAt:   w.RegisteredAt,
	}
}

// dependencyModel is one directed dependency edge, owned by the child.
// Condition, when non-empty, holds the JSON-encoded workflow.Condition
// gating the child's execution once the edge is otherwise satisfied.
type dependencyModel struct {
	bun.BaseModel `bun:"table:dependencies"`

	ID         int64     `bun:"id,pk,autoincrement"`
	ParentID   uuid.UUID `bun:"parent_id,type:uuid,notnull"`
	ChildID    uuid.UUID `bun:"child_id,type:uuid,notnull"`
	Kind       string    `bun:"kind,notnull"`
	WorkflowID uuid.UUID `bun:"workflow_id,type:uuid,notnull"`
	Condition  []byte    `bun:"condition,type:jsonb"`
}

// dlqModel is a final-failure record retaining the original descriptor.
type dlqModel struct {
	bun.BaseModel `bun:"table:dlq_entries"`

	ID         int64     `bun:"id,pk,autoincrement"`
	TaskID     uuid.UUID `bun:"task_id,type:uuid,notnull"`
	Reason     string    `bun:"reason,notnull"`
	Attempts   uint32    `bun:"attempts,notnull"`
	Descriptor []byte    `bun:"descriptor,type:jsonb,notnull"`
	MovedAt    time.Time `bun:"moved_at,notnull,default:current_timestamp"`
}

// executionModel is one append-only attempt record for a task.
type executionModel struct {
	bun.BaseModel `bun:"table:executions"`

	ID        int64       `bun:"id,pk,autoincrement"`
	TaskID    uuid.UUID   `bun:"task_id,type:uuid,notnull"`
	Attempt   uint32      `bun:"attempt,notnull"`
	WorkerID  uuid.UUID   `bun:"worker_id,type:uuid,notnull"`
	StartedAt time.Time   `bun:"started_at,notnull"`
	EndedAt   time.Time   `bun:"ended_at,notnull"`
	Outcome   task.Status `bun:"outcome,notnull"`
	Error     string      `bun:"error"`
}

func toExecution(m *executionModel) *task.ExecutionRecord {
	return &task.ExecutionRecord{
		TaskID:    m.TaskID,
		Attempt:   m.Attempt,
		WorkerID:  m.WorkerID,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Outcome:   m.Outcome,
		Error:     m.Error,
	}
}

func fromExecution(r *task.ExecutionRecord) *executionModel {
	return &executionModel{
		TaskID:    r.TaskID,
		Attempt:   r.Attempt,
		WorkerID:  r.WorkerID,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Outcome:   r.Outcome,
		Error:     r.Error,
	}
}
