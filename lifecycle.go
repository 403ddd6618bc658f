package taskqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/broker"
	"github.com/corewire/taskqueue/cron"
	"github.com/corewire/taskqueue/retry"
	"github.com/corewire/taskqueue/store"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/workflow"
)

// Store is the persistence boundary Lifecycle depends on. store.Store
// implements it. It deliberately omits the transactional methods
// SubmitWorkflow needs (see WorkflowStore in submit.go): every other
// Lifecycle method only ever touches a single task row at a time, so a
// test fake backing this interface never needs to fake a transaction.
type Store interface {
	InsertTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, from, to task.Status, extra *store.StatusUpdate) error
	AppendExecutionRecord(ctx context.Context, r *task.ExecutionRecord) error
	InsertDLQEntry(ctx context.Context, taskID uuid.UUID, reason string, attempts uint32, descriptor task.Descriptor) error
	ListDLQ(ctx context.Context, limit int) ([]store.DLQEntry, error)
	RemoveDLQEntry(ctx context.Context, id int64) error
	ListParents(ctx context.Context, child uuid.UUID) ([]store.DependencyEdge, error)
	ListDependents(ctx context.Context, parent uuid.UUID) ([]store.DependencyEdge, error)
}

// Broker is the Queue Broker boundary Lifecycle depends on. broker.Broker
// implements it.
type Broker interface {
	Enqueue(ctx context.Context, taskID uuid.UUID, priority int) error
	Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error)
	RemoveQueued(ctx context.Context, taskID uuid.UUID, priority int) error
	ScheduleAt(ctx context.Context, taskID uuid.UUID, due time.Time) error
	RemoveScheduled(ctx context.Context, taskID uuid.UUID) error
	SetMirror(ctx context.Context, taskID uuid.UUID, m broker.Mirror) error
	DeleteMirror(ctx context.Context, taskID uuid.UUID) error
	PublishCompletion(ctx context.Context, taskID uuid.UUID, status task.Status) error
	PushDLQ(ctx context.Context, e broker.DLQEntry) error
	RemoveDLQ(ctx context.Context, taskID uuid.UUID) error
	Allow(ctx context.Context, resource string, limit int64, window time.Duration) (bool, error)
}

// Lifecycle implements every named status transition of the Task
// Lifecycle against a Store/Broker pair, applying the Retry Policy on
// failure and advancing Workflow Engine readiness on completion.
//
// A single conditional Store update (keyed on the prior status) backs
// every transition, so concurrent callers racing the same task lose
// predictably: the loser observes an unchanged task rather than a
// corrupted one.
type Lifecycle struct {
	store      Store
	broker     Broker
	dlqEnabled bool
	log        *slog.Logger

	submitRateLimit  int64
	submitRateWindow time.Duration
}

// NewLifecycle builds a Lifecycle. dlqEnabled mirrors config.Config's
// DLQEnabled: when false, terminally-failed tasks are left FAILED without
// a DLQ entry, matching DLQ_ENABLED=false.
func NewLifecycle(st Store, br Broker, dlqEnabled bool, log *slog.Logger) *Lifecycle {
	return &Lifecycle{store: st, broker: br, dlqEnabled: dlqEnabled, log: log}
}

// SetSubmitRateLimit enables the Submit-boundary throughput cap: once
// limit admissions have been made within window, further Submit calls are
// rejected with ErrCapacityExceeded until the window rolls over. Disabled
// (the default) when limit is non-positive.
func (l *Lifecycle) SetSubmitRateLimit(limit int64, window time.Duration) {
	l.submitRateLimit = limit
	l.submitRateWindow = window
}

// Submit validates and persists a new task. A task with no unresolved
// dependencies and no future scheduled-at is queued immediately
// (PENDING -> QUEUED); one with a future scheduled-at is left PENDING and
// mirrored into the Broker's scheduled set; one with unresolved
// dependencies is left PENDING for the Workflow Engine to queue once its
// parents resolve.
func (l *Lifecycle) Submit(ctx context.Context, t *task.Task) (uuid.UUID, error) {
	if err := t.Validate(); err != nil {
		return uuid.Nil, err
	}
	if l.submitRateLimit > 0 {
		allowed, err := l.broker.Allow(ctx, "submit", l.submitRateLimit, l.submitRateWindow)
		if err != nil {
			return uuid.Nil, wrapBroker(err)
		}
		if !allowed {
			return uuid.Nil, ErrCapacityExceeded
		}
	}
	if t.IsRecurring {
		if err := cron.Validate(t.RecurrenceCron); err != nil {
			return uuid.Nil, ErrInvalidCron
		}
	}
	if err := l.store.InsertTask(ctx, t); err != nil {
		return uuid.Nil, wrapStore(err)
	}

	if t.ScheduledAt != nil && t.ScheduledAt.After(time.Now()) {
		if err := l.broker.ScheduleAt(ctx, t.ID, *t.ScheduledAt); err != nil {
			return t.ID, wrapBroker(err)
		}
		return t.ID, nil
	}
	if len(t.DependsOn) > 0 {
		return t.ID, nil
	}
	if err := l.queue(ctx, t.ID, t.Priority, task.Pending); err != nil {
		return t.ID, err
	}
	return t.ID, nil
}

// queue performs the PENDING|RETRYING -> QUEUED transition and mirrors the
// task into the Broker's priority list.
func (l *Lifecycle) queue(ctx context.Context, id uuid.UUID, priority int, from task.Status) error {
	if err := l.store.UpdateTaskStatus(ctx, id, from, task.Queued, nil); err != nil {
		if err == store.ErrConditionFailed {
			return nil // another actor already queued or cancelled it
		}
		return wrapStore(err)
	}
	if err := l.broker.Enqueue(ctx, id, priority); err != nil {
		return wrapBroker(err)
	}
	if err := l.broker.SetMirror(ctx, id, broker.Mirror{Status: task.Queued, Priority: priority, UpdatedAt: time.Now()}); err != nil {
		l.log.Warn("mirror write failed after enqueue", "id", id, "err", err)
	}
	return nil
}

// Claim performs the Dispatch Loop's claim step: QUEUED -> RUNNING,
// conditional on current status being QUEUED. A nil, nil result means
// another worker or a cancellation won the race; per the Dispatch Loop's
// contract, the caller must log and discard, not retry the claim.
func (l *Lifecycle) Claim(ctx context.Context, taskID, workerID uuid.UUID) (*task.Task, error) {
	now := time.Now()
	err := l.store.UpdateTaskStatus(ctx, taskID, task.Queued, task.Running, &store.StatusUpdate{
		StartedAt: &now,
		WorkerID:  &workerID,
	})
	if err != nil {
		if err == store.ErrConditionFailed {
			return nil, nil
		}
		return nil, wrapStore(err)
	}
	t, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, wrapStore(err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if err := l.broker.SetMirror(ctx, taskID, broker.Mirror{Status: task.Running, Priority: t.Priority, WorkerID: workerID.String(), UpdatedAt: now}); err != nil {
		l.log.Warn("mirror write failed after claim", "id", taskID, "err", err)
	}
	return t, nil
}

// Complete performs RUNNING -> COMPLETED, appends an execution record,
// publishes the completion event and advances any workflow children
// waiting on this task.
func (l *Lifecycle) Complete(ctx context.Context, t *task.Task, workerID uuid.UUID, result []byte) error {
	now := time.Now()
	err := l.store.UpdateTaskStatus(ctx, t.ID, task.Running, task.Completed, &store.StatusUpdate{
		CompletedAt: &now,
		Result:      result,
	})
	if err != nil {
		if err == store.ErrConditionFailed {
			return nil
		}
		return wrapStore(err)
	}
	l.recordExecution(ctx, t, workerID, now, task.Completed, "")
	_ = l.broker.DeleteMirror(ctx, t.ID)
	if err := l.broker.PublishCompletion(ctx, t.ID, task.Completed); err != nil {
		l.log.Warn("completion publish failed", "id", t.ID, "err", err)
	}
	return l.advanceDependents(ctx, t.ID, result)
}

// Fail performs RUNNING -> FAILED, then applies the Retry Policy: a
// retryable error class with retries remaining schedules a RETRYING
// transition and a Broker scheduled-set entry the Scheduler will later
// promote back to QUEUED; otherwise the task reaches its terminal FAILED
// state, a DLQ entry is appended (unless DLQ is disabled), and any
// workflow children gated on this task are propagated to FAILED.
func (l *Lifecycle) Fail(ctx context.Context, t *task.Task, workerID uuid.UUID, errClass, message string) error {
	now := time.Now()
	err := l.store.UpdateTaskStatus(ctx, t.ID, task.Running, task.Failed, &store.StatusUpdate{
		FailedAt:     &now,
		ErrorMessage: &message,
	})
	if err != nil {
		if err == store.ErrConditionFailed {
			return nil
		}
		return wrapStore(err)
	}
	l.recordExecution(ctx, t, workerID, now, task.Failed, message)

	if retry.Classify(errClass) {
		delay, ok, rerr := retry.Compute(t.RetryCount, retry.Config{
			MaxRetries:  t.MaxRetries,
			Strategy:    t.Strategy,
			BackoffBase: t.BackoffBase,
			MaxBackoff:  t.MaxBackoff,
			Increment:   t.Increment,
		})
		if rerr == nil && ok {
			return l.scheduleRetry(ctx, t, delay)
		}
	}
	return l.terminalFail(ctx, t, message)
}

// Timeout performs RUNNING -> TIMEOUT when the Dispatch Loop's per-attempt
// deadline expires, then applies the same retry-vs-terminal decision as
// Fail with a synthesized "timeout" error class.
func (l *Lifecycle) Timeout(ctx context.Context, t *task.Task, workerID uuid.UUID) error {
	now := time.Now()
	message := "attempt exceeded timeout_seconds"
	err := l.store.UpdateTaskStatus(ctx, t.ID, task.Running, task.Timeout, &store.StatusUpdate{
		FailedAt:     &now,
		ErrorMessage: &message,
	})
	if err != nil {
		if err == store.ErrConditionFailed {
			return nil
		}
		return wrapStore(err)
	}
	l.recordExecution(ctx, t, workerID, now, task.Timeout, message)

	delay, ok, rerr := retry.Compute(t.RetryCount, retry.Config{
		MaxRetries:  t.MaxRetries,
		Strategy:    t.Strategy,
		BackoffBase: t.BackoffBase,
		MaxBackoff:  t.MaxBackoff,
		Increment:   t.Increment,
	})
	if rerr == nil && ok {
		return l.scheduleRetryFrom(ctx, t, task.Timeout, delay)
	}
	return l.terminalFailFrom(ctx, t, task.Timeout, message)
}

func (l *Lifecycle) scheduleRetry(ctx context.Context, t *task.Task, delay time.Duration) error {
	return l.scheduleRetryFrom(ctx, t, task.Failed, delay)
}

func (l *Lifecycle) scheduleRetryFrom(ctx context.Context, t *task.Task, from task.Status, delay time.Duration) error {
	next := time.Now().Add(delay)
	newCount := t.RetryCount + 1
	err := l.store.UpdateTaskStatus(ctx, t.ID, from, task.Retrying, &store.StatusUpdate{
		NextRetryAt: &next,
		RetryCount:  &newCount,
	})
	if err != nil {
		if err == store.ErrConditionFailed {
			return nil
		}
		return wrapStore(err)
	}
	_ = l.broker.DeleteMirror(ctx, t.ID)
	if err := l.broker.ScheduleAt(ctx, t.ID, next); err != nil {
		return wrapBroker(err)
	}
	return nil
}

func (l *Lifecycle) terminalFail(ctx context.Context, t *task.Task, reason string) error {
	return l.terminalFailFrom(ctx, t, task.Failed, reason)
}

func (l *Lifecycle) terminalFailFrom(ctx context.Context, t *task.Task, status task.Status, reason string) error {
	if l.dlqEnabled {
		attempts := t.RetryCount + 1
		if err := l.store.InsertDLQEntry(ctx, t.ID, reason, attempts, t.Descriptor); err != nil {
			l.log.Error("dlq insert failed", "id", t.ID, "err", err)
		}
		descriptor, err := json.Marshal(t.Descriptor)
		if err != nil {
			l.log.Error("dlq descriptor marshal failed", "id", t.ID, "err", err)
		}
		if err := l.broker.PushDLQ(ctx, broker.DLQEntry{
			TaskID:     t.ID,
			Reason:     reason,
			Attempts:   attempts,
			Descriptor: descriptor,
			MovedAt:    time.Now(),
		}); err != nil {
			l.log.Error("dlq mirror push failed", "id", t.ID, "err", err)
		}
	}
	_ = l.broker.DeleteMirror(ctx, t.ID)
	if err := l.broker.PublishCompletion(ctx, t.ID, status); err != nil {
		l.log.Warn("completion publish failed", "id", t.ID, "err", err)
	}
	return l.propagateFailure(ctx, t.ID, reason)
}

func (l *Lifecycle) recordExecution(ctx context.Context, t *task.Task, workerID uuid.UUID, end time.Time, outcome task.Status, errMsg string) {
	started := end
	if t.StartedAt != nil {
		started = *t.StartedAt
	}
	rec := &task.ExecutionRecord{
		TaskID:    t.ID,
		Attempt:   t.RetryCount + 1,
		WorkerID:  workerID,
		StartedAt: started,
		EndedAt:   end,
		Outcome:   outcome,
		Error:     errMsg,
	}
	if err := l.store.AppendExecutionRecord(ctx, rec); err != nil {
		l.log.Error("execution record append failed", "id", t.ID, "err", err)
	}
}

// Release reverts a claimed task back to QUEUED without recording a
// failure, used when a worker cannot take on work it already dequeued
// (e.g. it is draining). It is the inverse of Claim.
func (l *Lifecycle) Release(ctx context.Context, t *task.Task) error {
	return l.queue(ctx, t.ID, t.Priority, task.Running)
}

// Cancel transitions a task to CANCELLED from whatever non-terminal
// status it currently holds. It returns ErrInvalidTransition if the
// current status has no legal path to CANCELLED (i.e. it is already
// terminal).
func (l *Lifecycle) Cancel(ctx context.Context, taskID uuid.UUID) (task.Status, error) {
	t, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return task.Unknown, wrapStore(err)
	}
	if t == nil {
		return task.Unknown, ErrNotFound
	}
	if err := task.ValidateTransition(t.Status, task.Cancelled); err != nil {
		return t.Status, ErrInvalidTransition
	}
	if err := l.store.UpdateTaskStatus(ctx, taskID, t.Status, task.Cancelled, nil); err != nil {
		if err == store.ErrConditionFailed {
			return t.Status, ErrInvalidTransition
		}
		return t.Status, wrapStore(err)
	}
	if t.Status == task.Queued {
		_ = l.broker.RemoveQueued(ctx, taskID, t.Priority)
	}
	if t.ScheduledAt != nil || t.Status == task.Retrying {
		_ = l.broker.RemoveScheduled(ctx, taskID)
	}
	_ = l.broker.DeleteMirror(ctx, taskID)
	if err := l.broker.PublishCompletion(ctx, taskID, task.Cancelled); err != nil {
		l.log.Warn("completion publish failed", "id", taskID, "err", err)
	}
	return task.Cancelled, l.propagateFailure(ctx, taskID, "parent task cancelled")
}

// RequeueDLQ resubmits a DLQ entry's descriptor as a fresh task and
// removes the entry, returning the new task's id.
func (l *Lifecycle) RequeueDLQ(ctx context.Context, entryID int64) (uuid.UUID, error) {
	entries, err := l.store.ListDLQ(ctx, 0)
	if err != nil {
		return uuid.Nil, wrapStore(err)
	}
	var entry *store.DLQEntry
	for i := range entries {
		if entries[i].ID == entryID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return uuid.Nil, ErrNotFound
	}

	// Neither priority nor retry policy survive in a DLQ entry, only the
	// descriptor does; requeue at medium priority with a conservative
	// timeout and no further retries rather than guessing the original
	// task's policy.
	fresh := task.New(entry.Descriptor.Name, 5)
	fresh.Descriptor = entry.Descriptor
	fresh.TimeoutSeconds = 30
	newID, err := l.Submit(ctx, fresh)
	if err != nil {
		return uuid.Nil, err
	}
	if err := l.store.RemoveDLQEntry(ctx, entry.ID); err != nil {
		l.log.Error("dlq entry removal failed", "id", entry.ID, "err", err)
	}
	_ = l.broker.RemoveDLQ(ctx, entry.TaskID)
	return newID, nil
}

// advanceDependents consults the Workflow Engine for every task depending
// on parent, enqueuing, skipping or failing each one whose readiness
// changed as a result of parent's completion.
func (l *Lifecycle) advanceDependents(ctx context.Context, parent uuid.UUID, parentResult []byte) error {
	dependents, err := l.store.ListDependents(ctx, parent)
	if err != nil {
		return wrapStore(err)
	}
	seen := make(map[uuid.UUID]bool, len(dependents))
	for _, edge := range dependents {
		if seen[edge.ChildID] {
			continue
		}
		seen[edge.ChildID] = true
		if err := l.advanceChild(ctx, edge.ChildID); err != nil {
			l.log.Error("workflow advance failed", "child", edge.ChildID, "err", err)
		}
	}
	_ = parentResult
	return nil
}

// advanceChild rebuilds the immediate-parents subgraph of child and asks
// workflow.Graph.Advance whether it is now ready, should be skipped by a
// condition, or should be failed by propagation.
func (l *Lifecycle) advanceChild(ctx context.Context, childID uuid.UUID) error {
	edges, err := l.store.ListParents(ctx, childID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	childName := childID.String()
	wfEdges := make([]workflow.Edge, 0, len(edges))
	names := map[uuid.UUID]string{childID: childName}
	var condition *workflow.Condition
	for _, e := range edges {
		names[e.ParentID] = e.ParentID.String()
		wfEdges = append(wfEdges, workflow.Edge{
			Parent: e.ParentID.String(),
			Child:  childName,
			Kind:   workflow.DependencyKind(e.Kind),
		})
		if e.Condition != nil {
			condition = e.Condition
		}
	}
	nodes := make([]*workflow.Node, 0, len(names))
	for id, name := range names {
		nodes = append(nodes, &workflow.Node{Name: name, Condition: conditionFor(id, childID, condition)})
	}
	graph, err := workflow.Build(nodes, wfEdges)
	if err != nil {
		return err
	}

	cache := make(map[string]*task.Task, len(names))
	resolve := func(name string) (*task.Task, error) {
		if t, ok := cache[name]; ok {
			return t, nil
		}
		id, perr := uuid.Parse(name)
		if perr != nil {
			return nil, perr
		}
		t, gerr := l.store.GetTask(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		cache[name] = t
		return t, nil
	}

	var resolveErr error
	resolved := func(s task.Status) bool {
		return s == task.Completed || s == task.Failed || s == task.Timeout || s == task.Cancelled
	}
	state := func(name string) (workflow.NodeState, bool) {
		t, rerr := resolve(name)
		if rerr != nil {
			resolveErr = rerr
			return workflow.NodeState{}, false
		}
		if t == nil || !resolved(t.Status) {
			return workflow.NodeState{}, false
		}
		return workflow.NodeState{Status: t.Status, Result: t.Result}, true
	}
	resultsJSON := map[string]json.RawMessage{}
	for id, name := range names {
		if id == childID {
			continue
		}
		t, rerr := resolve(name)
		if rerr != nil {
			return rerr
		}
		if t != nil {
			resultsJSON[name] = t.Result
		}
	}

	decisions, err := graph.Advance(state, resultsJSON)
	if err != nil {
		return err
	}
	if resolveErr != nil {
		return resolveErr
	}

	for _, d := range decisions {
		if d.Node != childName {
			continue
		}
		t, rerr := resolve(childName)
		if rerr != nil {
			return rerr
		}
		if t == nil {
			return nil
		}
		return l.applyDecision(ctx, childID, t.Priority, d)
	}
	return nil
}

// applyDecision carries out a single workflow.Decision against a task that
// is still PENDING. Enqueue performs the ordinary PENDING -> QUEUED queue
// step; Skip marks the task COMPLETED(skipped) without ever dispatching
// it; PropagateFailure marks it FAILED and recurses the propagation to its
// own dependents. Shared by advanceChild (post-completion readiness) and
// SubmitWorkflow (initial readiness of a newly-persisted workflow's roots).
func (l *Lifecycle) applyDecision(ctx context.Context, id uuid.UUID, priority int, d workflow.Decision) error {
	switch d.Action {
	case workflow.Enqueue:
		return l.queue(ctx, id, priority, task.Pending)
	case workflow.Skip:
		now := time.Now()
		skipped := true
		if err := l.store.UpdateTaskStatus(ctx, id, task.Pending, task.Completed, &store.StatusUpdate{
			CompletedAt: &now,
			Skipped:     &skipped,
		}); err != nil && err != store.ErrConditionFailed {
			return wrapStore(err)
		}
		if err := l.broker.PublishCompletion(ctx, id, task.Completed); err != nil {
			l.log.Warn("completion publish failed", "id", id, "err", err)
		}
		return l.advanceDependents(ctx, id, nil)
	case workflow.PropagateFailure:
		now := time.Now()
		msg := d.Reason
		if err := l.store.UpdateTaskStatus(ctx, id, task.Pending, task.Failed, &store.StatusUpdate{
			FailedAt:     &now,
			ErrorMessage: &msg,
		}); err != nil && err != store.ErrConditionFailed {
			return wrapStore(err)
		}
		if err := l.broker.PublishCompletion(ctx, id, task.Failed); err != nil {
			l.log.Warn("completion publish failed", "id", id, "err", err)
		}
		return l.propagateFailure(ctx, id, d.Reason)
	}
	return nil
}

// conditionFor returns cond only when building the node for childID
// itself; parent nodes in the ad hoc subgraph never carry a condition.
func conditionFor(nodeID, childID uuid.UUID, cond *workflow.Condition) *workflow.Condition {
	if nodeID != childID {
		return nil
	}
	return cond
}

// propagateFailure transitions every dependent of failedParent to FAILED
// with a reason referencing it, recursing so no descendant is left
// PENDING indefinitely.
func (l *Lifecycle) propagateFailure(ctx context.Context, failedParent uuid.UUID, reason string) error {
	dependents, err := l.store.ListDependents(ctx, failedParent)
	if err != nil {
		return wrapStore(err)
	}
	for _, edge := range dependents {
		if err := l.advanceChild(ctx, edge.ChildID); err != nil {
			l.log.Error("failure propagation failed", "child", edge.ChildID, "err", err)
		}
	}
	return nil
}
