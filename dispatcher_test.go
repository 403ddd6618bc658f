package taskqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewire/taskqueue/broker"
	"github.com/corewire/taskqueue/retry"
	"github.com/corewire/taskqueue/store"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/worker"
)

// dispStore is a minimal in-memory Store sufficient for the dispatcher's
// claim/execute/resolve path. It does not model dependency edges since no
// dispatcher test submits a workflow.
type dispStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task
	dlq   []store.DLQEntry
}

func newDispStore() *dispStore {
	return &dispStore{tasks: make(map[uuid.UUID]*task.Task)}
}

func (s *dispStore) put(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
}

func (s *dispStore) InsertTask(_ context.Context, t *task.Task) error {
	s.put(t)
	return nil
}

func (s *dispStore) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *dispStore) UpdateTaskStatus(_ context.Context, id uuid.UUID, from, to task.Status, extra *store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrConditionFailed
	}
	if t.Status != from {
		return store.ErrConditionFailed
	}
	t.Status = to
	if extra != nil {
		if extra.StartedAt != nil {
			t.StartedAt = extra.StartedAt
		}
		if extra.CompletedAt != nil {
			t.CompletedAt = extra.CompletedAt
		}
		if extra.FailedAt != nil {
			t.FailedAt = extra.FailedAt
		}
		if extra.WorkerID != nil {
			t.WorkerID = extra.WorkerID
		}
		if extra.ClearWorker {
			t.WorkerID = nil
		}
		if extra.ErrorMessage != nil {
			t.ErrorMessage = *extra.ErrorMessage
		}
		if extra.Result != nil {
			t.Result = extra.Result
		}
		if extra.RetryCount != nil {
			t.RetryCount = *extra.RetryCount
		}
		if extra.NextRetryAt != nil {
			t.NextRetryAt = extra.NextRetryAt
		}
		if extra.ClearNextRetryAt {
			t.NextRetryAt = nil
		}
		if extra.Skipped != nil {
			t.Skipped = *extra.Skipped
		}
	}
	return nil
}

func (s *dispStore) AppendExecutionRecord(_ context.Context, _ *task.ExecutionRecord) error {
	return nil
}

func (s *dispStore) InsertDLQEntry(_ context.Context, taskID uuid.UUID, reason string, attempts uint32, descriptor task.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlq = append(s.dlq, store.DLQEntry{ID: int64(len(s.dlq) + 1), TaskID: taskID, Reason: reason, Attempts: attempts, Descriptor: descriptor, MovedAt: time.Now()})
	return nil
}

func (s *dispStore) ListDLQ(_ context.Context, limit int) ([]store.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.DLQEntry(nil), s.dlq...), nil
}

func (s *dispStore) RemoveDLQEntry(_ context.Context, id int64) error { return nil }

func (s *dispStore) ListParents(_ context.Context, _ uuid.UUID) ([]store.DependencyEdge, error) {
	return nil, nil
}

func (s *dispStore) ListDependents(_ context.Context, _ uuid.UUID) ([]store.DependencyEdge, error) {
	return nil, nil
}

// dispBroker is a minimal in-memory Broker; the dispatcher tests never pull
// from it (handle is invoked directly with a known id), they only need the
// side-effecting calls Lifecycle makes during Claim/Complete/Fail/Timeout
// not to fail.
type dispBroker struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	dlq       []broker.DLQEntry
	published []task.Status
}

func newDispBroker() *dispBroker {
	return &dispBroker{scheduled: make(map[uuid.UUID]time.Time)}
}

func (b *dispBroker) Enqueue(_ context.Context, _ uuid.UUID, _ int) error { return nil }

func (b *dispBroker) Dequeue(ctx context.Context, _ time.Duration) (uuid.UUID, bool, error) {
	<-ctx.Done()
	return uuid.Nil, false, ctx.Err()
}

func (b *dispBroker) RemoveQueued(_ context.Context, _ uuid.UUID, _ int) error { return nil }

func (b *dispBroker) ScheduleAt(_ context.Context, taskID uuid.UUID, due time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scheduled[taskID] = due
	return nil
}

func (b *dispBroker) RemoveScheduled(_ context.Context, _ uuid.UUID) error { return nil }

func (b *dispBroker) SetMirror(_ context.Context, _ uuid.UUID, _ broker.Mirror) error { return nil }

func (b *dispBroker) DeleteMirror(_ context.Context, _ uuid.UUID) error { return nil }

func (b *dispBroker) PublishCompletion(_ context.Context, _ uuid.UUID, status task.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, status)
	return nil
}

func (b *dispBroker) PushDLQ(_ context.Context, e broker.DLQEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dlq = append(b.dlq, e)
	return nil
}

func (b *dispBroker) RemoveDLQ(_ context.Context, _ uuid.UUID) error { return nil }

func (b *dispBroker) Allow(_ context.Context, _ string, _ int64, _ time.Duration) (bool, error) {
	return true, nil
}

// memWorkerStore backs worker.Controller for dispatcher tests. Heartbeat is
// the only method the dispatch loop actually exercises.
type memWorkerStore struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*worker.Worker
}

func newMemWorkerStore() *memWorkerStore {
	return &memWorkerStore{workers: make(map[uuid.UUID]*worker.Worker)}
}

func (m *memWorkerStore) InsertWorker(_ context.Context, w *worker.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.workers[w.ID] = &cp
	return nil
}

func (m *memWorkerStore) GetWorker(_ context.Context, id uuid.UUID) (*worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *memWorkerStore) UpdateWorkerStatus(_ context.Context, id uuid.UUID, from, to worker.Status) (*worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, worker.ErrNotFound
	}
	if w.Status != from {
		return nil, worker.ErrInvalidTransition
	}
	w.Status = to
	cp := *w
	return &cp, nil
}

func (m *memWorkerStore) UpdateWorkerHeartbeat(_ context.Context, id uuid.UUID, currentLoad int, status worker.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return worker.ErrNotFound
	}
	w.CurrentLoad = currentLoad
	w.Status = status
	w.LastHeartbeat = time.Now()
	return nil
}

func (m *memWorkerStore) UpdateWorkerCapacity(_ context.Context, id uuid.UUID, capacity int) error {
	return nil
}

func (m *memWorkerStore) UpdateWorkerTimeout(_ context.Context, id uuid.UUID, timeoutSeconds int) error {
	return nil
}

func (m *memWorkerStore) ListExpiredWorkers(_ context.Context, _ time.Duration) ([]worker.Worker, error) {
	return nil, nil
}

func dispTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDispatcherHarness wires a Dispatcher against in-memory fakes, bypassing
// Start/Stop: tests call handle/invoke directly against a pre-seeded task.
func newDispatcherHarness(t *testing.T, handler MessageHandler) (*Dispatcher, *dispStore, *dispBroker) {
	t.Helper()
	s := newDispStore()
	b := newDispBroker()
	log := dispTestLogger()
	lc := NewLifecycle(s, b, true, log)
	ctrl := worker.NewController(newMemWorkerStore(), worker.SweepConfig{}, nil, log)
	workerID := uuid.New()
	ctx := context.Background()
	_, err := ctrl.Register(ctx, "host-1", 4)
	require.NoError(t, err)

	d := NewDispatcher(lc, ctrl, b, workerID, handler, &DispatcherConfig{
		Capacity:          1,
		Queue:             1,
		DequeueTimeout:    50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}, log)
	return d, s, b
}

func seedQueuedTask(t *testing.T, s *dispStore, priority int, timeoutSeconds int) *task.Task {
	t.Helper()
	tk := task.New("job", priority)
	tk.TimeoutSeconds = timeoutSeconds
	tk.Status = task.Queued
	s.put(tk)
	return tk
}

func TestHandleCompletesSuccessfulTask(t *testing.T) {
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	}
	d, s, _ := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 30)

	d.handle(context.Background(), tk.ID)

	got, err := s.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Completed, got.Status)
	assert.Equal(t, []byte(`{"ok":true}`), got.Result)
}

func TestHandleClaimLostRaceIsNoop(t *testing.T) {
	called := false
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		called = true
		return nil, nil
	}
	d, s, _ := newDispatcherHarness(t, handler)
	tk := task.New("job", 5)
	tk.TimeoutSeconds = 30
	tk.Status = task.Running // already claimed by someone else
	s.put(tk)

	d.handle(context.Background(), tk.ID)

	assert.False(t, called, "handler must not run when claim loses the race")
}

func TestHandleFailsOnHandlerError(t *testing.T) {
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		return nil, &HandlerError{Class: "ValidationError", Message: "bad kwargs"}
	}
	d, s, b := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 30)

	d.handle(context.Background(), tk.ID)

	got, err := s.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Failed, got.Status)
	assert.Equal(t, "bad kwargs", got.ErrorMessage)
	require.Len(t, b.dlq, 1)
	assert.Equal(t, tk.ID, b.dlq[0].TaskID)
}

func TestHandlePanicRecoversAndFails(t *testing.T) {
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		panic("boom")
	}
	d, s, _ := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 30)
	tk2 := *tk
	tk2.MaxRetries = 0 // force terminal failure rather than a scheduled retry
	s.put(&tk2)

	d.handle(context.Background(), tk.ID)

	got, err := s.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Failed, got.Status, "a panicking handler must still reach a terminal transition")
	assert.Contains(t, got.ErrorMessage, "boom")
}

func TestHandleTimeoutTriggersTimeoutTransition(t *testing.T) {
	handler := func(ctx context.Context, _ *task.Task) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d, s, b := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 1) // minimum legal timeout_seconds
	tk2 := *tk
	tk2.MaxRetries = 0
	s.put(&tk2)

	start := time.Now()
	d.handle(context.Background(), tk.ID)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Second, "handle must wait out the full timeout before transitioning")

	got, err := s.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Timeout, got.Status, "a timed-out task with no retries left rests in TIMEOUT once DLQ'd")
	require.Len(t, b.dlq, 1)
}

func TestHandleRetryableFailureSchedulesRetryNotDLQ(t *testing.T) {
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	d, s, b := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 30)
	tk2 := *tk
	tk2.MaxRetries = 3
	tk2.Strategy = retry.Immediate
	s.put(&tk2)

	d.handle(context.Background(), tk.ID)

	got, err := s.GetTask(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Retrying, got.Status)
	assert.Equal(t, uint32(1), got.RetryCount)
	assert.Empty(t, b.dlq)
}

func TestLoadReflectsInFlightHandlerCount(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	handler := func(_ context.Context, _ *task.Task) ([]byte, error) {
		close(started)
		<-release
		return []byte("done"), nil
	}
	d, s, _ := newDispatcherHarness(t, handler)
	tk := seedQueuedTask(t, s, 5, 30)

	done := make(chan struct{})
	go func() {
		d.handle(context.Background(), tk.ID)
		close(done)
	}()

	<-started
	assert.Equal(t, 1, d.Load())
	close(release)
	<-done
	assert.Equal(t, 0, d.Load())
}
