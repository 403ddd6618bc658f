package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewire/taskqueue/worker"
)

type memStore struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*worker.Worker
}

func newMemStore() *memStore {
	return &memStore{workers: make(map[uuid.UUID]*worker.Worker)}
}

func (m *memStore) InsertWorker(_ context.Context, w *worker.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.workers[w.ID] = &cp
	return nil
}

func (m *memStore) GetWorker(_ context.Context, id uuid.UUID) (*worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) UpdateWorkerStatus(_ context.Context, id uuid.UUID, from, to worker.Status) (*worker.Worker, error) {
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

func (m *memStore) UpdateWorkerHeartbeat(_ context.Context, id uuid.UUID, currentLoad int, status worker.Status) error {
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

func (m *memStore) UpdateWorkerCapacity(_ context.Context, id uuid.UUID, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return worker.ErrNotFound
	}
	w.Capacity = capacity
	return nil
}

func (m *memStore) UpdateWorkerTimeout(_ context.Context, id uuid.UUID, timeoutSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return worker.ErrNotFound
	}
	w.TimeoutSeconds = timeoutSeconds
	return nil
}

func (m *memStore) ListExpiredWorkers(_ context.Context, deadTimeout time.Duration) ([]worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []worker.Worker
	for _, w := range m.workers {
		if w.Expired(now, deadTimeout) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func TestRegisterRejectsNonPositiveCapacity(t *testing.T) {
	ctrl := worker.NewController(newMemStore(), worker.SweepConfig{}, nil, nil)
	_, err := ctrl.Register(context.Background(), "host-1", 0)
	assert.ErrorIs(t, err, worker.ErrCapacityOutOfRange)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	store := newMemStore()
	ctrl := worker.NewController(store, worker.SweepConfig{}, nil, nil)
	ctx := context.Background()

	w, err := ctrl.Register(ctx, "host-1", 4)
	require.NoError(t, err)

	require.NoError(t, ctrl.Heartbeat(ctx, w.ID, 0, worker.Active))

	got, err := ctrl.Pause(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.Paused, got.Status)

	got, err = ctrl.Resume(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.Active, got.Status)
}

func TestDrainThenTerminate(t *testing.T) {
	store := newMemStore()
	ctrl := worker.NewController(store, worker.SweepConfig{}, nil, nil)
	ctx := context.Background()

	w, err := ctrl.Register(ctx, "host-1", 4)
	require.NoError(t, err)
	require.NoError(t, store.UpdateWorkerHeartbeat(ctx, w.ID, 0, worker.Active))

	_, err = ctrl.Drain(ctx, w.ID)
	require.NoError(t, err)

	_, err = ctrl.Terminate(ctx, w.ID)
	require.NoError(t, err)

	_, err = ctrl.Resume(ctx, w.ID)
	assert.ErrorIs(t, err, worker.ErrInvalidTransition, "DEAD must be terminal")
}

func TestSweepOrphansMarksExpiredDeadAndNotifies(t *testing.T) {
	store := newMemStore()
	w := worker.New("host-1", 4)
	w.Status = worker.Active
	w.LastHeartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertWorker(context.Background(), w))

	var notified []worker.Worker
	ctrl := worker.NewController(store, worker.SweepConfig{DeadTimeout: time.Minute}, func(_ context.Context, dead []worker.Worker) {
		notified = append(notified, dead...)
	}, nil)

	dead, err := ctrl.SweepOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, w.ID, dead[0].ID)
	require.Len(t, notified, 1)

	got, err := store.GetWorker(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.Dead, got.Status)
}

func TestSweepOrphansStartStop(t *testing.T) {
	store := newMemStore()
	w := worker.New("host-1", 4)
	w.Status = worker.Active
	w.LastHeartbeat = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertWorker(context.Background(), w))

	sweeps := make(chan struct{}, 4)
	ctrl := worker.NewController(store, worker.SweepConfig{Interval: 5 * time.Millisecond, DeadTimeout: time.Minute}, func(_ context.Context, _ []worker.Worker) {
		select {
		case sweeps <- struct{}{}:
		default:
		}
	}, nil)

	require.NoError(t, ctrl.Start(context.Background()))
	select {
	case <-sweeps:
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}
	require.NoError(t, ctrl.Stop(time.Second))
}
