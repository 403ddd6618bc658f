package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/worker"
)

// InsertWorker persists a newly registered worker. Implements
// worker.Store.
func (s *Store) InsertWorker(ctx context.Context, w *worker.Worker) error {
	_, err := s.db.NewInsert().Model(fromWorker(w)).Exec(ctx)
	return err
}

// GetWorker retrieves a worker by id, returning (nil, nil) if absent.
// Implements worker.Store.
func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*worker.Worker, error) {
	var model workerModel
	err := s.db.NewSelect().Model(&model).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toWorker(&model), nil
}

// UpdateWorkerStatus conditionally transitions a worker's status,
// returning the updated snapshot. Implements worker.Store.
func (s *Store) UpdateWorkerStatus(ctx context.Context, id uuid.UUID, from, to worker.Status) (*worker.Worker, error) {
	var models []workerModel
	err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("status = ?", to).
		Where("id = ?", id).
		Where("status = ?", from).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, worker.ErrInvalidTransition
	}
	return toWorker(&models[0]), nil
}

// UpdateWorkerHeartbeat records current load, status and a refreshed
// last-heartbeat. Implements worker.Store.
func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, id uuid.UUID, currentLoad int, status worker.Status) error {
	res, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("current_load = ?", currentLoad).
		Set("status = ?", status).
		Set("last_heartbeat = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return worker.ErrNotFound
	}
	return nil
}

// UpdateWorkerCapacity changes a worker's concurrent-task capacity.
// Implements worker.Store.
func (s *Store) UpdateWorkerCapacity(ctx context.Context, id uuid.UUID, capacity int) error {
	res, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("capacity = ?", capacity).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return worker.ErrNotFound
	}
	return nil
}

// UpdateWorkerTimeout changes a worker's heartbeat dead-timeout. Implements
// worker.Store.
func (s *Store) UpdateWorkerTimeout(ctx context.Context, id uuid.UUID, timeoutSeconds int) error {
	res, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("timeout_seconds = ?", timeoutSeconds).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return worker.ErrNotFound
	}
	return nil
}

// ListExpiredWorkers returns ACTIVE, PAUSED, DRAINING or IDLE workers whose
// last-heartbeat is older than deadTimeout. Implements worker.Store.
func (s *Store) ListExpiredWorkers(ctx context.Context, deadTimeout time.Duration) ([]worker.Worker, error) {
	cutoff := time.Now().Add(-deadTimeout)
	var models []workerModel
	err := s.db.NewSelect().
		Model(&models).
		Where("status != ?", worker.Dead).
		Where("last_heartbeat < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]worker.Worker, 0, len(models))
	for i := range models {
		out = append(out, *toWorker(&models[i]))
	}
	return out, nil
}

// ReapRunningFor lists every RUNNING task assigned to workerID once that
// worker is swept to DEAD. It changes no task rows; neither this package
// nor the Dispatcher calls it, so moving those tasks on is left to the
// worker.OrphanHandler a caller wires into worker.NewController.
func (s *Store) ReapRunningFor(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error) {
	var models []taskModel
	if err := s.db.NewSelect().Model(&models).Column("id").
		Where("worker_id = ? AND status = ?", workerID, task.Running).
		Scan(ctx); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
