package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/task"
)

func (b *Broker) mirrorKey(taskID uuid.UUID) string {
	return b.key("mirror", taskID.String())
}

// Mirror is the subset of a task's fields a worker needs without a
// Store round-trip.
type Mirror struct {
	Status    task.Status
	Priority  int
	WorkerID  string
	UpdatedAt time.Time
}

// SetMirror writes or refreshes a task's metadata mirror.
func (b *Broker) SetMirror(ctx context.Context, taskID uuid.UUID, m Mirror) error {
	return b.client.HSet(ctx, b.mirrorKey(taskID), map[string]any{
		"status":     m.Status.String(),
		"priority":   m.Priority,
		"worker_id":  m.WorkerID,
		"updated_at": m.UpdatedAt.Unix(),
	}).Err()
}

// GetMirror reads a task's metadata mirror. ok is false if no mirror
// entry exists (e.g. it was never written, or expired).
func (b *Broker) GetMirror(ctx context.Context, taskID uuid.UUID) (m Mirror, ok bool, err error) {
	vals, err := b.client.HGetAll(ctx, b.mirrorKey(taskID)).Result()
	if err != nil {
		return Mirror{}, false, err
	}
	if len(vals) == 0 {
		return Mirror{}, false, nil
	}
	status, _ := task.ParseStatus(vals["status"])
	priority, _ := strconv.Atoi(vals["priority"])
	updated, _ := strconv.ParseInt(vals["updated_at"], 10, 64)
	return Mirror{
		Status:    status,
		Priority:  priority,
		WorkerID:  vals["worker_id"],
		UpdatedAt: time.Unix(updated, 0),
	}, true, nil
}

// DeleteMirror removes a task's mirror entry, once it reaches a
// terminal status the broker no longer needs to serve reads for.
func (b *Broker) DeleteMirror(ctx context.Context, taskID uuid.UUID) error {
	return b.client.Del(ctx, b.mirrorKey(taskID)).Err()
}
