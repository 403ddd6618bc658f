package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corewire/taskqueue/task"
)

func (b *Broker) queueKey(band task.Band) string {
	return b.key("queue", string(band))
}

// Enqueue right-pushes taskID onto the priority list its priority maps
// to. An out-of-range priority is clamped to MEDIUM by task.BandOf
// rather than rejected.
func (b *Broker) Enqueue(ctx context.Context, taskID uuid.UUID, priority int) error {
	return b.client.RPush(ctx, b.queueKey(task.BandOf(priority)), taskID.String()).Err()
}

// Dequeue scans HIGH, MEDIUM, LOW in that order, blocking up to timeout
// across all three, and left-pops one task-id. BLPOP pops from the
// first of the given keys with any elements, so listing the three
// lists in priority order gives exactly the required scan order. ok is
// false (with a nil error) if no task became available before timeout
// elapsed.
//
// Dequeue never transitions the task's status: the caller (the
// Dispatch Loop) must claim it in the Store, which remains the single
// source of truth for the RUNNING transition.
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration) (id uuid.UUID, ok bool, err error) {
	keys := []string{b.queueKey(task.High), b.queueKey(task.Medium), b.queueKey(task.Low)}
	res, err := b.client.BLPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	if len(res) != 2 {
		return uuid.Nil, false, nil
	}
	parsed, err := uuid.Parse(res[1])
	if err != nil {
		return uuid.Nil, false, err
	}
	return parsed, true, nil
}

// RemoveQueued removes taskID from its priority list without blocking,
// used for cooperative cancellation of a task that has not yet been
// claimed.
func (b *Broker) RemoveQueued(ctx context.Context, taskID uuid.UUID, priority int) error {
	return b.client.LRem(ctx, b.queueKey(task.BandOf(priority)), 0, taskID.String()).Err()
}

// QueueDepth reports how many task-ids currently sit in band's list.
func (b *Broker) QueueDepth(ctx context.Context, band task.Band) (int64, error) {
	return b.client.LLen(ctx, b.queueKey(band)).Result()
}
