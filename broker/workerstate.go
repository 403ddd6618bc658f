package broker

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corewire/taskqueue/breaker"
	"github.com/corewire/taskqueue/worker"
)

func (b *Broker) workerStateKey(workerID uuid.UUID) string {
	return b.key("worker", workerID.String())
}

// SetWorkerState mirrors a worker's pause/drain status and capacity/
// timeout config so the Dispatch Loop can read them without a Store
// round-trip.
func (b *Broker) SetWorkerState(ctx context.Context, workerID uuid.UUID, status worker.Status, capacity, timeoutSeconds int) error {
	return b.client.HSet(ctx, b.workerStateKey(workerID), map[string]any{
		"status":          string(status),
		"capacity":        capacity,
		"timeout_seconds": timeoutSeconds,
	}).Err()
}

// GetWorkerState reads a worker's mirrored state. ok is false if no
// entry exists.
func (b *Broker) GetWorkerState(ctx context.Context, workerID uuid.UUID) (status worker.Status, capacity, timeoutSeconds int, ok bool, err error) {
	vals, err := b.client.HGetAll(ctx, b.workerStateKey(workerID)).Result()
	if err != nil {
		return "", 0, 0, false, err
	}
	if len(vals) == 0 {
		return "", 0, 0, false, nil
	}
	capacity, _ = strconv.Atoi(vals["capacity"])
	timeoutSeconds, _ = strconv.Atoi(vals["timeout_seconds"])
	return worker.Status(vals["status"]), capacity, timeoutSeconds, true, nil
}

// DeleteWorkerState removes a worker's mirrored state, e.g. once it is
// swept to DEAD.
func (b *Broker) DeleteWorkerState(ctx context.Context, workerID uuid.UUID) error {
	return b.client.Del(ctx, b.workerStateKey(workerID)).Err()
}

func (b *Broker) degradationKey(dependency string) string {
	return b.key("degradation", dependency)
}

// SetDegradation implements breaker.FlagStore, persisting a degradation
// flag in Redis so every process sees the same fallback decision.
func (b *Broker) SetDegradation(ctx context.Context, dependency string, strategy breaker.Strategy) error {
	return b.client.Set(ctx, b.degradationKey(dependency), string(strategy), 0).Err()
}

// ClearDegradation implements breaker.FlagStore.
func (b *Broker) ClearDegradation(ctx context.Context, dependency string) error {
	return b.client.Del(ctx, b.degradationKey(dependency)).Err()
}

// GetDegradation implements breaker.FlagStore.
func (b *Broker) GetDegradation(ctx context.Context, dependency string) (breaker.Strategy, bool, error) {
	val, err := b.client.Get(ctx, b.degradationKey(dependency)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return breaker.Strategy(val), true, nil
}
