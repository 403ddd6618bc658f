package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func (b *Broker) scheduledKey() string {
	return b.key("scheduled")
}

// ScheduleAt records taskID in the scheduled set, due at the given time.
func (b *Broker) ScheduleAt(ctx context.Context, taskID uuid.UUID, due time.Time) error {
	return b.client.ZAdd(ctx, b.scheduledKey(), redis.Z{
		Score:  float64(due.Unix()),
		Member: taskID.String(),
	}).Err()
}

// DueScheduled returns up to limit task-ids whose due-timestamp is <=
// now. It is a cache read: the Scheduler still promotes each task in
// the Store under a conditional update before removing it here.
func (b *Broker) DueScheduled(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error) {
	members, err := b.client.ZRangeByScore(ctx, b.scheduledKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// RemoveScheduled drops taskID from the scheduled set once it has been
// promoted to a priority queue.
func (b *Broker) RemoveScheduled(ctx context.Context, taskID uuid.UUID) error {
	return b.client.ZRem(ctx, b.scheduledKey(), taskID.String()).Err()
}
