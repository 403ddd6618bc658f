package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func (b *Broker) dlqKey() string {
	return b.key("dlq")
}

func (b *Broker) dlqMetaKey(taskID uuid.UUID) string {
	return b.key("dlq", "meta", taskID.String())
}

// DLQEntry mirrors a dead-lettered task's metadata blob.
type DLQEntry struct {
	TaskID     uuid.UUID
	Reason     string
	Attempts   uint32
	Descriptor []byte
	MovedAt    time.Time
}

// PushDLQ records a terminal failure: an insertion-time sorted-set
// member plus a per-entry metadata hash, written in one pipeline.
func (b *Broker) PushDLQ(ctx context.Context, e DLQEntry) error {
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, b.dlqKey(), redis.Z{Score: float64(e.MovedAt.UnixNano()), Member: e.TaskID.String()})
	pipe.HSet(ctx, b.dlqMetaKey(e.TaskID), map[string]any{
		"reason":     e.Reason,
		"attempts":   e.Attempts,
		"descriptor": e.Descriptor,
		"moved_at":   e.MovedAt.Unix(),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// ListDLQ returns up to limit entries ordered by insertion time.
func (b *Broker) ListDLQ(ctx context.Context, limit int64) ([]DLQEntry, error) {
	ids, err := b.client.ZRange(ctx, b.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQEntry, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		vals, err := b.client.HGetAll(ctx, b.dlqMetaKey(id)).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		attempts, _ := strconv.ParseUint(vals["attempts"], 10, 32)
		moved, _ := strconv.ParseInt(vals["moved_at"], 10, 64)
		out = append(out, DLQEntry{
			TaskID:     id,
			Reason:     vals["reason"],
			Attempts:   uint32(attempts),
			Descriptor: []byte(vals["descriptor"]),
			MovedAt:    time.Unix(moved, 0),
		})
	}
	return out, nil
}

// RemoveDLQ drops taskID from the DLQ, e.g. once an operator discards
// or requeues it.
func (b *Broker) RemoveDLQ(ctx context.Context, taskID uuid.UUID) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.dlqKey(), taskID.String())
	pipe.Del(ctx, b.dlqMetaKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}
