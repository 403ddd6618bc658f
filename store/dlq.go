package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/task"
)

// DLQEntry is a final-failure record retaining the original descriptor so
// an operator can discard or requeue it.
type DLQEntry struct {
	ID         int64
	TaskID     uuid.UUID
	Reason     string
	Attempts   uint32
	Descriptor task.Descriptor
	MovedAt    time.Time
}

// InsertDLQEntry records a task's final failure.
func (s *Store) InsertDLQEntry(ctx context.Context, taskID uuid.UUID, reason string, attempts uint32, descriptor task.Descriptor) error {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	model := &dlqModel{
		TaskID:     taskID,
		Reason:     reason,
		Attempts:   attempts,
		Descriptor: raw,
		MovedAt:    time.Now(),
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// RemoveDLQEntry deletes a DLQ entry by id, e.g. after an operator
// discards it or requeues the task.
func (s *Store) RemoveDLQEntry(ctx context.Context, id int64) error {
	_, err := s.db.NewDelete().Model((*dlqModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// ListDLQ returns DLQ entries ordered by insertion time, most recent last.
func (s *Store) ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error) {
	q := s.db.NewSelect().Model((*dlqModel)(nil)).Order("moved_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []dlqModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]DLQEntry, 0, len(models))
	for _, m := range models {
		var desc task.Descriptor
		_ = json.Unmarshal(m.Descriptor, &desc)
		out = append(out, DLQEntry{
			ID:         m.ID,
			TaskID:     m.TaskID,
			Reason:     m.Reason,
			Attempts:   m.Attempts,
			Descriptor: desc,
			MovedAt:    m.MovedAt,
		})
	}
	return out, nil
}
