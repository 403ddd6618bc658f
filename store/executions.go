package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/task"
)

// AppendExecutionRecord inserts one append-only attempt record.
func (s *Store) AppendExecutionRecord(ctx context.Context, r *task.ExecutionRecord) error {
	_, err := s.db.NewInsert().Model(fromExecution(r)).Exec(ctx)
	return err
}

// ListExecutions returns every execution record for a task, ordered by
// attempt number.
func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID) ([]*task.ExecutionRecord, error) {
	var models []executionModel
	err := s.db.NewSelect().Model(&models).Where("task_id = ?", taskID).Order("attempt ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*task.ExecutionRecord, 0, len(models))
	for i := range models {
		out = append(out, toExecution(&models[i]))
	}
	return out, nil
}
