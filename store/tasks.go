package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/workflow"
)

// ErrConditionFailed is returned when a conditional status transition's
// WHERE clause matched no row: the task either does not exist or was not
// in the expected prior status (another worker or scheduler won the race,
// or the task was cancelled in the meantime).
var ErrConditionFailed = errors.New("store: condition failed, no row affected")

// InsertTask persists a new task row in a single INSERT. It does not
// insert dependency edges; use InsertTaskTx within a workflow submission
// transaction for that.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) error {
	return s.InsertTaskTx(ctx, s.db, t)
}

// InsertTaskTx is InsertTask against an explicit bun.IDB, for use inside a
// caller-managed transaction (workflow submission).
func (s *Store) InsertTaskTx(ctx context.Context, db bun.IDB, t *task.Task) error {
	model := fromTask(t)
	_, err := db.NewInsert().Model(model).Exec(ctx)
	return err
}

// InsertDependencyTx inserts one dependency edge inside a transaction.
// cond may be nil for an ungated edge.
func (s *Store) InsertDependencyTx(ctx context.Context, db bun.IDB, workflowID, parent, child uuid.UUID, kind string, cond *workflow.Condition) error {
	model := &dependencyModel{ParentID: parent, ChildID: child, Kind: kind, WorkflowID: workflowID}
	if cond != nil {
		raw, err := json.Marshal(cond)
		if err != nil {
			return err
		}
		model.Condition = raw
	}
	_, err := db.NewInsert().Model(model).Exec(ctx)
	return err
}

// GetTask retrieves a task by id, including its DependsOn set. It returns
// (nil, nil) if no such task exists.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var model taskModel
	err := s.db.NewSelect().Model(&model).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	parents, err := s.ListParents(ctx, id)
	if err != nil {
		return nil, err
	}
	deps := make([]uuid.UUID, 0, len(parents))
	for _, p := range parents {
		deps = append(deps, p.ParentID)
	}
	return toTask(&model, deps), nil
}

// UpdateTaskStatus performs the single conditional UPDATE that drives every
// lifecycle transition: the row is only changed if its current status
// equals from. Extra mutates the update beyond status/updated_at (e.g.
// setting started_at, worker_id, error_message); it may be nil.
type StatusUpdate struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	WorkerID     *uuid.UUID
	ClearWorker  bool
	ErrorMessage *string
	Result       []byte
	RetryCount   *uint32
	NextRetryAt  *time.Time
	ClearNextRetryAt bool
	Skipped      *bool
}

// UpdateTaskStatus transitions a task from -> to, conditional on its
// current status being from, applying any fields set in extra. It returns
// ErrConditionFailed if no row matched (status already changed elsewhere).
func (s *Store) UpdateTaskStatus(ctx context.Context, id uuid.UUID, from, to task.Status, extra *StatusUpdate) error {
	q := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now())

	if extra != nil {
		if extra.StartedAt != nil {
			q.Set("started_at = ?", *extra.StartedAt)
		}
		if extra.CompletedAt != nil {
			q.Set("completed_at = ?", *extra.CompletedAt)
		}
		if extra.FailedAt != nil {
			q.Set("failed_at = ?", *extra.FailedAt)
		}
		if extra.ClearWorker {
			q.Set("worker_id = NULL")
		} else if extra.WorkerID != nil {
			q.Set("worker_id = ?", *extra.WorkerID)
		}
		if extra.ErrorMessage != nil {
			q.Set("error_message = ?", *extra.ErrorMessage)
		}
		if extra.Result != nil {
			q.Set("result = ?", extra.Result)
		}
		if extra.RetryCount != nil {
			q.Set("retry_count = ?", *extra.RetryCount)
		}
		if extra.ClearNextRetryAt {
			q.Set("next_retry_at = NULL")
		} else if extra.NextRetryAt != nil {
			q.Set("next_retry_at = ?", *extra.NextRetryAt)
		}
		if extra.Skipped != nil {
			q.Set("skipped = ?", *extra.Skipped)
		}
	}

	res, err := q.Where("id = ?", id).Where("status = ?", from).Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return ErrConditionFailed
	}
	return nil
}

// ClaimQueued atomically transitions up to batch QUEUED tasks in the given
// priority band to RUNNING, assigning workerID, using a single UPDATE ...
// WHERE id IN (subquery) ... RETURNING statement to avoid a race between
// selection and transition.
func (s *Store) ClaimQueued(ctx context.Context, priorities []int, workerID uuid.UUID, batch int) ([]*task.Task, error) {
	now := time.Now()
	sub := s.db.NewSelect().
		Model((*taskModel)(nil)).
		Column("id").
		Where("status = ?", task.Queued).
		Where("priority IN (?)", bun.In(priorities)).
		Order("priority DESC", "created_at ASC").
		Limit(batch)

	var models []taskModel
	err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", task.Running).
		Set("worker_id = ?", workerID).
		Set("started_at = ?", now).
		Set("updated_at = ?", now).
		Where("id IN (?)", sub).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(models))
	for i := range models {
		out = append(out, toTask(&models[i], nil))
	}
	return out, nil
}

// DueScheduled returns PENDING tasks whose scheduled_at is due (<= now, or
// unset), and RETRYING tasks whose next_retry_at is due, up to limit. It
// does not transition them: ClaimDueScheduled does that.
func (s *Store) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	var models []taskModel
	err := s.db.NewSelect().
		Model(&models).
		WhereGroup("AND", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("status = ?", task.Pending).
				WhereGroup("AND", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("scheduled_at IS NULL").WhereOr("scheduled_at <= ?", now)
				}).
				WhereOr("status = ? AND next_retry_at <= ?", task.Retrying, now)
		}).
		Order("priority DESC", "created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(models))
	for i := range models {
		out = append(out, toTask(&models[i], nil))
	}
	return out, nil
}

// ClaimDueScheduled atomically transitions one due task (PENDING or
// RETRYING, matching its current status) to QUEUED, returning the updated
// task. It returns (nil, nil) if the task was no longer in the expected
// status.
func (s *Store) ClaimDueScheduled(ctx context.Context, id uuid.UUID, from task.Status) (*task.Task, error) {
	now := time.Now()
	var models []taskModel
	err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", task.Queued).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return toTask(&models[0], nil), nil
}

// ListTasksByFilter returns up to limit tasks matching status (ignored
// when status is task.Unknown) and workflowID (ignored when nil).
func (s *Store) ListTasksByFilter(ctx context.Context, status task.Status, workflowID *uuid.UUID, limit int) ([]*task.Task, error) {
	q := s.db.NewSelect().Model((*taskModel)(nil))
	if status != task.Unknown {
		q = q.Where("status = ?", status)
	}
	if workflowID != nil {
		q = q.Where("workflow_id = ?", *workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []taskModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(models))
	for i := range models {
		out = append(out, toTask(&models[i], nil))
	}
	return out, nil
}
