package store

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTables(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*taskModel)(nil),
		(*workerModel)(nil),
		(*dependencyModel)(nil),
		(*dlqModel)(nil),
		(*executionModel)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(ctx context.Context, db bun.IDB) error {
	type idx struct {
		model   any
		name    string
		columns []string
	}
	indexes := []idx{
		{(*taskModel)(nil), "idx_tasks_status_priority", []string{"status", "priority"}},
		{(*taskModel)(nil), "idx_tasks_scheduled_at", []string{"scheduled_at"}},
		{(*taskModel)(nil), "idx_tasks_created_at", []string{"created_at"}},
		{(*taskModel)(nil), "idx_tasks_worker_id", []string{"worker_id"}},
		{(*taskModel)(nil), "idx_tasks_workflow_id", []string{"workflow_id"}},
		{(*dependencyModel)(nil), "idx_dependencies_child", []string{"child_id"}},
		{(*dependencyModel)(nil), "idx_dependencies_parent", []string{"parent_id"}},
		{(*workerModel)(nil), "idx_workers_status_heartbeat", []string{"status", "last_heartbeat"}},
		{(*executionModel)(nil), "idx_executions_task", []string{"task_id"}},
	}
	for _, i := range indexes {
		_, err := db.NewCreateIndex().
			Model(i.model).
			Index(i.name).
			Column(i.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// InitDB creates the tasks, workers, dependencies, dlq_entries and
// executions tables and their indexes inside a single transaction. It is
// idempotent and performs no destructive migrations.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics on failure, intended for
// application bootstrap code where schema initialization is unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
