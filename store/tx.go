package store

import (
	"context"

	"github.com/uptrace/bun"
)

// Store wraps a *bun.DB and implements the persistence boundaries consumed
// by task.Task submission, workflow submission and worker.Controller.
type Store struct {
	db *bun.DB
}

// New wraps an already-initialized *bun.DB (see OpenSQLite, OpenPostgres
// and InitDB).
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// RunInTx executes fn inside a transaction, committing on nil error and
// rolling back otherwise. It is used for workflow submission, where every
// task and dependency edge must persist atomically or not at all.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.db.RunInTx(ctx, nil, fn)
}
