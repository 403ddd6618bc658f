// Package store provides a bun-based relational backend for the task
// queue's authoritative state: tasks, workers, dependency edges, DLQ
// entries and execution history.
//
// # Overview
//
// The store backend provides:
//
//   - durable persistence of tasks, workers, dependencies and DLQ entries
//   - atomic status transitions, enforced by a single conditional
//     UPDATE ... WHERE status = ? statement per transition
//   - workflow submission atomicity: tasks and dependency edges for one
//     workflow are inserted inside a single transaction
//
// It is compatible with SQLite (via modernc.org/sqlite, for embedded use
// and tests) and PostgreSQL (via jackc/pgx, for production), subject to
// their respective transactional guarantees.
//
// # Concurrency model
//
// Claim-like operations are implemented as a single atomic UPDATE
// statement with a subquery, the same pattern used for claiming jobs in
// simpler at-least-once queue designs, to avoid races between selection
// and state transition when multiple schedulers or workers race for the
// same rows.
//
// # Schema
//
// InitDB (or MustInitDB) creates the tasks, workers, dependencies, dlq_entries and
// executions tables plus indexes on (status, priority), scheduled_at,
// created_at and worker_id. InitDB is idempotent and runs inside a
// transaction; it performs no destructive migrations.
//
// # Database lifecycle
//
// This package does not manage connection pooling or migrations beyond
// InitDB. The caller is responsible for constructing *bun.DB (see
// OpenSQLite and OpenPostgres) and invoking InitDB before use.
package store
