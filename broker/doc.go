// Package broker implements the fast, shared-fabric side of the queue:
// three priority lists, a due-timestamp sorted set, a per-task metadata
// mirror, a dead-letter ordered set, a completion pub/sub channel,
// rate-limit counters and worker-state keys, all on top of Redis via
// redis/go-redis/v9.
//
// Broker never itself performs the RUNNING transition; Dequeue only
// removes a task-id from a priority list. The Durable Store remains the
// single source of truth for status; every structure here is a
// rebuildable cache of it.
package broker
