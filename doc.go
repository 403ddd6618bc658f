// Package taskqueue ties the Durable Store, Queue Broker, Retry Policy,
// Workflow Engine and Worker Controller into the Task Lifecycle and
// Dispatch Loop described by the rest of this module: Lifecycle
// implements the named status transitions against a Store/Broker pair,
// and Dispatcher is the per-worker-slot loop that claims, executes and
// resolves tasks, generalizing the teacher's Worker/Puller/Pusher shape
// from a single pull-queue into the three-band, dependency-aware queue
// this module manages.
//
// Every component here is built by explicit constructor injection: no
// process-global Store, Broker or Registry exists anywhere in this
// package. Wiring them together is left to the caller (normally a small
// main package reading config.Load and constructing store.Store,
// broker.Broker, worker.Controller, scheduler.Scheduler and
// breaker.Registry once at startup).
package taskqueue
