// Package workflow builds acyclic task dependency graphs, evaluates
// readiness and per-child conditions, and expands parameterized workflow
// templates into fresh, submittable graphs.
//
// A Graph is a pure value: it knows nothing about a Store or Broker. The
// root taskqueue package is responsible for persisting a Graph atomically
// and, on each task completion, consulting Ready to decide which children
// to enqueue.
package workflow
