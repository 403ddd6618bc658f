// Package task defines the stateful representation of a unit of work
// managed by the queue.
//
// A Task carries a Descriptor (name, positional args, keyword args) plus
// scheduling, retry-policy, lifecycle and topology metadata. Descriptor is
// intentionally minimal and storage-agnostic, mirroring how a transport
// message is kept separate from delivery state in simpler queue designs:
// handlers only ever see a Descriptor, never the bookkeeping fields.
//
// Task values returned by a store or broker are snapshots. Mutating them
// directly does not change persisted state; transitions must go through
// the Lifecycle type in the root package.
package task
