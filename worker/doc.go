// Package worker models executor registrations and the admin operations
// that govern their lifecycle.
//
// Worker has no analogue in the teacher library (a bare job-queue puller
// has no registry of who is pulling). A worker's
// ACTIVE/PAUSED/DRAINING/IDLE/DEAD status is a persisted string checked
// against a transition table (CanTransition) and applied through
// conditional store updates, so an illegal transition returns a sentinel
// error. internal.LifecycleBase guards only the Controller's own
// Start/Stop.
package worker
