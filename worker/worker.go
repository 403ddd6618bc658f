package worker

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a registered worker.
type Status string

const (
	Active   Status = "ACTIVE"
	Paused   Status = "PAUSED"
	Draining Status = "DRAINING"
	Idle     Status = "IDLE"
	Dead     Status = "DEAD"
)

// transitions lists the legal Status moves. DEAD is terminal; every other
// state can be reached from Register or from an admin operation, and
// SweepOrphans can push any non-DEAD state straight to DEAD.
var transitions = map[Status][]Status{
	Active:   {Paused, Draining, Idle, Dead},
	Paused:   {Active, Draining, Dead},
	Draining: {Dead, Idle},
	Idle:     {Active, Paused, Draining, Dead},
	Dead:     {},
}

// ErrInvalidTransition is returned when a worker status move is not legal.
var ErrInvalidTransition = errors.New("worker: invalid status transition")

// CanTransition reports whether moving from status from to status to is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Worker is one registered executor process.
type Worker struct {
	ID              uuid.UUID
	Hostname        string
	Capacity        int
	CurrentLoad     int
	Status          Status
	LastHeartbeat   time.Time
	TimeoutSeconds  int
	RegisteredAt    time.Time
}

// New builds a freshly registered Worker in the IDLE state.
func New(hostname string, capacity int) *Worker {
	now := time.Now().UTC()
	return &Worker{
		ID:             uuid.New(),
		Hostname:       hostname,
		Capacity:       capacity,
		Status:         Idle,
		LastHeartbeat:  now,
		TimeoutSeconds: 30,
		RegisteredAt:   now,
	}
}

// HasCapacity reports whether the worker can accept one more running task.
func (w *Worker) HasCapacity() bool {
	return w.Status == Active && w.CurrentLoad < w.Capacity
}

// Expired reports whether LastHeartbeat is older than the given dead-timeout,
// measured against now.
func (w *Worker) Expired(now time.Time, deadTimeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > deadTimeout
}
