package task

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Descriptor is the transport-level, user-facing shape of a task: a name,
// an ordered sequence of positional arguments and a keyword-argument
// mapping, both carried as raw JSON so the queue never has to understand
// the handler's argument types.
//
// Descriptor does not track delivery state, retries or scheduling. Those
// concerns live on Task.
type Descriptor struct {
	Name     string                     `json:"name"`
	Args     []json.RawMessage          `json:"args,omitempty"`
	Kwargs   map[string]json.RawMessage `json:"kwargs,omitempty"`
	Metadata map[string]any             `json:"metadata,omitempty"`
}

// NewDescriptor builds a Descriptor for the given handler name.
func NewDescriptor(name string) *Descriptor {
	return &Descriptor{Name: name}
}

// Get returns arbitrary descriptor metadata, or nil if absent.
func (d *Descriptor) Get(key string) any {
	if d.Metadata == nil {
		return nil
	}
	return d.Metadata[key]
}

// Set stores arbitrary descriptor metadata, lazily allocating the map.
func (d *Descriptor) Set(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// IdempotencyKey returns a stable key handlers can use to deduplicate
// at-least-once deliveries, derived from an explicit "idempotency_key"
// metadata entry if present, or the empty string otherwise.
func (d *Descriptor) IdempotencyKey() string {
	v, _ := d.Get("idempotency_key").(string)
	return v
}

// NewTaskID generates a random 128-bit task identifier.
func NewTaskID() uuid.UUID {
	return uuid.New()
}
