package breaker

import "context"

// Strategy names a graceful-degradation fallback a dependency may be
// flagged with.
type Strategy string

const (
	ReturnCached    Strategy = "return-cached"
	DefaultValue    Strategy = "default-value"
	SkipEnrichment  Strategy = "skip-enrichment"
	ReduceThroughput Strategy = "reduce-throughput"
	AsyncFallback   Strategy = "async-fallback"
	QueueToFallback Strategy = "queue-to-fallback"
)

// FlagStore persists degradation flags in the shared fabric so every
// process observes the same decision. broker.Broker implements this.
type FlagStore interface {
	SetDegradation(ctx context.Context, dependency string, strategy Strategy) error
	ClearDegradation(ctx context.Context, dependency string) error
	GetDegradation(ctx context.Context, dependency string) (Strategy, bool, error)
}

// Degradation consults a FlagStore before a call to a dependency is made,
// letting the Dispatch Loop take the prescribed fallback instead of
// calling through.
type Degradation struct {
	flags FlagStore
}

// NewDegradation builds a Degradation advisor backed by flags.
func NewDegradation(flags FlagStore) *Degradation {
	return &Degradation{flags: flags}
}

// Check returns the active strategy for dependency, if any is flagged.
func (d *Degradation) Check(ctx context.Context, dependency string) (Strategy, bool, error) {
	return d.flags.GetDegradation(ctx, dependency)
}

// Flag marks dependency as degraded under the given strategy.
func (d *Degradation) Flag(ctx context.Context, dependency string, strategy Strategy) error {
	return d.flags.SetDegradation(ctx, dependency, strategy)
}

// Clear removes any degradation flag for dependency.
func (d *Degradation) Clear(ctx context.Context, dependency string) error {
	return d.flags.ClearDegradation(ctx, dependency)
}
