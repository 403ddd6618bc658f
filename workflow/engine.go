package workflow

import "encoding/json"

// Outcome is the decision Advance reached for one node after a completion
// event was processed.
type Outcome int

const (
	// NoChange means the node's dependencies are not all resolved yet; it
	// stays in its current pre-execution status.
	NoChange Outcome = iota

	// Enqueue means the node is ready and its condition (if any) passed;
	// the caller should enqueue it at its task's priority.
	Enqueue

	// Skip means the node is ready but its condition evaluated false; the
	// caller should mark it COMPLETED with Skipped set, without ever
	// calling the handler.
	Skip

	// PropagateFailure means a required parent failed; the caller should
	// transition the node straight to FAILED with Reason as the error
	// message.
	PropagateFailure
)

// Decision is Advance's verdict for a single node.
type Decision struct {
	Node   string
	Action Outcome
	Reason string
}

// Advance evaluates every node that is not yet resolved (i.e. for which
// state returns !ok, meaning it has never executed) and returns one
// Decision per node whose status should change as a result of the
// completion event that just happened. Nodes that are still blocked keep
// NoChange and are omitted from the result.
//
// results supplies each already-resolved node's decoded output, used to
// build the condition-evaluation scope; callers typically populate it from
// every node for which state reports ok == true.
func (g *Graph) Advance(state StateFunc, results map[string]json.RawMessage) ([]Decision, error) {
	scope, err := BuildScope(results)
	if err != nil {
		return nil, err
	}
	var decisions []Decision
	for _, name := range g.order {
		if _, ok := state(name); ok {
			continue // already resolved; nothing left to decide
		}
		if propagate, reason := g.FailurePropagates(name)(state); propagate {
			decisions = append(decisions, Decision{Node: name, Action: PropagateFailure, Reason: reason})
			continue
		}
		if !g.Ready(name)(state) {
			continue
		}
		node := g.Nodes[name]
		if node.Condition != nil {
			ok, err := node.Condition.Evaluate(scope)
			if err != nil {
				return nil, err
			}
			if !ok {
				decisions = append(decisions, Decision{Node: name, Action: Skip})
				continue
			}
		}
		decisions = append(decisions, Decision{Node: name, Action: Enqueue})
	}
	return decisions, nil
}
