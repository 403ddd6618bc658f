package workflow

import (
	"errors"
	"fmt"

	"github.com/corewire/taskqueue/task"
)

// DependencyKind determines how a child's parents gate its readiness.
type DependencyKind string

const (
	// WaitForAll requires every parent to reach COMPLETED (or SKIPPED)
	// before the child is ready.
	WaitForAll DependencyKind = "wait_for_all"

	// WaitForAny requires at least one parent to reach COMPLETED (or
	// SKIPPED) before the child is ready.
	WaitForAny DependencyKind = "wait_for_any"

	// Sequential is wait-for-all restricted to a single parent; it exists
	// as a distinct, self-documenting kind for linear chains.
	Sequential DependencyKind = "sequential"
)

// Edge is a directed dependency owned by the child: child depends on parent
// under the given kind.
type Edge struct {
	Parent string
	Child  string
	Kind   DependencyKind
}

// Node is one task within a workflow, identified within the graph by Name
// (distinct from the task's eventual persisted ID, which is assigned at
// submission time). An optional Condition gates execution: once the node's
// dependencies are otherwise ready, the condition is evaluated against the
// scope of parent results, and a false result marks the node SKIPPED
// instead of executed.
type Node struct {
	Name      string
	Task      *task.Task
	Condition *Condition
}

var (
	// ErrDuplicateNode is returned by Build when two nodes share a name.
	ErrDuplicateNode = errors.New("workflow: duplicate node name")

	// ErrUnknownNode is returned by Build when an edge references a name
	// not present among the supplied nodes.
	ErrUnknownNode = errors.New("workflow: edge references unknown node")

	// ErrCycleDetected is returned by Build when the edge set is not
	// acyclic. No partial graph is ever returned alongside this error.
	ErrCycleDetected = errors.New("workflow: cycle detected")

	// ErrSequentialFanIn is returned by Build when a Sequential edge's
	// child has more than one parent.
	ErrSequentialFanIn = errors.New("workflow: sequential dependency must have exactly one parent")
)

// Graph is an immutable, validated set of nodes and dependency edges.
type Graph struct {
	Nodes    map[string]*Node
	Edges    []Edge
	parents  map[string][]Edge // keyed by child name
	children map[string][]Edge // keyed by parent name
	order    []string          // insertion order, for deterministic iteration
}

// Build validates and constructs a Graph from nodes and edges. Validation
// runs in this order: duplicate names, unknown edge endpoints, sequential
// fan-in, then a DFS cycle check. On any error no Graph is returned.
func Build(nodes []*Node, edges []Edge) (*Graph, error) {
	byName := make(map[string]*Node, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := byName[n.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, n.Name)
		}
		byName[n.Name] = n
		order = append(order, n.Name)
	}

	parents := make(map[string][]Edge, len(nodes))
	children := make(map[string][]Edge, len(nodes))
	parentCount := make(map[string]int, len(nodes))
	for _, e := range edges {
		if _, ok := byName[e.Parent]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, e.Parent)
		}
		if _, ok := byName[e.Child]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, e.Child)
		}
		parents[e.Child] = append(parents[e.Child], e)
		children[e.Parent] = append(children[e.Parent], e)
		if e.Kind == Sequential {
			parentCount[e.Child]++
		}
	}
	for child, n := range parentCount {
		if n > 1 {
			return nil, fmt.Errorf("%w: %q", ErrSequentialFanIn, child)
		}
	}

	g := &Graph{
		Nodes:    byName,
		Edges:    edges,
		parents:  parents,
		children: children,
		order:    order,
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

const (
	white = 0
	gray  = 1
	black = 2
)

func (g *Graph) checkAcyclic() error {
	color := make(map[string]int, len(g.order))
	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, e := range g.children[name] {
			switch color[e.Child] {
			case gray:
				return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, name, e.Child)
			case white:
				if err := visit(e.Child); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range g.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Roots returns the nodes with no parent edges, in insertion order.
func (g *Graph) Roots() []*Node {
	var roots []*Node
	for _, name := range g.order {
		if len(g.parents[name]) == 0 {
			roots = append(roots, g.Nodes[name])
		}
	}
	return roots
}

// Children returns the edges whose Parent is name.
func (g *Graph) Children(name string) []Edge {
	return g.children[name]
}

// Parents returns the edges whose Child is name.
func (g *Graph) Parents(name string) []Edge {
	return g.parents[name]
}

// NodeState is the minimal view of a task's outcome the readiness and
// condition functions need: its current status and its result payload.
type NodeState struct {
	Status task.Status
	Result []byte
}

// StateFunc resolves the current NodeState of a named node. A false second
// return means the node has not run yet (still PENDING/QUEUED/RUNNING).
type StateFunc func(name string) (NodeState, bool)

// satisfied reports whether a single parent edge counts as satisfied for
// readiness purposes: COMPLETED (including the Skipped flag modelled as
// COMPLETED) satisfies it, FAILED does not and instead propagates failure.
func satisfied(state NodeState) bool {
	return state.Status == task.Completed
}

func failed(state NodeState) bool {
	return state.Status == task.Failed || state.Status == task.Timeout || state.Status == task.Cancelled
}

// Ready reports whether child's dependencies are currently satisfied under
// its edges' kind, given the current state of every node. Conditions are
// not evaluated here: Ready only answers the dependency-kind question: the
// caller checks any Condition separately via Condition.Evaluate, as
// Advance does.
func (g *Graph) Ready(child string) func(StateFunc) bool {
	edges := g.parents[child]
	return func(state StateFunc) bool {
		if len(edges) == 0 {
			return true
		}
		switch edges[0].Kind {
		case WaitForAny:
			for _, e := range edges {
				st, ok := state(e.Parent)
				if ok && satisfied(st) {
					return true
				}
			}
			return false
		default: // WaitForAll, Sequential
			for _, e := range edges {
				st, ok := state(e.Parent)
				if !ok || !satisfied(st) {
					return false
				}
			}
			return true
		}
	}
}

// FailurePropagates reports whether child should be transitioned straight
// to FAILED because a required parent under its dependency kind has
// failed. For WaitForAll/Sequential, any failed parent propagates. For
// WaitForAny, propagation only occurs once every parent has failed (since a
// single success would still satisfy readiness).
func (g *Graph) FailurePropagates(child string) func(StateFunc) (bool, string) {
	edges := g.parents[child]
	return func(state StateFunc) (bool, string) {
		if len(edges) == 0 {
			return false, ""
		}
		switch edges[0].Kind {
		case WaitForAny:
			for _, e := range edges {
				st, ok := state(e.Parent)
				if ok && satisfied(st) {
					return false, ""
				}
			}
			for _, e := range edges {
				st, ok := state(e.Parent)
				if !ok || !failed(st) {
					return false, ""
				}
			}
			return true, fmt.Sprintf("Parent task %s failed", edges[0].Parent)
		default:
			for _, e := range edges {
				st, ok := state(e.Parent)
				if ok && failed(st) {
					return true, fmt.Sprintf("Parent task %s failed", e.Parent)
				}
			}
			return false, ""
		}
	}
}
