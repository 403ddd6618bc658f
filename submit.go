package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/corewire/taskqueue/cron"
	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/workflow"
)

// WorkflowStore extends Store with the transactional operations
// SubmitWorkflow needs to persist every task and dependency edge of a
// workflow atomically. store.Store implements it. Lifecycle's other
// methods only require Store, so a Store fake that does not support
// transactions can still exercise Submit, Claim, Complete, Fail, Timeout,
// Release and Cancel.
type WorkflowStore interface {
	Store
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error
	InsertTaskTx(ctx context.Context, db bun.IDB, t *task.Task) error
	InsertDependencyTx(ctx context.Context, db bun.IDB, workflowID, parent, child uuid.UUID, kind string, cond *workflow.Condition) error
}

// ErrWorkflowUnsupported is returned by SubmitWorkflow when the
// Lifecycle's Store does not implement WorkflowStore.
var ErrWorkflowUnsupported = fmt.Errorf("taskqueue: store does not support workflow submission")

// SubmitWorkflow validates and persists an entire workflow.Graph
// atomically: every node's task row and every dependency edge commit in a
// single transaction, or none of them do. graph is normally the result of
// workflow.Build (an ad hoc graph assembled by the caller) or
// workflow.Instantiate (a parameterized Template); either way its
// acyclicity and sequential fan-in were already validated when it was
// built, so the only failures left here are per-task validation and I/O.
//
// Once committed, every root task (no incoming edge) is queued exactly as
// a standalone Submit would queue it, with root-level conditions honored;
// non-root tasks are left PENDING for the Workflow Engine to advance once
// their parents resolve.
func (l *Lifecycle) SubmitWorkflow(ctx context.Context, graph *workflow.Graph) (uuid.UUID, error) {
	ws, ok := l.store.(WorkflowStore)
	if !ok {
		return uuid.Nil, ErrWorkflowUnsupported
	}

	workflowID := uuid.New()

	for _, node := range graph.Nodes {
		if node.Task == nil {
			return uuid.Nil, fmt.Errorf("%w: node %q has no task", ErrInvalidTask, node.Name)
		}
		if err := node.Task.Validate(); err != nil {
			return uuid.Nil, err
		}
		if node.Task.IsRecurring {
			if err := cron.Validate(node.Task.RecurrenceCron); err != nil {
				return uuid.Nil, ErrInvalidCron
			}
		}
		node.Task.WorkflowID = &workflowID
	}

	err := ws.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for _, node := range graph.Nodes {
			if err := ws.InsertTaskTx(ctx, tx, node.Task); err != nil {
				return err
			}
		}
		for _, edge := range graph.Edges {
			parent := graph.Nodes[edge.Parent]
			child := graph.Nodes[edge.Child]
			if err := ws.InsertDependencyTx(ctx, tx, workflowID, parent.Task.ID, child.Task.ID, string(edge.Kind), child.Condition); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, wrapStore(err)
	}

	// Nothing has run yet, so every node's state is unresolved; the only
	// decisions Advance can reach at this point are for the roots (nodes
	// with no parent edges at all are immediately Ready), honoring any
	// condition a root itself carries.
	unresolved := func(string) (workflow.NodeState, bool) { return workflow.NodeState{}, false }
	decisions, err := graph.Advance(unresolved, map[string]json.RawMessage{})
	if err != nil {
		return workflowID, err
	}
	for _, d := range decisions {
		node := graph.Nodes[d.Node]
		if node.Task.ScheduledAt != nil && node.Task.ScheduledAt.After(time.Now()) && d.Action == workflow.Enqueue {
			if err := l.broker.ScheduleAt(ctx, node.Task.ID, *node.Task.ScheduledAt); err != nil {
				l.log.Error("workflow root schedule failed", "id", node.Task.ID, "err", err)
			}
			continue
		}
		if err := l.applyDecision(ctx, node.Task.ID, node.Task.Priority, d); err != nil {
			l.log.Error("workflow root advance failed", "id", node.Task.ID, "err", err)
		}
	}
	return workflowID, nil
}

// SubmitTemplate instantiates tpl with params and submits the result via
// SubmitWorkflow, returning the new workflow's id.
func (l *Lifecycle) SubmitTemplate(ctx context.Context, tpl *workflow.Template, params map[string]string) (uuid.UUID, error) {
	graph, err := workflow.Instantiate(tpl, params)
	if err != nil {
		return uuid.Nil, err
	}
	return l.SubmitWorkflow(ctx, graph)
}

// BuildWorkflow is a convenience wrapper around workflow.Build for callers
// that assemble workflow.Node/workflow.Edge values directly rather than
// through a Template; it exists so callers never need to import the
// workflow package solely to construct the graph SubmitWorkflow expects.
func BuildWorkflow(nodes []*workflow.Node, edges []workflow.Edge) (*workflow.Graph, error) {
	return workflow.Build(nodes, edges)
}
