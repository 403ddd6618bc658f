package workflow_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewire/taskqueue/task"
	"github.com/corewire/taskqueue/workflow"
)

func node(name string) *workflow.Node {
	return &workflow.Node{Name: name, Task: task.New(name, 5)}
}

func TestBuildRejectsCycle(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "b", Kind: workflow.WaitForAll},
		{Parent: "b", Child: "c", Kind: workflow.WaitForAll},
		{Parent: "c", Child: "a", Kind: workflow.WaitForAll},
	}
	_, err := workflow.Build(nodes, edges)
	assert.ErrorIs(t, err, workflow.ErrCycleDetected)
}

func TestBuildRejectsUnknownNode(t *testing.T) {
	nodes := []*workflow.Node{node("a")}
	edges := []workflow.Edge{{Parent: "a", Child: "ghost", Kind: workflow.WaitForAll}}
	_, err := workflow.Build(nodes, edges)
	assert.ErrorIs(t, err, workflow.ErrUnknownNode)
}

func TestBuildRejectsDuplicateNode(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("a")}
	_, err := workflow.Build(nodes, nil)
	assert.ErrorIs(t, err, workflow.ErrDuplicateNode)
}

func TestBuildRejectsSequentialFanIn(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "c", Kind: workflow.Sequential},
		{Parent: "b", Child: "c", Kind: workflow.Sequential},
	}
	_, err := workflow.Build(nodes, edges)
	assert.ErrorIs(t, err, workflow.ErrSequentialFanIn)
}

func TestRootsHaveNoParents(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{{Parent: "a", Child: "b", Kind: workflow.WaitForAll}}
	g, err := workflow.Build(nodes, edges)
	require.NoError(t, err)
	var names []string
	for _, n := range g.Roots() {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, names)
}

func stateOf(statuses map[string]task.Status) workflow.StateFunc {
	return func(name string) (workflow.NodeState, bool) {
		s, ok := statuses[name]
		if !ok {
			return workflow.NodeState{}, false
		}
		return workflow.NodeState{Status: s}, true
	}
}

func TestWaitForAllReadyOnlyWhenEveryParentCompleted(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "c", Kind: workflow.WaitForAll},
		{Parent: "b", Child: "c", Kind: workflow.WaitForAll},
	}
	g, err := workflow.Build(nodes, edges)
	require.NoError(t, err)

	ready := g.Ready("c")
	assert.False(t, ready(stateOf(map[string]task.Status{"a": task.Completed})))
	assert.True(t, ready(stateOf(map[string]task.Status{"a": task.Completed, "b": task.Completed})))
}

func TestWaitForAnyReadyOnFirstCompletion(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "c", Kind: workflow.WaitForAny},
		{Parent: "b", Child: "c", Kind: workflow.WaitForAny},
	}
	g, err := workflow.Build(nodes, edges)
	require.NoError(t, err)

	ready := g.Ready("c")
	assert.False(t, ready(stateOf(map[string]task.Status{})))
	assert.True(t, ready(stateOf(map[string]task.Status{"a": task.Completed})))
}

func TestFailurePropagatesForWaitForAll(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "c", Kind: workflow.WaitForAll},
		{Parent: "b", Child: "c", Kind: workflow.WaitForAll},
	}
	g, err := workflow.Build(nodes, edges)
	require.NoError(t, err)

	propagate := g.FailurePropagates("c")
	ok, reason := propagate(stateOf(map[string]task.Status{"a": task.Failed}))
	assert.True(t, ok)
	assert.Contains(t, reason, "a")
}

func TestFailurePropagatesForWaitForAnyOnlyWhenAllFail(t *testing.T) {
	nodes := []*workflow.Node{node("a"), node("b"), node("c")}
	edges := []workflow.Edge{
		{Parent: "a", Child: "c", Kind: workflow.WaitForAny},
		{Parent: "b", Child: "c", Kind: workflow.WaitForAny},
	}
	g, err := workflow.Build(nodes, edges)
	require.NoError(t, err)

	propagate := g.FailurePropagates("c")
	ok, _ := propagate(stateOf(map[string]task.Status{"a": task.Failed}))
	assert.False(t, ok, "one remaining non-failed parent still holds out hope")

	ok, reason := propagate(stateOf(map[string]task.Status{"a": task.Failed, "b": task.Failed}))
	assert.True(t, ok)
	assert.NotEmpty(t, reason)
}

func TestAdvanceSkipsOnFalseCondition(t *testing.T) {
	validate := node("validate")
	process := node("process")
	process.Condition = &workflow.Condition{
		Operator: workflow.Eq,
		Field:    "validate.valid",
		Value:    true,
	}
	g, err := workflow.Build([]*workflow.Node{validate, process}, []workflow.Edge{
		{Parent: "validate", Child: "process", Kind: workflow.WaitForAll},
	})
	require.NoError(t, err)

	statuses := map[string]task.Status{"validate": task.Completed}
	results := map[string]json.RawMessage{"validate": json.RawMessage(`{"valid":false}`)}

	decisions, err := g.Advance(stateOf(statuses), results)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "process", decisions[0].Node)
	assert.Equal(t, workflow.Skip, decisions[0].Action)
}

func TestAdvanceEnqueuesOnTrueCondition(t *testing.T) {
	validate := node("validate")
	process := node("process")
	process.Condition = &workflow.Condition{
		Operator: workflow.Eq,
		Field:    "validate.valid",
		Value:    true,
	}
	g, err := workflow.Build([]*workflow.Node{validate, process}, []workflow.Edge{
		{Parent: "validate", Child: "process", Kind: workflow.WaitForAll},
	})
	require.NoError(t, err)

	statuses := map[string]task.Status{"validate": task.Completed}
	results := map[string]json.RawMessage{"validate": json.RawMessage(`{"valid":true}`)}

	decisions, err := g.Advance(stateOf(statuses), results)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, workflow.Enqueue, decisions[0].Action)
}
