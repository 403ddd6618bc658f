package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/workflow"
)

// DependencyEdge is the persisted form of a workflow.Edge, addressed by
// task id rather than graph-local name. Condition is decoded from the
// column of the same name and is nil when the edge carries no gating
// condition.
type DependencyEdge struct {
	ParentID   uuid.UUID
	ChildID    uuid.UUID
	Kind       string
	WorkflowID uuid.UUID
	Condition  *workflow.Condition
}

func toDependencyEdge(m *dependencyModel) DependencyEdge {
	edge := DependencyEdge{ParentID: m.ParentID, ChildID: m.ChildID, Kind: m.Kind, WorkflowID: m.WorkflowID}
	if len(m.Condition) > 0 {
		var cond workflow.Condition
		if err := json.Unmarshal(m.Condition, &cond); err == nil {
			edge.Condition = &cond
		}
	}
	return edge
}

// ListParents returns the dependency edges for which child is the child.
func (s *Store) ListParents(ctx context.Context, child uuid.UUID) ([]DependencyEdge, error) {
	var models []dependencyModel
	if err := s.db.NewSelect().Model(&models).Where("child_id = ?", child).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]DependencyEdge, 0, len(models))
	for i := range models {
		out = append(out, toDependencyEdge(&models[i]))
	}
	return out, nil
}

// ListDependents returns the dependency edges for which parent is the
// parent, i.e. the children that should be considered when parent
// completes.
func (s *Store) ListDependents(ctx context.Context, parent uuid.UUID) ([]DependencyEdge, error) {
	var models []dependencyModel
	if err := s.db.NewSelect().Model(&models).Where("parent_id = ?", parent).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]DependencyEdge, 0, len(models))
	for i := range models {
		out = append(out, toDependencyEdge(&models[i]))
	}
	return out, nil
}

// ListWorkflowEdges returns every dependency edge belonging to a workflow,
// used to reconstruct its workflow.Graph for readiness evaluation.
func (s *Store) ListWorkflowEdges(ctx context.Context, workflowID uuid.UUID) ([]DependencyEdge, error) {
	var models []dependencyModel
	if err := s.db.NewSelect().Model(&models).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]DependencyEdge, 0, len(models))
	for i := range models {
		out = append(out, toDependencyEdge(&models[i]))
	}
	return out, nil
}
