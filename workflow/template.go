package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corewire/taskqueue/task"
)

// NodeTemplate is the parameterized form of a Node: KwargsJSON holds a JSON
// object literal where any `{{param}}` occurrence is substituted with the
// matching entry from the instantiation parameter map before decoding.
type NodeTemplate struct {
	Name        string
	TaskName    string
	Priority    int
	KwargsJSON  string
	MaxRetries  uint32
	TimeoutSecs int
}

// Template is a parameterized, reusable workflow definition: a fixed set
// of node templates and edges, instantiated by substituting parameters and
// submitting the result as a fresh workflow.
type Template struct {
	ID    string
	Nodes []NodeTemplate
	Edges []Edge
}

// substitute replaces every `{{key}}` occurrence in s with its value from
// params. Placeholders with no matching key are left untouched.
func substitute(s string, params map[string]string) string {
	if len(params) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		key := strings.TrimSpace(s[start+2 : end])
		if v, ok := params[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}

// Instantiate substitutes params into tpl and builds a fresh Graph. Each
// resulting task is freshly identified (task.New assigns a new ID), so the
// same Template may be instantiated any number of times.
func Instantiate(tpl *Template, params map[string]string) (*Graph, error) {
	nodes := make([]*Node, 0, len(tpl.Nodes))
	for _, nt := range tpl.Nodes {
		rendered := substitute(nt.KwargsJSON, params)
		var kwargs map[string]json.RawMessage
		if strings.TrimSpace(rendered) != "" {
			if err := json.Unmarshal([]byte(rendered), &kwargs); err != nil {
				return nil, fmt.Errorf("workflow: instantiating node %q: %w", nt.Name, err)
			}
		}
		t := task.New(nt.TaskName, nt.Priority)
		t.Kwargs = kwargs
		t.MaxRetries = nt.MaxRetries
		if nt.TimeoutSecs > 0 {
			t.TimeoutSeconds = nt.TimeoutSecs
		}
		nodes = append(nodes, &Node{Name: nt.Name, Task: t})
	}
	return Build(nodes, tpl.Edges)
}
