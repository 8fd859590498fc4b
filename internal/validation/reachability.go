package validation

import (
	"fmt"

	"github.com/rendis/schedflow/pkg/schema"
)

// validateReachability warns about nodes no run can visit. Runs start at
// the first node or at a schedule node; parallel nodes reach their branches
// through config as well as edges.
func validateReachability(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(wf.Nodes) == 0 {
		return result
	}

	next := make(map[string][]string, len(wf.Nodes))
	for _, e := range wf.Edges {
		next[e.Source] = append(next[e.Source], e.Target)
	}
	queue := []string{wf.Nodes[0].ID}
	for _, n := range wf.Nodes {
		if n.Type == schema.NodeTypeParallel {
			next[n.ID] = append(next[n.ID], splitList(configString(n.Config, "branches"))...)
		}
		if n.Type == schema.NodeTypeSchedule {
			queue = append(queue, n.ID)
		}
	}

	reachable := make(map[string]bool, len(wf.Nodes))
	for _, id := range queue {
		reachable[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, target := range next[id] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	for i, n := range wf.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the start node", n.ID))
		}
	}
	return result
}
