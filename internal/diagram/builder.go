package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/schedflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow graph. When run is non-nil,
// each node carries the outcome of the latest step recorded for it.
// Parallel branch references are emitted as dashed edges.
func Build(wf *schema.Workflow, run *schema.Run) *DiagramModel {
	model := &DiagramModel{Title: titleOf(wf)}
	if wf == nil {
		return model
	}

	overlays := overlaysFromRun(run)
	known := make(map[string]bool, len(wf.Nodes))

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if known[n.ID] {
			continue
		}
		known[n.ID] = true
		model.Nodes = append(model.Nodes, &Node{
			ID:     n.ID,
			Label:  nodeLabel(n),
			Kind:   kindOf(n.Type),
			Status: overlays[n.ID],
		})
	}

	for _, e := range wf.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: e.Label, Style: EdgeStyleSolid})
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.Type != schema.NodeTypeParallel {
			continue
		}
		for _, b := range branchIDs(n.Config) {
			if known[b] {
				model.Edges = append(model.Edges, Edge{From: n.ID, To: b, Label: "branch", Style: EdgeStyleDashed})
			}
		}
	}

	return model
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeCondition:
		return NodeKindCondition
	case schema.NodeTypeLoop:
		return NodeKindLoop
	case schema.NodeTypeParallel:
		return NodeKindParallel
	case schema.NodeTypeSubflow:
		return NodeKindSubflow
	case schema.NodeTypeApproval:
		return NodeKindApproval
	case schema.NodeTypeAction:
		return NodeKindAction
	case schema.NodeTypeDelay:
		return NodeKindDelay
	case schema.NodeTypeSchedule:
		return NodeKindSchedule
	default:
		return NodeKindGeneric
	}
}

func nodeLabel(n *schema.Node) string {
	label := n.Label
	if label == "" {
		label = n.ID
	}
	switch n.Type {
	case schema.NodeTypeAction:
		if at := configString(n.Config, "actionType"); at != "" {
			return fmt.Sprintf("%s (%s)", label, at)
		}
	case schema.NodeTypeSubflow:
		if id := configString(n.Config, "subflowId"); id != "" {
			return fmt.Sprintf("%s (%s)", label, id)
		}
	}
	return label
}

// overlaysFromRun keeps the latest step per node; loops revisit nodes.
func overlaysFromRun(run *schema.Run) map[string]*StatusOverlay {
	if run == nil {
		return nil
	}
	out := make(map[string]*StatusOverlay)
	for _, s := range run.Steps {
		ov, ok := out[s.NodeID]
		if !ok {
			ov = &StatusOverlay{}
			out[s.NodeID] = ov
		}
		ov.Visits++
		ov.Status = string(s.Status)
		ov.Error = s.Error
		ov.DurationMs = 0
		if s.FinishedAt != nil && !s.StartedAt.IsZero() {
			ov.DurationMs = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
		}
	}
	return out
}

func titleOf(wf *schema.Workflow) string {
	if wf != nil && wf.Name != "" {
		return wf.Name
	}
	return "Workflow"
}

func configString(config map[string]any, key string) string {
	switch v := config[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func branchIDs(config map[string]any) []string {
	var out []string
	for _, part := range strings.Split(configString(config, "branches"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
