package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/schedflow/pkg/schema"
)

// leadingInt matches values the engine parses as a loop count.
var leadingInt = regexp.MustCompile(`^\s*[+-]?[0-9]`)

// validateSemantic checks node references and per-type configuration.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if nodeIDs[n.ID] {
			result.AddError(fmt.Sprintf("nodes[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
	}

	outgoing := make(map[string][]schema.Edge, len(wf.Nodes))
	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for i := range wf.Nodes {
		validateNode(&wf.Nodes[i], fmt.Sprintf("nodes[%d]", i), nodeIDs, outgoing[wf.Nodes[i].ID], result)
	}
	return result
}

func validateNode(n *schema.Node, path string, nodeIDs map[string]bool, out []schema.Edge, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTypeCondition:
		if configString(n.Config, "expression") == "" {
			result.AddError(path+".config.expression", schema.ErrCodeValidation,
				"condition node requires an expression")
		}
		for _, label := range []string{"true", "false"} {
			if !hasLabel(out, label) {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("condition node %q has no %q edge", n.ID, label))
			}
		}

	case schema.NodeTypeLoop:
		if !numericCount(n.Config["count"]) {
			result.AddWarning(path+".config.count", schema.ErrCodeValidation,
				"loop count is missing or not numeric; it defaults to 1")
		}
		if len(out) < 2 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop node %q needs a body edge and an exit edge, has %d", n.ID, len(out)))
		}

	case schema.NodeTypeParallel:
		branches := splitList(configString(n.Config, "branches"))
		if len(branches) == 0 {
			result.AddError(path+".config.branches", schema.ErrCodeValidation,
				"parallel node requires at least one branch")
		}
		for _, b := range branches {
			if !nodeIDs[b] {
				result.AddError(path+".config.branches", schema.ErrCodeValidation,
					fmt.Sprintf("branch references non-existent node %q", b))
			}
		}

	case schema.NodeTypeSubflow:
		if configString(n.Config, "subflowId") == "" {
			result.AddError(path+".config.subflowId", schema.ErrCodeValidation,
				"subflow node requires a subflowId")
		}

	case schema.NodeTypeApproval:
		if configString(n.Config, "approver") == "" {
			result.AddWarning(path+".config.approver", schema.ErrCodeValidation,
				"approval node has no approver; the run initiator approves")
		}

	case schema.NodeTypeAction:
		if configString(n.Config, "actionType") == "" {
			result.AddError(path+".config.actionType", schema.ErrCodeValidation,
				"action node requires an actionType")
		}
	}
}

func hasLabel(edges []schema.Edge, label string) bool {
	for _, e := range edges {
		if strings.EqualFold(strings.TrimSpace(e.Label), label) {
			return true
		}
	}
	return false
}

func numericCount(v any) bool {
	switch c := v.(type) {
	case int, int64, float64:
		return true
	case string:
		return strings.Contains(c, "{{") || leadingInt.MatchString(c)
	default:
		return false
	}
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
