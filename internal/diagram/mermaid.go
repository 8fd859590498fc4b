package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", strings.ReplaceAll(model.Title, "\n", " "))
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Style == EdgeStyleDashed {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#b7791a,stroke:#8a5c14,color:#fff\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := `"` + mermaidEscapeLabel(node.Label) + `"`

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%s}", id, label)
	case NodeKindLoop, NodeKindParallel:
		return fmt.Sprintf("%s[[%s]]", id, label)
	case NodeKindSubflow:
		return fmt.Sprintf("%s[/%s/]", id, label)
	case NodeKindApproval:
		return fmt.Sprintf("%s{{%s}}", id, label)
	case NodeKindDelay:
		return fmt.Sprintf("%s([%s])", id, label)
	case NodeKindSchedule:
		return fmt.Sprintf("%s((%s))", id, label)
	default:
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

var safeIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_", "/", "_")

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	return safeIDReplacer.Replace(id)
}

var labelReplacer = strings.NewReplacer(`"`, "#quot;", "|", "#124;", "\n", " ", "\r", "")

func mermaidEscapeLabel(s string) string {
	return labelReplacer.Replace(s)
}

// mermaidStatusClass maps a step status to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "success", "error", "running", "pending":
		return status
	default:
		return ""
	}
}
