package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindSubflow   NodeKind = "subflow"
	NodeKindApproval  NodeKind = "approval"
	NodeKindDelay     NodeKind = "delay"
	NodeKindSchedule  NodeKind = "schedule"
	NodeKindGeneric   NodeKind = "generic"
)

// EdgeStyle distinguishes graph edges from parallel branch references.
type EdgeStyle string

const (
	EdgeStyleSolid  EdgeStyle = "solid"
	EdgeStyleDashed EdgeStyle = "dashed"
)

// DiagramModel is the intermediate representation handed to renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the runtime outcome of the latest step for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Visits     int
	Error      string
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Style EdgeStyle
}
