package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rendis/schedflow/pkg/schema"
)

// nodeOutcome is what a node executor hands back to the traversal.
type nodeOutcome struct {
	next     string
	result   any
	suspend  bool
	approver string
}

func (t *traversal) execute(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	switch node.Type {
	case schema.NodeTypeCondition:
		return t.execCondition(ctx, node, config)
	case schema.NodeTypeLoop:
		return t.execLoop(ctx, node, config)
	case schema.NodeTypeParallel:
		return t.execParallel(ctx, node, config)
	case schema.NodeTypeSubflow:
		return t.execSubflow(ctx, node, config)
	case schema.NodeTypeApproval:
		return t.execApproval(node, config)
	case schema.NodeTypeAction:
		return t.execAction(ctx, node, config)
	case schema.NodeTypeDelay:
		return t.execDelay(ctx, node, config)
	default:
		next, _ := t.graph.NextAt(node.ID, 0)
		return nodeOutcome{
			next:   next,
			result: map[string]any{"message": fmt.Sprintf("executed node type: %s", node.Type)},
		}, nil
	}
}

func (t *traversal) execCondition(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	expression := configString(config, "expression")
	cond := t.engine.conditions.Evaluate(ctx, configString(config, "language"), expression, t.state.vars.Snapshot())

	result := map[string]any{"expression": expression, "evaluated": cond.Value}
	if cond.Err != nil {
		result["evaluationError"] = schema.Message(cond.Err)
	}
	t.engine.events.emit(ctx, t.state.run, node.ID, schema.EventConditionEvaluated, result)

	// No matching edge ends this traversal.
	next, _ := t.graph.NextByLabel(node.ID, strconv.FormatBool(cond.Value))
	return nodeOutcome{next: next, result: result}, nil
}

func (t *traversal) execLoop(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	idx := t.findFrame(node.ID)
	if idx < 0 {
		count := loopCount(config["count"])
		t.frames = append(t.frames, schema.LoopFrame{NodeID: node.ID, Remaining: count, Count: count})
		idx = len(t.frames) - 1
	}
	frame := &t.frames[idx]

	if frame.Remaining > 0 {
		frame.Remaining--
		result := map[string]any{
			"iteration": frame.Count - frame.Remaining,
			"remaining": frame.Remaining,
			"count":     frame.Count,
			"exhausted": false,
		}
		t.engine.events.emit(ctx, t.state.run, node.ID, schema.EventLoopIteration, result)
		next, _ := t.graph.NextAt(node.ID, 0)
		return nodeOutcome{next: next, result: result}, nil
	}

	result := map[string]any{
		"iteration": max(frame.Count, 0),
		"remaining": 0,
		"count":     frame.Count,
		"exhausted": true,
	}
	t.frames = append(t.frames[:idx], t.frames[idx+1:]...)
	next, _ := t.graph.NextAt(node.ID, 1)
	return nodeOutcome{next: next, result: result}, nil
}

// findFrame returns the index of the top-most frame for nodeID, or -1.
func (t *traversal) findFrame(nodeID string) int {
	for i := len(t.frames) - 1; i >= 0; i-- {
		if t.frames[i].NodeID == nodeID {
			return i
		}
	}
	return -1
}

type branchResult struct {
	id    string
	steps *[]schema.Step
	err   error
}

func (t *traversal) execParallel(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	ids := splitBranches(configString(config, "branches"))
	if len(ids) == 0 {
		return nodeOutcome{}, schema.NewError(schema.ErrCodeValidation, "parallel node requires at least one branch")
	}

	results := make([]branchResult, len(ids))
	runBranch := func(i int) {
		child, steps := t.child(t.graph, t.depth)
		_, err := child.walk(ctx, ids[i])
		results[i] = branchResult{id: ids[i], steps: steps, err: err}
	}

	if strings.EqualFold(configString(config, "mode"), "concurrent") {
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runBranch(i)
			}()
		}
		wg.Wait()
	} else {
		for i := range ids {
			runBranch(i)
			if results[i].err != nil {
				results = results[:i+1]
				break
			}
		}
	}

	branches := make([]any, 0, len(results))
	for _, r := range results {
		branches = append(branches, map[string]any{"branchId": r.id, "steps": *r.steps})
	}
	result := map[string]any{"branches": branches}

	for _, r := range results {
		if r.err != nil {
			return nodeOutcome{result: result}, schema.NewErrorf(schema.ErrCodeExecution,
				"branch %q failed: %s", r.id, schema.Message(r.err)).WithCause(r.err)
		}
	}
	t.engine.events.emit(ctx, t.state.run, node.ID, schema.EventParallelCompleted,
		map[string]any{"branches": ids})

	inBranch := make(map[string]bool, len(ids))
	for _, id := range ids {
		inBranch[id] = true
	}
	var next string
	for _, e := range t.graph.Outgoing(node.ID) {
		if !inBranch[e.Target] {
			next = e.Target
			break
		}
	}
	return nodeOutcome{next: next, result: result}, nil
}

func (t *traversal) execSubflow(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	if t.depth >= t.engine.config.MaxSubflowDepth {
		return nodeOutcome{}, schema.NewErrorf(schema.ErrCodeLimitExceeded,
			"subflow nesting exceeds %d levels", t.engine.config.MaxSubflowDepth)
	}

	id := configString(config, "subflowId")
	if id == "" {
		return nodeOutcome{}, schema.NewError(schema.ErrCodeNotFound, "Subflow not found")
	}
	sub, err := t.engine.loader.GetWorkflow(ctx, id)
	switch {
	case schema.IsCode(err, schema.ErrCodeNotFound) || (err == nil && sub == nil):
		return nodeOutcome{}, schema.NewError(schema.ErrCodeNotFound, "Subflow not found").WithCause(err)
	case err != nil:
		return nodeOutcome{}, schema.NewErrorf(schema.ErrCodeStore, "load subflow %q", id).WithCause(err)
	}

	graph := BuildGraph(sub.Nodes, sub.Edges)
	child, steps := t.child(graph, t.depth+1)
	_, walkErr := child.walk(ctx, graph.First())

	result := map[string]any{"subflowId": id, "steps": *steps}
	if walkErr != nil {
		return nodeOutcome{result: result}, schema.NewErrorf(schema.ErrCodeExecution,
			"subflow %q failed: %s", id, schema.Message(walkErr)).WithCause(walkErr)
	}
	t.engine.events.emit(ctx, t.state.run, node.ID, schema.EventSubflowCompleted,
		map[string]any{"subflowId": id, "steps": len(*steps)})

	next, _ := t.graph.NextAt(node.ID, 0)
	return nodeOutcome{next: next, result: result}, nil
}

func (t *traversal) execApproval(node *schema.Node, config map[string]any) (nodeOutcome, error) {
	if t.nested {
		return nodeOutcome{}, schema.NewError(schema.ErrCodeExecution,
			"approval nodes cannot run inside nested traversals")
	}
	approver := configString(config, "approver")
	if approver == "" {
		approver = t.state.run.UserID
	}
	if approver == "" {
		return nodeOutcome{}, schema.NewError(schema.ErrCodeValidation,
			"approval node has no approver and the run has no initiator")
	}

	// The edge is recorded for resumption, never followed here.
	resume, _ := t.graph.NextAt(node.ID, 0)
	return nodeOutcome{
		next:     resume,
		suspend:  true,
		approver: approver,
		result:   map[string]any{"approver": approver, "approved": false},
	}, nil
}

func (t *traversal) execAction(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	actionType := configString(config, "actionType")
	next, _ := t.graph.NextAt(node.ID, 0)

	if t.engine.actions == nil {
		return nodeOutcome{next: next, result: map[string]any{
			"message":  fmt.Sprintf("unknown action type: %s", actionType),
			"executed": false,
		}}, nil
	}

	result, err := t.engine.actions.Execute(ctx, actionType, config)
	if err != nil {
		if schema.CodeOf(err) == "" {
			err = schema.NewError(schema.ErrCodeAction, err.Error()).WithCause(err)
		}
		return nodeOutcome{result: result}, err
	}
	return nodeOutcome{next: next, result: result}, nil
}

func (t *traversal) execDelay(ctx context.Context, node *schema.Node, config map[string]any) (nodeOutcome, error) {
	minutes, ok := configFloat(config, "minutes")
	if !ok {
		minutes, _ = configFloat(config, "delayMinutes")
	}
	d := time.Duration(minutes * float64(time.Minute))
	d = min(max(d, 0), t.engine.config.MaxDelay)

	if err := t.engine.sleep(ctx, d); err != nil {
		return nodeOutcome{}, schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
	}
	next, _ := t.graph.NextAt(node.ID, 0)
	return nodeOutcome{next: next, result: map[string]any{"delayedMs": d.Milliseconds()}}, nil
}

// --- Config helpers ---

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

func configFloat(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// loopCount parses count with leading-integer semantics. Zero and
// unparseable values become 1; negative counts are returned as is.
func loopCount(v any) int {
	var n int
	switch c := v.(type) {
	case int:
		n = c
	case int64:
		n = int(c)
	case float64:
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 1
		}
		n = int(c)
	case string:
		n = leadingInt(c)
	}
	if n == 0 {
		return 1
	}
	return n
}

// leadingInt parses an optional sign followed by digits, ignoring the rest.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func splitBranches(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
