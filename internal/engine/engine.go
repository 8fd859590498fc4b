package engine

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/schedflow/internal/expressions"
	"github.com/rendis/schedflow/internal/logging"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/internal/streaming"
	"github.com/rendis/schedflow/pkg/schema"
)

// RunStore is the slice of the persistence layer the engine writes to.
type RunStore interface {
	EventAppender
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
	AppendStep(ctx context.Context, runID string, step *schema.Step) error
	UpdateStep(ctx context.Context, runID string, step *schema.Step) error
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.Run, error)
}

// WorkflowLoader resolves workflows by id for subflows and resumption.
type WorkflowLoader interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// ActionExecutor performs the external effect of an action node. Unknown
// action types must return a descriptive result rather than an error.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType string, config map[string]any) (any, error)
}

// Trigger sources.
const (
	SourceManual   = "manual"
	SourceHTTP     = "http"
	SourceSchedule = "schedule"
	SourceMCP      = "mcp"
)

// Trigger carries the initial context of a run.
type Trigger struct {
	UserID      string         `json:"userId,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	StartNodeID string         `json:"startNodeId,omitempty"`
	Source      string         `json:"source,omitempty"`
}

// Defaults for Config.
const (
	DefaultMaxDelay        = 5 * time.Second
	DefaultMaxSteps        = 10000
	DefaultMaxSubflowDepth = 8
)

// Config bounds run execution.
type Config struct {
	MaxDelay        time.Duration // upper clamp for delay nodes
	MaxSteps        int           // node visits per run, nested traversals included
	MaxSubflowDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxSubflowDepth <= 0 {
		c.MaxSubflowDepth = DefaultMaxSubflowDepth
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithHub publishes run events to hub in addition to the event log.
func WithHub(h streaming.EventHub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithConfig overrides execution limits. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.config = c }
}

// WithConditions replaces the condition evaluator.
func WithConditions(c *expressions.Conditions) Option {
	return func(e *Engine) { e.conditions = c }
}

const runLockStripes = 64

// Engine drives workflow runs: node-by-node traversal, suspension at
// approval gates and resumption.
type Engine struct {
	runs       RunStore
	loader     WorkflowLoader
	actions    ActionExecutor
	conditions *expressions.Conditions
	hub        streaming.EventHub
	logger     *slog.Logger
	tracer     trace.Tracer
	config     Config

	events  *emitter
	runFSM  *RunFSM
	stepFSM *StepFSM

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	locks [runLockStripes]sync.Mutex
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(runs RunStore, loader WorkflowLoader, actions ActionExecutor, opts ...Option) *Engine {
	e := &Engine{
		runs:    runs,
		loader:  loader,
		actions: actions,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("schedflow")
	}
	if e.conditions == nil {
		e.conditions = expressions.NewConditions(e.logger,
			expressions.NewExprEngine(), expressions.NewCELEngine())
	}
	e.config = e.config.withDefaults()

	e.events = &emitter{appender: runs, hub: e.hub, logger: e.logger, now: func() time.Time { return e.now() }}
	e.runFSM = &RunFSM{events: e.events}
	e.stepFSM = &StepFSM{events: e.events}
	return e
}

// StartRun creates a run of wf and drives it until it succeeds, fails or
// suspends at an approval node. Run-level failures are reported through the
// returned run's Status and Error; the error return is reserved for
// failures to create or persist the run.
func (e *Engine) StartRun(ctx context.Context, wf *schema.Workflow, trig Trigger) (*schema.Run, error) {
	graph := BuildGraph(wf.Nodes, wf.Edges)

	start := graph.First()
	if trig.StartNodeID != "" {
		if _, ok := graph.Node(trig.StartNodeID); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"start node %q not found in workflow %q", trig.StartNodeID, wf.ID)
		}
		start = trig.StartNodeID
	}

	run := &schema.Run{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		UserID:     trig.UserID,
		Status:     schema.RunStatusRunning,
		Steps:      []schema.Step{},
		StartedAt:  e.now().UTC(),
	}

	ctx = logging.WithRunID(ctx, run.ID)
	if run.UserID != "" {
		ctx = logging.WithUserID(ctx, run.UserID)
	}
	ctx, span := e.startRunSpan(ctx, wf, run)
	defer span.End()

	if err := e.runs.CreateRun(ctx, run); err != nil {
		recordSpanError(span, err)
		return nil, schema.NewError(schema.ErrCodeStore, "create run").WithCause(err)
	}

	source := trig.Source
	if source == "" {
		source = SourceManual
	}
	e.events.emit(ctx, run, "", schema.EventRunStarted, map[string]any{
		"workflowId":  wf.ID,
		"source":      source,
		"startNodeId": start,
	})
	e.logger.InfoContext(ctx, "run started",
		slog.String("workflow_id", wf.ID),
		slog.String("source", source),
		slog.String("start_node_id", start))

	state := &runState{run: run, wf: wf, vars: NewRunContext(trig.Variables)}
	err := e.drive(ctx, state, graph, start, nil)
	finishRunSpan(span, run)
	return run, err
}

// GetRun returns the persisted run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*schema.Run, error) {
	return e.runs.GetRun(ctx, runID)
}

// PendingApprovals lists the runs suspended on a step awaiting approver.
func (e *Engine) PendingApprovals(ctx context.Context, approver string) ([]*schema.Run, error) {
	if approver == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "approver is required")
	}
	pending := schema.RunStatusPending
	return e.runs.ListRuns(ctx, store.RunFilter{Status: &pending, PendingApprover: approver})
}

// lockRun serializes per-run operations. Runs share stripes by hash.
func (e *Engine) lockRun(runID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	mu := &e.locks[h.Sum32()%runLockStripes]
	mu.Lock()
	return mu.Unlock
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
