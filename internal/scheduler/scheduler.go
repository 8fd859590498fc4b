package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/internal/streaming"
	"github.com/rendis/schedflow/pkg/schema"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultPoolSize = 4

	statusSkipped = "skipped"
)

// cronParser accepts standard 5-field expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the first activation of cronExpr after from, in UTC.
func NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %v", cronExpr, err).WithCause(err)
	}
	return sched.Next(from.UTC()), nil
}

// Store is the persistence the scheduler needs.
type Store interface {
	ListTriggers(ctx context.Context, filter store.TriggerFilter) ([]*store.Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update store.TriggerUpdate) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// Runner starts workflow runs. Satisfied by *engine.Engine.
type Runner interface {
	StartRun(ctx context.Context, wf *schema.Workflow, trig engine.Trigger) (*schema.Run, error)
}

// Config tunes the scheduler.
type Config struct {
	Interval time.Duration
	PoolSize int
}

// Scheduler polls the store for due triggers and starts their runs.
type Scheduler struct {
	store    Store
	runner   Runner
	hub      streaming.EventHub
	logger   *slog.Logger
	interval time.Duration
	pool     *WorkerPool
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a new Scheduler. hub may be nil.
func NewScheduler(s Store, runner Runner, hub streaming.EventHub, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		hub:      hub,
		logger:   logger,
		interval: cfg.Interval,
		pool:     NewWorkerPool(cfg.PoolSize, logger),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the polling loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the polling loop and waits for dispatched runs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// tick dispatches every due trigger onto the pool.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list triggers", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, trig := range triggers {
		if trig.NextRunAt == nil {
			s.schedule(ctx, trig, now)
			continue
		}
		if trig.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(trig.ID) {
			continue
		}

		err := s.pool.Submit(ctx, trig.ID, func(context.Context) error {
			defer s.release(trig.ID)
			// A dispatched run finishes even when the scheduler stops.
			return s.fire(context.WithoutCancel(ctx), trig, now)
		})
		if err != nil {
			s.release(trig.ID)
			s.logger.WarnContext(ctx, "trigger not dispatched",
				slog.String("trigger_id", trig.ID), slog.String("error", err.Error()))
		}
	}
}

// Fire runs trig once, regardless of its schedule, and records the outcome.
func (s *Scheduler) Fire(ctx context.Context, trig *store.Trigger) error {
	if !s.tryAcquire(trig.ID) {
		return schema.NewErrorf(schema.ErrCodeConflict, "trigger %q is already running", trig.ID)
	}
	defer s.release(trig.ID)
	return s.fire(ctx, trig, s.now().UTC())
}

func (s *Scheduler) fire(ctx context.Context, trig *store.Trigger, now time.Time) error {
	logger := s.logger.With(slog.String("trigger_id", trig.ID), slog.String("workflow_id", trig.WorkflowID))

	wf, err := s.store.GetWorkflow(ctx, trig.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "trigger workflow unavailable", slog.String("error", err.Error()))
		return s.record(ctx, trig, now, string(schema.RunStatusError))
	}
	if wf.Status != schema.WorkflowStatusActive {
		logger.InfoContext(ctx, "trigger skipped, workflow not active", slog.String("status", string(wf.Status)))
		return s.record(ctx, trig, now, statusSkipped)
	}

	logger.InfoContext(ctx, "firing trigger", slog.String("start_node_id", trig.StartNodeID))
	run, err := s.runner.StartRun(ctx, wf, engine.Trigger{
		UserID:      trig.UserID,
		Variables:   trig.Variables,
		StartNodeID: trig.StartNodeID,
		Source:      engine.SourceSchedule,
	})

	status := string(schema.RunStatusError)
	if run != nil {
		status = string(run.Status)
		s.publish(ctx, trig, run)
	}
	if err != nil {
		logger.ErrorContext(ctx, "triggered run failed", slog.String("error", err.Error()))
	}

	if recErr := s.record(ctx, trig, now, status); recErr != nil {
		return recErr
	}
	return err
}

func (s *Scheduler) publish(ctx context.Context, trig *store.Trigger, run *schema.Run) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		RunID:      run.ID,
		WorkflowID: trig.WorkflowID,
		EventType:  schema.EventTriggerFired,
		Payload:    map[string]any{"triggerId": trig.ID, "status": string(run.Status)},
		Timestamp:  s.now().UTC(),
	})
}

// record stores the outcome of a fire and advances NextRunAt past now.
func (s *Scheduler) record(ctx context.Context, trig *store.Trigger, now time.Time, status string) error {
	next, err := NextRun(trig.CronExpression, now)
	if err != nil {
		return err
	}
	return s.store.UpdateTrigger(ctx, trig.ID, store.TriggerUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

// schedule sets the first NextRunAt of a trigger without firing it.
func (s *Scheduler) schedule(ctx context.Context, trig *store.Trigger, now time.Time) {
	next, err := NextRun(trig.CronExpression, now)
	if err != nil {
		s.logger.WarnContext(ctx, "trigger has invalid cron expression",
			slog.String("trigger_id", trig.ID), slog.String("error", err.Error()))
		return
	}
	if err := s.store.UpdateTrigger(ctx, trig.ID, store.TriggerUpdate{NextRunAt: &next}); err != nil {
		s.logger.WarnContext(ctx, "failed to schedule trigger",
			slog.String("trigger_id", trig.ID), slog.String("error", err.Error()))
	}
}

// RecoverMissed advances NextRunAt of triggers whose activation passed
// while the process was down. Missed activations are not fired.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list triggers: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, trig := range triggers {
		if trig.NextRunAt == nil || !trig.NextRunAt.Before(now) {
			continue
		}
		next, err := NextRun(trig.CronExpression, now)
		if err != nil {
			s.logger.WarnContext(ctx, "trigger has invalid cron expression",
				slog.String("trigger_id", trig.ID), slog.String("error", err.Error()))
			continue
		}
		if err := s.store.UpdateTrigger(ctx, trig.ID, store.TriggerUpdate{NextRunAt: &next}); err != nil {
			return fmt.Errorf("advance trigger %q: %w", trig.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("advanced missed triggers", slog.Int("count", recovered))
	}
	return nil
}

// Metrics exposes the dispatch pool counters.
func (s *Scheduler) Metrics() PoolMetrics {
	return s.pool.Metrics()
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
