// Package app wires the schedflow components into a runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/schedflow/internal/actions"
	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/scheduler"
	"github.com/rendis/schedflow/internal/service"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/internal/streaming"
	"github.com/rendis/schedflow/internal/validation"
)

// Options configures New.
type Options struct {
	DBPath            string
	PoolSize          int
	MaxDelay          time.Duration
	MaxSteps          int
	SchedulerInterval time.Duration
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Mailer            actions.Mailer
	HTTP              actions.HTTPConfig
}

// App holds the wired components. Close releases them.
type App struct {
	Store     *store.LibSQLStore
	Hub       *streaming.MemoryHub
	Registry  *actions.Registry
	Validator *validation.WorkflowValidator
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Service   *service.Service
	Logger    *slog.Logger
}

// New opens the store, runs migrations and builds every component.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DBPath == "" {
		return nil, errors.New("app: db path is required")
	}

	st, err := store.NewLibSQLStore(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("app: validator: %w", err)
	}

	mailer := opts.Mailer
	if mailer == nil {
		mailer = &actions.LogMailer{Logger: logger}
	}
	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.BuiltinConfig{
		HTTP:   opts.HTTP,
		Mailer: mailer,
		Logger: logger,
	}); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("app: register actions: %w", err)
	}
	dispatcher := actions.NewDispatcher(registry, validator, logger)

	hub := streaming.NewMemoryHub()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithHub(hub),
		engine.WithConfig(engine.Config{MaxDelay: opts.MaxDelay, MaxSteps: opts.MaxSteps}),
	}
	if opts.Tracer != nil {
		engineOpts = append(engineOpts, engine.WithTracer(opts.Tracer))
	}
	eng := engine.NewEngine(st, st, dispatcher, engineOpts...)

	sched := scheduler.NewScheduler(st, eng, hub, logger, scheduler.Config{
		Interval: opts.SchedulerInterval,
		PoolSize: opts.PoolSize,
	})

	svc := service.New(service.Deps{
		Store:     st,
		Engine:    eng,
		Validator: validator,
		Actions:   registry,
		Logger:    logger,
	})

	return &App{
		Store:     st,
		Hub:       hub,
		Registry:  registry,
		Validator: validator,
		Engine:    eng,
		Scheduler: sched,
		Service:   svc,
		Logger:    logger,
	}, nil
}

// Close stops the scheduler, waiting for fired runs, then closes the store.
// The hub holds no resources beyond its subscribers' channels.
func (a *App) Close() error {
	return errors.Join(a.Scheduler.Stop(), a.Store.Close())
}
