package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/schedflow/internal/app"
	"github.com/rendis/schedflow/internal/diagram"
	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/server"
	"github.com/rendis/schedflow/internal/telemetry"
	"github.com/rendis/schedflow/internal/validation"
	"github.com/rendis/schedflow/pkg/mcp"
)

// appRuntime is what every stateful subcommand needs: the wired app plus
// the tracer shutdown hook.
type appRuntime struct {
	cfg      Config
	logger   *slog.Logger
	app      *app.App
	shutdown telemetry.ShutdownFunc
}

func openRuntime(ctx context.Context, cmd *cli.Command) (*appRuntime, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	tracer, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a, err := app.New(ctx, app.Options{
		DBPath:            dbURL(cfg.DBPath),
		PoolSize:          cfg.PoolSize,
		MaxDelay:          time.Duration(cfg.MaxDelay),
		MaxSteps:          cfg.MaxSteps,
		SchedulerInterval: time.Duration(cfg.SchedulerInterval),
		Logger:            logger,
		Tracer:            tracer,
	})
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &appRuntime{cfg: cfg, logger: logger, app: a, shutdown: shutdown}, nil
}

func (r *appRuntime) Close(ctx context.Context) {
	if err := r.app.Close(); err != nil {
		r.logger.Error("close store", slog.String("error", err.Error()))
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.shutdown(flushCtx); err != nil {
		r.logger.Error("shutdown tracer provider", slog.String("error", err.Error()))
	}
}

// startScheduler advances missed triggers and starts the poll loop.
func (r *appRuntime) startScheduler(ctx context.Context) error {
	if err := r.app.Scheduler.RecoverMissed(ctx); err != nil {
		r.logger.Warn("recover missed triggers", slog.String("error", err.Error()))
	}
	return r.app.Scheduler.Start(ctx)
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the cron scheduler",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if err := rt.startScheduler(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer func() {
				if err := rt.app.Scheduler.Stop(); err != nil {
					rt.logger.Error("stop scheduler", slog.String("error", err.Error()))
				}
			}()

			srv := server.New(server.Deps{
				Service: rt.app.Service,
				Hub:     rt.app.Hub,
				Logger:  rt.logger,
			})
			return srv.ListenAndServe(ctx, rt.cfg.ListenAddr)
		},
	}
}

func newMCPCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-scheduler", Usage: "Do not fire cron triggers from this process"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if !cmd.Bool("no-scheduler") {
				if err := rt.startScheduler(ctx); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				defer func() { _ = rt.app.Scheduler.Stop() }()
			}

			srv := mcp.NewSchedflowServer(mcp.SchedflowServerDeps{
				Service: rt.app.Service,
				Hub:     rt.app.Hub,
				Logger:  rt.logger,
			})
			return srv.Serve(ctx)
		},
	}
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Store a workflow file and start one run of it",
		ArgsUsage: "<workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vars", Usage: "Run variables as a JSON object"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Initiating user id", Value: os.Getenv("USER")},
			&cli.StringFlag{Name: "start-node", Usage: "Start at this node instead of the entry node"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("workflow file is required", 1)
			}
			wf, err := loadWorkflowFile(path)
			if err != nil {
				return err
			}
			vars, err := parseVars(cmd.String("vars"))
			if err != nil {
				return err
			}

			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			defined, err := rt.app.Service.DefineWorkflow(ctx, wf)
			if err != nil {
				return err
			}
			for _, w := range defined.Warnings {
				rt.logger.Warn("workflow warning", slog.String("path", w.Path), slog.String("message", w.Message))
			}

			run, err := rt.app.Service.StartRun(ctx, defined.Workflow.ID, engine.Trigger{
				UserID:      cmd.String("user"),
				Variables:   vars,
				StartNodeID: cmd.String("start-node"),
				Source:      engine.SourceManual,
			})
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, run)
		},
	}
}

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow file without storing it",
		ArgsUsage: "<workflow.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("workflow file is required", 1)
			}
			wf, err := loadWorkflowFile(path)
			if err != nil {
				return err
			}
			validator, err := validation.NewWorkflowValidator()
			if err != nil {
				return err
			}
			result := validator.Validate(wf)
			if err := printJSON(os.Stdout, result); err != nil {
				return err
			}
			if !result.Valid() {
				return cli.Exit(fmt.Sprintf("%d validation error(s)", len(result.Errors)), 2)
			}
			return nil
		},
	}
}

func newDiagramCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagram",
		Usage:     "Render a workflow as a Mermaid flowchart",
		ArgsUsage: "[workflow.yaml]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workflow-id", Usage: "Render a stored workflow instead of a file"},
			&cli.StringFlag{Name: "run-id", Usage: "Overlay the status of this run (stored workflows only)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if id := cmd.String("workflow-id"); id != "" {
				rt, err := openRuntime(ctx, cmd)
				if err != nil {
					return err
				}
				defer rt.Close(ctx)
				out, err := rt.app.Service.Diagram(ctx, id, cmd.String("run-id"))
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(os.Stdout, out)
				return err
			}

			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("workflow file or --workflow-id is required", 1)
			}
			wf, err := loadWorkflowFile(path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(os.Stdout, diagram.RenderMermaid(diagram.Build(wf, nil)))
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
