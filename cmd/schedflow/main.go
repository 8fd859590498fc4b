package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/rendis/schedflow/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "schedflow:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "schedflow",
		Usage:                 "Workflow graph interpreter with approvals and cron triggers",
		Version:               version,
		EnableShellCompletion: true,
		Flags:                 globalFlags(),
		Commands: []*cli.Command{
			newServeCommand(),
			newMCPCommand(),
			newRunCommand(),
			newValidateCommand(),
			newDiagramCommand(),
			{
				Name:  "version",
				Usage: "Print the build version",
				Action: func(context.Context, *cli.Command) error {
					printVersion()
					return nil
				},
			},
		},
	}
}

// resolveConfig loads the layered config and applies explicit flags.
func resolveConfig(cmd *cli.Command) (Config, error) {
	cfg, err := loadConfig(cmd.String("config"), os.Getenv)
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, cmd)
	return cfg, nil
}

// newLogger writes JSON records to stderr so stdout stays free for results
// and the MCP stdio transport.
func newLogger(cfg Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.LogLevel)
}
