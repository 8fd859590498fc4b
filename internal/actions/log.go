package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const logInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["", "debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"]}
  }
}`

// LogAction implements the "Log" action.
type LogAction struct {
	logger *slog.Logger
}

// NewLogAction creates a Log action writing to logger.
func NewLogAction(logger *slog.Logger) *LogAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAction{logger: logger}
}

func (a *LogAction) Name() string { return "Log" }

func (a *LogAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Write a message to the schedflow log.",
		InputSchema: json.RawMessage(logInputSchema),
	}
}

func (a *LogAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	message := stringParam(input.Config, "message", "")
	level := parseLevel(stringParam(input.Config, "level", "info"))
	a.logger.Log(ctx, level, message, slog.String("source", "workflow"))
	return &ActionOutput{Data: map[string]any{"logged": true}}, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
