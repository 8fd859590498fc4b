package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/schedflow/pkg/schema"
)

// InputValidator checks a config against a JSON Schema.
// *validation.JSONSchemaValidator satisfies it.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Dispatcher routes action nodes to registered actions. It satisfies the
// engine's ActionExecutor.
type Dispatcher struct {
	catalog   Catalog
	validator InputValidator
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. validator may be nil to skip config
// validation.
func NewDispatcher(catalog Catalog, validator InputValidator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{catalog: catalog, validator: validator, logger: logger}
}

// Execute runs the action registered for actionType with config. An
// unregistered type is not an error: it yields an executed=false result.
func (d *Dispatcher) Execute(ctx context.Context, actionType string, config map[string]any) (any, error) {
	action, ok := d.catalog.Lookup(actionType)
	if !ok {
		d.logger.WarnContext(ctx, "unknown action type", slog.String("action_type", actionType))
		return map[string]any{
			"message":  fmt.Sprintf("unknown action type: %s", actionType),
			"executed": false,
		}, nil
	}

	if d.validator != nil {
		if err := d.validator.ValidateInput(config, action.Schema().InputSchema); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: invalid config: %s", actionType, schema.Message(err)).WithCause(err)
		}
	}

	start := time.Now()
	out, err := action.Execute(ctx, ActionInput{Config: config})
	if err != nil {
		d.logger.DebugContext(ctx, "action failed",
			slog.String("action_type", actionType),
			slog.String("error", err.Error()))
		return nil, err
	}
	d.logger.DebugContext(ctx, "action executed",
		slog.String("action_type", actionType),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if out == nil || out.Data == nil {
		return map[string]any{}, nil
	}
	return out.Data, nil
}
