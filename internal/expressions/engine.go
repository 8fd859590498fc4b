package expressions

import (
	"context"
	"log/slog"
	"reflect"
	"strings"

	"github.com/rendis/schedflow/pkg/schema"
)

// Engine evaluates an expression against a data map whose top-level keys are
// the expression's free variables.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// DefaultLanguage is the dialect used when a condition names none.
const DefaultLanguage = "expr"

// Condition is the outcome of a boolean evaluation. Err is set when the
// expression could not be evaluated; Value is then always false.
type Condition struct {
	Value bool
	Err   error
}

// Conditions evaluates boolean conditions and fails closed.
type Conditions struct {
	engines map[string]Engine
	logger  *slog.Logger
}

// NewConditions creates a condition evaluator over the given dialects.
// The first engine registered under DefaultLanguage serves unnamed conditions.
func NewConditions(logger *slog.Logger, engines ...Engine) *Conditions {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conditions{engines: make(map[string]Engine, len(engines)), logger: logger}
	for _, e := range engines {
		c.engines[e.Name()] = e
	}
	return c
}

// Evaluate never returns an error: syntax errors, undefined references and
// runtime failures all yield false. Failures are logged at WARN so they can
// be told apart from a genuine false.
func (c *Conditions) Evaluate(ctx context.Context, language, expression string, data map[string]any) Condition {
	if language == "" {
		language = DefaultLanguage
	}
	eng, ok := c.engines[language]
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", language)
		c.logger.WarnContext(ctx, "condition evaluation failed, treating as false",
			slog.String("language", language),
			slog.String("expression", expression),
			slog.String("error", err.Message))
		return Condition{Err: err}
	}

	out, err := eng.Evaluate(ctx, NormalizeOperators(expression), data)
	if err != nil {
		c.logger.WarnContext(ctx, "condition evaluation failed, treating as false",
			slog.String("language", language),
			slog.String("expression", expression),
			slog.String("error", schema.Message(err)))
		return Condition{Err: err}
	}

	v := Truthy(out)
	c.logger.DebugContext(ctx, "condition evaluated",
		slog.String("expression", expression),
		slog.Bool("value", v))
	return Condition{Value: v}
}

// NormalizeOperators rewrites the strict equality operators authors carry
// over from browser scripts into their plain forms.
func NormalizeOperators(expression string) string {
	expression = strings.ReplaceAll(expression, "!==", "!=")
	return strings.ReplaceAll(expression, "===", "==")
}

// Truthy coerces an evaluation result to a boolean. nil, false, zero numbers,
// empty strings and empty collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
