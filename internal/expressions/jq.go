package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/rendis/schedflow/pkg/schema"
)

// JQEngine evaluates jq filters with gojq. It backs the Transform action.
type JQEngine struct {
	programs *programCache[*gojq.Code]
}

func NewJQEngine() *JQEngine {
	return &JQEngine{programs: newProgramCache[*gojq.Code]()}
}

func (e *JQEngine) Name() string { return "jq" }

// Evaluate runs the filter with data as its input document.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.Query(ctx, expression, data)
}

// Query runs a jq filter against an arbitrary JSON-shaped input. A single
// output is returned as-is; several outputs are collected into a slice.
func (e *JQEngine) Query(ctx context.Context, filter string, input any) (any, error) {
	if filter == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.programs.get(filter, func() (*gojq.Code, error) { return compileJQ(filter) })
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(input))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, langError("jq", schema.ErrCodeExecution, "evaluate", filter, err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, langError("jq", schema.ErrCodeValidation, "parse", filter, err)
	}
	// No $ENV access from workflow-authored filters.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, langError("jq", schema.ErrCodeValidation, "compile", filter, err)
	}
	return code, nil
}

// normalizeForJQ converts values into the types gojq accepts (nil, bool,
// int, float64, string, []any, map[string]any). Anything else takes a JSON
// round trip.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case nil, bool, int, float64, string:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

var _ Engine = (*JQEngine)(nil)
