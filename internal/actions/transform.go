package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/schedflow/internal/expressions"
)

const transformInputSchema = `{
  "type": "object",
  "properties": {
    "filter": {"type": "string", "minLength": 1},
    "input": {}
  },
  "required": ["filter"]
}`

// TransformAction implements the "Transform" action: a jq filter applied
// to the input config value.
type TransformAction struct {
	jq *expressions.JQEngine
}

// NewTransformAction creates a Transform action.
func NewTransformAction() *TransformAction {
	return &TransformAction{jq: expressions.NewJQEngine()}
}

func (a *TransformAction) Name() string { return "Transform" }

func (a *TransformAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Reshape data with a jq filter.",
		InputSchema: json.RawMessage(transformInputSchema),
	}
}

func (a *TransformAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	result, err := a.jq.Query(ctx, stringParam(input.Config, "filter", ""), input.Config["input"])
	if err != nil {
		return nil, err
	}
	return &ActionOutput{Data: map[string]any{"result": result}}, nil
}
