package actions

import (
	"context"
	"encoding/json"
)

// Action is an executable unit of work behind an action node. Name is the
// action type referenced by a node's actionType config key.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
}

// Catalog resolves action types to actions. *Registry satisfies it.
type Catalog interface {
	Lookup(actionType string) (Action, bool)
}

// ActionSchema describes the config contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the resolved node config passed to an action.
type ActionInput struct {
	Config map[string]any `json:"config"`
}

// ActionOutput is the result of an action execution. Data becomes the
// step result and is visible to later nodes under the node id.
type ActionOutput struct {
	Data map[string]any `json:"data,omitempty"`
}

// ActionInfo describes a registered action type.
type ActionInfo struct {
	Name        string          `json:"actionType"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
