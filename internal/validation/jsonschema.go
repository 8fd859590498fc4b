package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/schedflow/pkg/schema"
)

const workflowSchemaURL = "https://schedflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for workflow definitions. Node
// types are left open: unknown types run as generic nodes.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://schedflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "ownerId": {"type": "string"},
    "status": {"type": "string", "enum": ["", "draft", "active", "archived"]},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/node"}
    },
    "edges": {
      "type": ["array", "null"],
      "items": {"$ref": "#/$defs/edge"}
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"type": "string", "minLength": 1},
        "label": {"type": "string"},
        "config": {"type": ["object", "null"]}
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {"type": "string", "minLength": 1},
        "target": {"type": "string", "minLength": 1},
        "label": {"type": "string"}
      }
    }
  }
}`

// JSONSchemaValidator checks workflow documents and action configs with
// JSON Schema 2020-12. Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // by sha256 of the schema text
}

func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	compiled, err := compileSchema(workflowSchemaURL, []byte(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("workflow schema: %w", err)
	}
	return &JSONSchemaValidator{
		workflowSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateWorkflow checks the document shape of wf. Graph rules live in
// the semantic pass.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	return validateAgainst(v.workflowSchema, wf, "workflow")
}

// ValidateInput checks input against inputSchema. An empty schema accepts
// anything and a nil input is checked as an empty object.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}
	compiled, err := v.inputSchema(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	return validateAgainst(compiled, input, "input")
}

func (v *JSONSchemaValidator) inputSchema(raw []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	compiled, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := compileSchema("schedflow://input-schema/"+key, raw)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	if existing, ok := v.cache[key]; ok {
		compiled = existing
	} else {
		v.cache[key] = compiled
	}
	v.mu.Unlock()
	return compiled, nil
}

// compileSchema builds raw under url with its own compiler so resources of
// unrelated schemas never meet.
func compileSchema(url string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// validateAgainst encodes value to JSON and decodes it the way the schema
// library expects (numbers as json.Number) before validating.
func validateAgainst(sch *jsonschema.Schema, value any, what string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "encode %s", what).WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "decode %s", what).WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toFlowError flattens a schema failure into one VALIDATION error whose
// details list each leaf violation as "<instance path>: <message>".
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	var violations []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		violations = append(violations, "/"+strings.Join(e.InstanceLocation, "/")+": "+e.Error())
	}
	walk(verr)

	msg := verr.Error()
	switch n := len(violations); {
	case n == 1:
		msg = violations[0]
	case n > 1:
		msg = fmt.Sprintf("%d schema violations, first %s", n, violations[0])
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}
