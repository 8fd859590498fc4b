package validation

import (
	"sync"

	"github.com/rendis/schedflow/pkg/schema"
)

// WorkflowValidator runs the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node references, per-type config)
// 3. Reachability
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv}, nil
}

// Validate runs the pipeline and returns an aggregated result. Structural
// errors skip the later stages.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(wf))
	if result.Valid() {
		result.Merge(validateReachability(wf))
	}
	return result
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

var defaultValidator = sync.OnceValues(NewWorkflowValidator)

// Validate checks wf with a shared WorkflowValidator.
func Validate(wf *schema.Workflow) *schema.ValidationResult {
	wv, err := defaultValidator()
	if err != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeInternal, err.Error())
		return r
	}
	return wv.Validate(wf)
}

func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateWorkflow(wf)
	if err == nil {
		return result
	}

	flowErr, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := flowErr.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, flowErr.Message)
	return result
}
