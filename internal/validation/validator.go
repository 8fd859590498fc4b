package validation

import "github.com/rendis/schedflow/pkg/schema"

// Validator checks workflow definitions before they are stored or run.
// Uses JSON Schema Draft 2020-12 for structure and input validation.
type Validator interface {
	Validate(wf *schema.Workflow) *schema.ValidationResult
	ValidateInput(input map[string]any, inputSchema []byte) error
}
