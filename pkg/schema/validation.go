package schema

import "fmt"

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding against a workflow definition. Path points
// into the definition, e.g. "nodes[2].config.expression".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult collects issues. Only Errors block storing a workflow.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, issue(SeverityError, path, code, message))
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, issue(SeverityWarning, path, code, message))
}

func issue(sev ValidationSeverity, path, code, message string) ValidationIssue {
	return ValidationIssue{Path: path, Code: code, Message: message, Severity: sev}
}

// Merge appends other's issues. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// message is the first error and whose details carry every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	msg := first.Message
	if n := len(r.Errors) - 1; n > 0 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n)
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"path":     first.Path,
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
