package schema

import (
	"fmt"
	"slices"
)

// ValidationStage names the pass of document validation that found an issue.
type ValidationStage string

const (
	StageStructure ValidationStage = "structure"
	StageSemantic  ValidationStage = "semantic"
	StageReference ValidationStage = "reference"
)

// ValidationSeverity tells errors, which reject a document, from warnings,
// which the loader repairs.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one problem in a settings document. Macro is set
// for problems inside a macro.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Macro    string             `json:"macro,omitempty"`
	Stage    ValidationStage    `json:"stage"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Macro != "" {
		return fmt.Sprintf("%s (macro %q): %s", i.Path, i.Macro, i.Message)
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of one or more stages. Issues added
// through it are stamped with its Stage; merged issues keep their own.
type ValidationResult struct {
	Stage    ValidationStage   `json:"-"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func NewValidationResult(stage ValidationStage) *ValidationResult {
	return &ValidationResult{Stage: stage}
}

// Valid reports whether there are no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.add(SeverityError, "", path, code, message)
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(SeverityWarning, "", path, code, message)
}

// AddMacroError records an error inside the named macro.
func (r *ValidationResult) AddMacroError(macro, path, code, message string) {
	r.add(SeverityError, macro, path, code, message)
}

// AddMacroWarning records a warning inside the named macro.
func (r *ValidationResult) AddMacroWarning(macro, path, code, message string) {
	r.add(SeverityWarning, macro, path, code, message)
}

func (r *ValidationResult) add(sev ValidationSeverity, macro, path, code, message string) {
	issue := ValidationIssue{
		Path:     path,
		Macro:    macro,
		Stage:    r.Stage,
		Code:     code,
		Message:  message,
		Severity: sev,
	}
	if sev == SeverityError {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// FailedMacros returns the sorted names of macros with at least one error.
func (r *ValidationResult) FailedMacros() []string {
	var names []string
	for _, e := range r.Errors {
		if e.Macro != "" && !slices.Contains(names, e.Macro) {
			names = append(names, e.Macro)
		}
	}
	slices.Sort(names)
	return names
}

// failedStages lists the stages that reported errors, in report order.
func (r *ValidationResult) failedStages() []ValidationStage {
	var stages []ValidationStage
	for _, e := range r.Errors {
		if !slices.Contains(stages, e.Stage) {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION_ERROR whose details carry every issue, naming the macro when
// all errors sit in one.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("document has %d errors, first at %s: %s", len(r.Errors), first.Path, first.Message)
	}

	err := NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"stages":        r.failedStages(),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
	if macros := r.FailedMacros(); len(macros) == 1 {
		err = err.WithMacro(macros[0])
	}
	return err
}
