package validation

import "github.com/rendis/macrocore/pkg/schema"

// Validator checks persisted settings documents before they are loaded.
// Uses JSON Schema Draft 2020-12 for the structural pass.
type Validator interface {
	ValidateDocument(raw []byte) error
}

// SegmentLookup reports which segment type ids are registered.
type SegmentLookup interface {
	HasCondition(id string) bool
	HasAction(id string) bool
}

var _ Validator = (*DocumentValidator)(nil)
var _ Validator = (*JSONSchemaValidator)(nil)

// issuesAt returns a result holding a single error of stage.
func issuesAt(stage schema.ValidationStage, path, code, msg string) *schema.ValidationResult {
	r := schema.NewValidationResult(stage)
	r.AddError(path, code, msg)
	return r
}
