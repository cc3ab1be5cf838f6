package validation

import (
	"encoding/json"
	"errors"

	"github.com/rendis/macrocore/pkg/schema"
)

// DocumentValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (names, groups, segment ids, logic)
// 3. References (unknown macros, run cycles)
type DocumentValidator struct {
	jsonSchema *JSONSchemaValidator
	segments   SegmentLookup
}

// NewDocumentValidator creates a DocumentValidator.
// lookup may be nil to skip segment id checks.
func NewDocumentValidator(lookup SegmentLookup) (*DocumentValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{jsonSchema: jsv, segments: lookup}, nil
}

// Validate runs the full pipeline on raw and returns the aggregated result
// together with the decoded document. known reports macro names that exist
// outside the document; it may be nil. Structural errors short-circuit.
func (dv *DocumentValidator) Validate(raw []byte, known func(string) bool) (*schema.Document, *schema.ValidationResult) {
	result := validateStructural(dv.jsonSchema, raw)
	if !result.Valid() {
		return nil, result
	}

	var doc schema.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, issuesAt(schema.StageStructure, "/", schema.ErrCodeValidation, err.Error())
	}

	result.Merge(validateSemantic(&doc, dv.segments))
	if result.Valid() {
		result.Merge(validateReferences(&doc, known))
	}
	return &doc, result
}

// ValidateDocument satisfies the Validator interface.
func (dv *DocumentValidator) ValidateDocument(raw []byte) error {
	_, result := dv.Validate(raw, nil)
	return result.ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateDocument, converting
// its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, raw []byte) *schema.ValidationResult {
	result := schema.NewValidationResult(schema.StageStructure)

	err := v.ValidateDocument(raw)
	if err == nil {
		return result
	}

	var ce *schema.CoreError
	if !errors.As(err, &ce) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if ce.Details != nil {
		if violations, ok := ce.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, ce.Message)
	return result
}
