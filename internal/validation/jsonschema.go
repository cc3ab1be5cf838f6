package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/macrocore/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const documentSchemaURL = "https://macrocore.dev/schemas/document.json"

// documentSchemaJSON is the JSON Schema for the settings document.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://macrocore.dev/schemas/document.json",
  "type": "object",
  "properties": {
    "version": { "type": "integer", "minimum": 0 },
    "interval_ms": { "type": "integer", "minimum": 0 },
    "macros": {
      "type": "array",
      "items": { "$ref": "#/$defs/macro" }
    },
    "variables": {
      "type": "array",
      "items": { "$ref": "#/$defs/variable" }
    },
    "queues": {
      "type": "array",
      "items": { "$ref": "#/$defs/queue" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "macro": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "pause": { "type": "boolean" },
        "pauseSaveBehavior": { "type": "integer", "enum": [0, 1, 2] },
        "parallel": { "type": "boolean" },
        "onChange": { "type": "boolean" },
        "skipExecOnStart": { "type": "boolean" },
        "stopActionsIfNotDone": { "type": "boolean" },
        "useShortCircuitEvaluation": { "type": "boolean" },
        "useCustomConditionCheckInterval": { "type": "boolean" },
        "customConditionCheckInterval": { "type": "number", "minimum": 0 },
        "group": { "type": "boolean" },
        "groupData": {
          "type": "object",
          "properties": {
            "collapsed": { "type": "boolean" },
            "size": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "conditions": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        },
        "actions": {
          "type": "array",
          "items": { "$ref": "#/$defs/action" }
        },
        "elseActions": {
          "type": "array",
          "items": { "$ref": "#/$defs/action" }
        }
      },
      "additionalProperties": false
    },
    "segmentSettings": {
      "type": "object",
      "properties": {
        "collapsed": { "type": "boolean" },
        "useCustomLabel": { "type": "boolean" },
        "customLabel": { "type": "string" },
        "enabled": { "type": "boolean" },
        "version": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "segmentSettings": { "$ref": "#/$defs/segmentSettings" },
        "logic": { "type": "integer" },
        "durationModifier": {
          "type": "object",
          "properties": {
            "type": { "type": "integer", "enum": [0, 1, 2, 3, 4] },
            "seconds": { "type": "number", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "settings": { "type": "object" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "segmentSettings": { "$ref": "#/$defs/segmentSettings" },
        "settings": { "type": "object" }
      },
      "additionalProperties": false
    },
    "variable": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "value": { "type": "string" },
        "defaultValue": { "type": "string" },
        "saveAction": { "type": "integer", "enum": [0, 1, 2] }
      },
      "additionalProperties": false
    },
    "queue": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "runOnStartup": { "type": "boolean" },
        "resolveVariablesOnAdd": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of raw settings documents.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the document schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}

	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &JSONSchemaValidator{documentSchema: compiled}, nil
}

// ValidateDocument validates raw JSON against the document schema.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "document is empty")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}

	if err := v.documentSchema.Validate(doc); err != nil {
		return toCoreError(err)
	}
	return nil
}

// toCoreError converts a jsonschema.ValidationError into a CoreError listing
// every violation with its instance location.
func toCoreError(err error) *schema.CoreError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
