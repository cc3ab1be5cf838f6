package validation

import (
	"sync"
	"testing"

	"github.com/rendis/macrocore/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.documentSchema)
}

func TestValidateDocument_Empty(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDocument([]byte("  "))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "empty")
}

func TestValidateDocument_NotJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDocument([]byte(`{"macros": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestValidateDocument_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"minimal", `{}`},
		{"empty macros", `{"version": 1, "macros": []}`},
		{"full", `{
			"version": 1,
			"interval_ms": 300,
			"macros": [
				{"name": "G", "group": true, "groupData": {"collapsed": true, "size": 1}},
				{
					"name": "M",
					"pause": true,
					"pauseSaveBehavior": 1,
					"parallel": true,
					"onChange": true,
					"useCustomConditionCheckInterval": true,
					"customConditionCheckInterval": 1.5,
					"conditions": [{
						"id": "variable",
						"segmentSettings": {"enabled": false, "customLabel": "x", "useCustomLabel": true, "version": 1},
						"logic": 0,
						"durationModifier": {"type": 1, "seconds": 2.5},
						"settings": {"variable": "a", "compare": "equals", "value": "1"}
					}],
					"actions": [{"id": "wait", "settings": {"duration": "1s"}}],
					"elseActions": [{"id": "log"}]
				}
			],
			"variables": [{"name": "a", "value": "1", "defaultValue": "0", "saveAction": 2}],
			"queues": [{"name": "q", "runOnStartup": true, "resolveVariablesOnAdd": true}]
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, v.ValidateDocument([]byte(tt.doc)))
		})
	}
}

func TestValidateDocument_Invalid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not an object", `[]`, "/"},
		{"unknown top-level field", `{"steps": []}`, "steps"},
		{"macro without name", `{"macros": [{"pause": true}]}`, "/macros/0"},
		{"empty macro name", `{"macros": [{"name": ""}]}`, "/macros/0/name"},
		{"pause behavior out of range", `{"macros": [{"name": "m", "pauseSaveBehavior": 7}]}`, "pauseSaveBehavior"},
		{"negative interval", `{"interval_ms": -1}`, "interval_ms"},
		{"negative check interval", `{"macros": [{"name": "m", "customConditionCheckInterval": -2}]}`, "customConditionCheckInterval"},
		{"condition without id", `{"macros": [{"name": "m", "conditions": [{"logic": 0}]}]}`, "/macros/0/conditions/0"},
		{"bad modifier type", `{"macros": [{"name": "m", "conditions": [{"id": "c", "durationModifier": {"type": 9}}]}]}`, "durationModifier"},
		{"settings not an object", `{"macros": [{"name": "m", "actions": [{"id": "a", "settings": "x"}]}]}`, "settings"},
		{"variable save action", `{"variables": [{"name": "v", "saveAction": 5}]}`, "saveAction"},
		{"queue without name", `{"queues": [{}]}`, "/queues/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
			ce, ok := err.(*schema.CoreError)
			require.True(t, ok)
			violations, ok := ce.Details["violations"].([]string)
			require.True(t, ok)
			assert.Contains(t, violations[0], tt.want)
		})
	}
}

func TestValidateDocument_MultipleViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDocument([]byte(`{"macros": [{"pause": 1}], "queues": [{}]}`))
	require.Error(t, err)
	ce := err.(*schema.CoreError)
	assert.Contains(t, ce.Message, "validation failed with")
	assert.GreaterOrEqual(t, len(ce.Details["violations"].([]string)), 2)
}

func TestValidateDocument_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := `{"macros": [{"name": "m"}]}`
			if i%2 == 1 {
				doc = `{"macros": [{}]}`
			}
			errs[i] = v.ValidateDocument([]byte(doc))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if i%2 == 1 {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}
