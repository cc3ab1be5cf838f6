package validation

import (
	"fmt"

	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/pkg/schema"
)

// validateSemantic checks what the schema cannot express: version support,
// unique names, group layout, segment ids and condition logic.
// Problems the loader repairs on its own are reported as warnings.
func validateSemantic(doc *schema.Document, lookup SegmentLookup) *schema.ValidationResult {
	result := schema.NewValidationResult(schema.StageSemantic)

	if doc.Version > schema.DocumentVersion {
		result.AddError("version", schema.ErrCodeValidation,
			fmt.Sprintf("unsupported document version %d (newest is %d)", doc.Version, schema.DocumentVersion))
	}

	validateMacros(doc.Macros, lookup, result)

	seen := make(map[string]bool, len(doc.Variables))
	for i, v := range doc.Variables {
		if seen[v.Name] {
			result.AddError(fmt.Sprintf("variables[%d].name", i), schema.ErrCodeConflict,
				fmt.Sprintf("duplicate variable name %q", v.Name))
		}
		seen[v.Name] = true
	}

	seen = make(map[string]bool, len(doc.Queues))
	for i, q := range doc.Queues {
		if seen[q.Name] {
			result.AddError(fmt.Sprintf("queues[%d].name", i), schema.ErrCodeConflict,
				fmt.Sprintf("duplicate queue name %q", q.Name))
		}
		seen[q.Name] = true
	}

	return result
}

func validateMacros(macros []schema.MacroData, lookup SegmentLookup, result *schema.ValidationResult) {
	names := make(map[string]bool, len(macros))
	remaining := 0
	group := ""

	for i := range macros {
		m := &macros[i]
		path := fmt.Sprintf("macros[%d]", i)

		if names[m.Name] {
			result.AddMacroError(m.Name, path+".name", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate macro name %q", m.Name))
		}
		names[m.Name] = true

		if m.Group {
			if remaining > 0 {
				result.AddMacroWarning(m.Name, path, schema.ErrCodeValidation,
					fmt.Sprintf("group %q is nested in group %q and will be dissolved", m.Name, group))
			} else if m.GroupData != nil {
				group, remaining = m.Name, m.GroupData.Size
			}
			if len(m.Conditions)+len(m.Actions)+len(m.ElseActions) > 0 {
				result.AddMacroWarning(m.Name, path, schema.ErrCodeValidation,
					fmt.Sprintf("group %q has segments, they are ignored", m.Name))
			}
			continue
		}
		if remaining > 0 {
			remaining--
		}

		validateSegments(m, path, lookup, result)
	}

	if remaining > 0 {
		result.AddWarning("macros", schema.ErrCodeValidation,
			fmt.Sprintf("group %q is larger than the macros following it and will be dissolved", group))
	}
}

func validateSegments(m *schema.MacroData, path string, lookup SegmentLookup, result *schema.ValidationResult) {
	for j, c := range m.Conditions {
		cpath := fmt.Sprintf("%s.conditions[%d]", path, j)
		if lookup != nil && !lookup.HasCondition(c.ID) {
			result.AddMacroWarning(m.Name, cpath+".id", schema.ErrCodeNotFound,
				fmt.Sprintf("condition type %q is not registered and will be dropped", c.ID))
		}
		t := logic.Type(c.Logic)
		if fixed, changed := logic.Normalize(t, j); changed {
			result.AddMacroWarning(m.Name, cpath+".logic", schema.ErrCodeValidation,
				fmt.Sprintf("logic %s is not valid at position %d, using %s", t, j, fixed))
		}
	}

	check := func(kind string, list []schema.ActionData) {
		if lookup == nil {
			return
		}
		for j, a := range list {
			if !lookup.HasAction(a.ID) {
				result.AddMacroWarning(m.Name, fmt.Sprintf("%s.%s[%d].id", path, kind, j), schema.ErrCodeNotFound,
					fmt.Sprintf("action type %q is not registered and will be dropped", a.ID))
			}
		}
	}
	check("actions", m.Actions)
	check("elseActions", m.ElseActions)
}
