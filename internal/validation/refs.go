package validation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/macrocore/pkg/schema"
)

// Settings keys that hold macro names.
var refKeys = []string{"macro", "macros", "conditionMacro"}

// validateReferences reports macro references that name neither a macro of
// the document nor one of known, and cycles of actions that run macros.
// Both are warnings: references resolve on every use, and nested runs are
// bounded by the recursion guard.
func validateReferences(doc *schema.Document, known func(string) bool) *schema.ValidationResult {
	result := schema.NewValidationResult(schema.StageReference)

	names := make(map[string]bool, len(doc.Macros))
	for _, m := range doc.Macros {
		names[m.Name] = true
	}
	exists := func(name string) bool {
		return names[name] || (known != nil && known(name))
	}

	// runs[a] lists the macros that actions of a run.
	runs := make(map[string][]string, len(doc.Macros))

	for i, m := range doc.Macros {
		path := fmt.Sprintf("macros[%d]", i)
		for j, c := range m.Conditions {
			for _, ref := range settingsRefs(c.Settings) {
				if !exists(ref) {
					result.AddMacroWarning(m.Name, fmt.Sprintf("%s.conditions[%d]", path, j), schema.ErrCodeNotFound,
						fmt.Sprintf("references unknown macro %q", ref))
				}
			}
		}
		scan := func(kind string, list []schema.ActionData) {
			for j, a := range list {
				refs := settingsRefs(a.Settings)
				for _, ref := range refs {
					if !exists(ref) {
						result.AddMacroWarning(m.Name, fmt.Sprintf("%s.%s[%d]", path, kind, j), schema.ErrCodeNotFound,
							fmt.Sprintf("references unknown macro %q", ref))
					}
				}
				if runsMacros(a.Settings) {
					for _, ref := range refs {
						if names[ref] {
							runs[m.Name] = append(runs[m.Name], ref)
						}
					}
				}
			}
		}
		scan("actions", m.Actions)
		scan("elseActions", m.ElseActions)
	}

	if cyclic := findRunCycle(names, runs); len(cyclic) > 0 {
		result.AddWarning("macros", schema.ErrCodeCycleDetected,
			fmt.Sprintf("macros %v run each other in a cycle", cyclic))
	}
	return result
}

// findRunCycle strips every macro that runs nothing left in the graph
// (Kahn's algorithm on out-degrees) and returns the sorted remainder, which
// lies on or leads into a cycle.
func findRunCycle(names map[string]bool, runs map[string][]string) []string {
	outDegree := make(map[string]int, len(names))
	callers := make(map[string][]string, len(names))
	for name := range names {
		seen := make(map[string]bool)
		for _, target := range runs[name] {
			if seen[target] {
				continue
			}
			seen[target] = true
			outDegree[name]++
			callers[target] = append(callers[target], name)
		}
	}

	queue := make([]string, 0, len(names))
	for name := range names {
		if outDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	removed := make(map[string]bool, len(names))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		removed[node] = true
		for _, caller := range callers[node] {
			outDegree[caller]--
			if outDegree[caller] == 0 {
				queue = append(queue, caller)
			}
		}
	}

	var cyclic []string
	for name := range names {
		if !removed[name] {
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// settingsRefs extracts the macro names held by the reference keys.
func settingsRefs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	var refs []string
	for _, key := range refKeys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var one string
		if json.Unmarshal(v, &one) == nil {
			if one != "" {
				refs = append(refs, one)
			}
			continue
		}
		var many []string
		if json.Unmarshal(v, &many) == nil {
			for _, name := range many {
				if name != "" {
					refs = append(refs, name)
				}
			}
		}
	}
	return refs
}

// runsMacros reports whether an action's settings describe running the
// referenced macros: an "action" field of "run", or no "action" field at all.
func runsMacros(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var fields struct {
		Action *string `json:"action"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	return fields.Action == nil || *fields.Action == "run"
}
