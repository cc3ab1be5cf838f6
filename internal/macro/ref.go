package macro

import "encoding/json"

// Ref names another macro. It is resolved through the collection on every
// use, so the target may be renamed (see RefRenamer), removed or not yet
// loaded.
type Ref struct {
	Name string
}

// Get returns the referenced macro, or nil.
func (r Ref) Get(c *Collection) *Macro {
	if r.Name == "" || c == nil {
		return nil
	}
	return c.Get(r.Name)
}

// MarshalJSON encodes the reference as the macro name.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Name)
}

// UnmarshalJSON decodes a macro name.
func (r *Ref) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Name)
}

// RefRenamer is implemented by segments holding macro references. The
// collection calls it when a macro is renamed.
type RefRenamer interface {
	RenameMacroRef(from, to string)
}

// RenameRefs renames every entry of refs equal to from.
func RenameRefs(refs []Ref, from, to string) {
	for i := range refs {
		if refs[i].Name == from {
			refs[i].Name = to
		}
	}
}
