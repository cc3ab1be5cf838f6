package variables

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/macrocore/internal/segment"
)

// Text is a segment setting that may embed ${{ }} references. Once fixed it
// is returned verbatim and never resolved again.
type Text struct {
	Raw   string
	Fixed bool
}

// NewText creates an unfixed Text.
func NewText(raw string) Text {
	return Text{Raw: raw}
}

// Value returns the resolved text. A nil resolver returns Raw.
func (t Text) Value(r segment.Resolver) (string, error) {
	if t.Fixed || r == nil {
		return t.Raw, nil
	}
	return r.Resolve(t.Raw)
}

// Int resolves the text and parses it as an integer.
func (t Text) Int(r segment.Resolver) (int, error) {
	s, err := t.Value(r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// Fix replaces Raw with its resolved value. Calling Fix again is a no-op.
func (t *Text) Fix(r segment.Resolver) error {
	if t.Fixed {
		return nil
	}
	v, err := t.Value(r)
	if err != nil {
		return err
	}
	t.Raw = v
	t.Fixed = true
	return nil
}

type fixedText struct {
	Value string `json:"value"`
	Fixed bool   `json:"fixed"`
}

// MarshalJSON encodes unfixed text as a plain string and fixed text as an
// object so the fixed state survives a copy.
func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Fixed {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(fixedText{Value: t.Raw, Fixed: true})
}

// UnmarshalJSON accepts either form written by MarshalJSON.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text{Raw: s}
		return nil
	}
	var f fixedText
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*t = Text{Raw: f.Value, Fixed: f.Fixed}
	return nil
}
