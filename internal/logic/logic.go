// Package logic folds an ordered list of conditions into a single result.
package logic

import "fmt"

// Type describes how a condition combines with the accumulated result.
// Root types mark the start of the chain and are only valid at index 0.
type Type int

const (
	RootNone Type = 0
	RootNot  Type = 1
	rootLast Type = 2

	// Gap left for future root types.
	None   Type = 100
	And    Type = 101
	Or     Type = 102
	AndNot Type = 103
	OrNot  Type = 104
	last   Type = 105
)

var typeNames = map[Type]string{
	RootNone: "root",
	RootNot:  "not",
	None:     "ignore",
	And:      "and",
	Or:       "or",
	AndNot:   "and not",
	OrNot:    "or not",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("logic(%d)", int(t))
}

// IsRoot reports whether t is a root logic type.
func (t Type) IsRoot() bool {
	return t >= RootNone && t <= rootLast
}

// IsNegation reports whether t inverts the condition result.
func (t Type) IsNegation() bool {
	return t == RootNot || t == AndNot || t == OrNot
}

// IsValid reports whether t may be used at a root (index 0) or non-root
// position.
func (t Type) IsValid(root bool) bool {
	if root {
		return t == RootNone || t == RootNot
	}
	return t >= None && t < last
}

// Apply combines value with current according to t. Unknown types and None
// leave current unchanged.
func Apply(t Type, current, value bool) bool {
	switch t {
	case RootNone:
		return value
	case RootNot:
		return !value
	case And:
		return current && value
	case Or:
		return current || value
	case AndNot:
		return current && !value
	case OrNot:
		return current || !value
	default:
		return current
	}
}

// needsValue reports whether the result of Apply(t, current, ·) depends on the
// value. Used by short-circuit evaluation.
func needsValue(t Type, current bool) bool {
	switch t {
	case RootNone, RootNot:
		return true
	case And, AndNot:
		return current
	case Or, OrNot:
		return !current
	default:
		return false
	}
}
