// Package component defines the adapters that sit between wire values and
// the values a user function sees. Input adapters preprocess raw request
// data; output adapters postprocess function results. An adapter of kind
// State carries per-session state instead of user data.
package component

import (
	"fmt"
)

// Kind tags an adapter as carrying user data or session state.
type Kind int

const (
	// KindNormal adapters convert request data and results.
	KindNormal Kind = iota
	// KindState adapters are filled from and committed to the state store.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k == KindNormal || k == KindState
}

// Adapter is the metadata shared by inputs and outputs.
type Adapter interface {
	// Name is the factory name, e.g. "textbox".
	Name() string
	Label() string
	Kind() Kind
	// Describe returns the adapter section of the interface config.
	Describe() map[string]any
}

// Input converts request data into function arguments.
type Input interface {
	Adapter
	// Preprocess converts a wire value. It must not have side effects.
	Preprocess(raw any) (any, error)
	// Serialize converts a processed value back to wire form. Called when
	// the interface proxies a remote endpoint.
	Serialize(value any, calledDirectly bool) (any, error)
	// TestInput returns a value Preprocess accepts, used for launch checks.
	TestInput() any
}

// Output converts function results into response data.
type Output interface {
	Adapter
	// Postprocess converts a function result. It is never called with nil.
	Postprocess(result any) (any, error)
	// Deserialize converts a remote endpoint's wire value into a result.
	Deserialize(wire any) (any, error)
}

// Stateful is implemented by adapters of KindState.
type Stateful interface {
	// Default is the state for a session that has none stored yet.
	Default() any
}

type base struct {
	name  string
	label string
	kind  Kind
}

func (b base) Name() string  { return b.name }
func (b base) Label() string { return b.label }
func (b base) Kind() Kind    { return b.kind }

func (b base) Describe() map[string]any {
	return map[string]any{
		"name":  b.name,
		"label": b.label,
		"kind":  b.kind.String(),
	}
}

func identity(v any) (any, error) { return v, nil }
