// Package componentregistry registers the built-in adapters.
package componentregistry

import (
	"errors"
	"fmt"

	"github.com/sandutsar/gradio/component"
	pkgerrors "github.com/sandutsar/gradio/errors"
)

func builtins() []*component.Registration {
	return []*component.Registration{
		{
			Name:        "textbox",
			Description: "Free text",
			Input:       true,
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				tb := component.NewTextbox(s.Label)
				if p, ok := s.Options["placeholder"].(string); ok {
					tb.Placeholder = p
				}
				return tb, nil
			},
		},
		{
			Name:        "number",
			Description: "Floating point number",
			Input:       true,
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				n := component.NewNumber(s.Label)
				if p, ok := s.IntOption("precision"); ok {
					if p < 0 {
						return nil, fmt.Errorf("precision must not be negative, got %d", p)
					}
					n.Precision = &p
				}
				return n, nil
			},
		},
		{
			Name:        "checkbox",
			Description: "Boolean",
			Input:       true,
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				return component.NewCheckbox(s.Label), nil
			},
		},
		{
			Name:        "json",
			Description: "Arbitrary JSON value",
			Input:       true,
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				return component.NewJSON(s.Label), nil
			},
		},
		{
			Name:        "label",
			Description: "Classification result",
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				l := component.NewLabel(s.Label)
				if n, ok := s.IntOption("num_top_classes"); ok {
					l.NumTopClasses = n
				}
				return l, nil
			},
		},
		{
			Name:        "state",
			Description: "Per-session state",
			Input:       true,
			Output:      true,
			Factory: func(s component.Spec) (component.Adapter, error) {
				return component.NewState(s.Value), nil
			},
		},
	}
}

// Register adds the built-in adapters to registry.
func Register(registry *component.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}
	for _, reg := range builtins() {
		if err := registry.RegisterFactory(reg); err != nil {
			return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register",
				fmt.Sprintf("%s component registration", reg.Name))
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() (*component.Registry, error) {
	r := component.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
