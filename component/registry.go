package component

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sandutsar/gradio/errors"
)

// Spec describes an adapter by factory name, as found in configuration.
type Spec struct {
	Type  string `json:"type" yaml:"type"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// Value is the default for state adapters.
	Value any `json:"value,omitempty" yaml:"value,omitempty"`
	// Options holds adapter-specific settings such as "precision".
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Factory builds an adapter from a Spec.
type Factory func(spec Spec) (Adapter, error)

// Registration holds a factory and its metadata.
type Registration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Input       bool    `json:"input"`
	Output      bool    `json:"output"`
	Factory     Factory `json:"-"`
}

// Registry maps factory names to adapter constructors.
type Registry struct {
	factories map[string]*Registration
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]*Registration)}
}

// RegisterFactory adds a factory. Names are unique.
func (r *Registry) RegisterFactory(reg *Registration) error {
	if reg == nil || reg.Name == "" || reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("factory %q is already registered", reg.Name),
			"Registry", "RegisterFactory", "duplicate factory check")
	}
	r.factories[reg.Name] = reg
	return nil
}

// ListFactories returns the registrations sorted by name.
func (r *Registry) ListFactories() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) create(spec Spec) (Adapter, error) {
	r.mu.RLock()
	reg, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfiguration("unknown component type %q", spec.Type)
	}

	a, err := reg.Factory(spec)
	if err != nil {
		return nil, errors.NewConfiguration("component %q: %v", spec.Type, err)
	}
	if a == nil {
		return nil, errors.NewConfiguration("component %q: factory returned nil", spec.Type)
	}
	return a, nil
}

// CreateInput builds an input adapter.
func (r *Registry) CreateInput(spec Spec) (Input, error) {
	a, err := r.create(spec)
	if err != nil {
		return nil, err
	}
	in, ok := a.(Input)
	if !ok {
		return nil, errors.NewConfiguration("component %q cannot be used as an input", spec.Type)
	}
	return in, nil
}

// CreateOutput builds an output adapter.
func (r *Registry) CreateOutput(spec Spec) (Output, error) {
	a, err := r.create(spec)
	if err != nil {
		return nil, err
	}
	out, ok := a.(Output)
	if !ok {
		return nil, errors.NewConfiguration("component %q cannot be used as an output", spec.Type)
	}
	return out, nil
}

// Inputs builds one input adapter per spec.
func (r *Registry) Inputs(specs ...Spec) ([]Input, error) {
	ins := make([]Input, 0, len(specs))
	for _, s := range specs {
		in, err := r.CreateInput(s)
		if err != nil {
			return nil, err
		}
		ins = append(ins, in)
	}
	return ins, nil
}

// Outputs builds one output adapter per spec.
func (r *Registry) Outputs(specs ...Spec) ([]Output, error) {
	outs := make([]Output, 0, len(specs))
	for _, s := range specs {
		out, err := r.CreateOutput(s)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// Specs turns bare type names into Specs.
func Specs(types ...string) []Spec {
	specs := make([]Spec, len(types))
	for i, t := range types {
		specs[i] = Spec{Type: t}
	}
	return specs
}

// IntOption reads an integer option, accepting JSON and YAML number forms.
func (s Spec) IntOption(key string) (int, bool) {
	switch v := s.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
