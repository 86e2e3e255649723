package component

import "fmt"

// Checkbox carries a boolean.
type Checkbox struct {
	base
}

// NewCheckbox creates a boolean adapter.
func NewCheckbox(label string) *Checkbox {
	return &Checkbox{base: base{name: "checkbox", label: label}}
}

func (c *Checkbox) Preprocess(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return nil, fmt.Errorf("expected bool, got %T", raw)
	}
}

func (c *Checkbox) Postprocess(result any) (any, error) {
	b, ok := result.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (c *Checkbox) Serialize(value any, _ bool) (any, error) { return identity(value) }
func (c *Checkbox) Deserialize(wire any) (any, error)        { return c.Postprocess(wire) }
func (c *Checkbox) TestInput() any                           { return true }
