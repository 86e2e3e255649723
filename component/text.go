package component

import (
	"fmt"
)

// Textbox accepts and returns strings.
type Textbox struct {
	base
	Placeholder string
}

// NewTextbox creates a text adapter.
func NewTextbox(label string) *Textbox {
	return &Textbox{base: base{name: "textbox", label: label}}
}

func (t *Textbox) Preprocess(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return nil, fmt.Errorf("expected string, got %T", raw)
	}
}

func (t *Textbox) Postprocess(result any) (any, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func (t *Textbox) Serialize(value any, _ bool) (any, error) { return identity(value) }
func (t *Textbox) Deserialize(wire any) (any, error)        { return t.Postprocess(wire) }
func (t *Textbox) TestInput() any                           { return "lorem ipsum" }

func (t *Textbox) Describe() map[string]any {
	d := t.base.Describe()
	if t.Placeholder != "" {
		d["placeholder"] = t.Placeholder
	}
	return d
}
