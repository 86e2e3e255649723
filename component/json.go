package component

import (
	"encoding/json"
	"fmt"
)

// JSON passes decoded JSON values through. A string result is parsed as
// JSON text.
type JSON struct {
	base
}

// NewJSON creates a JSON adapter.
func NewJSON(label string) *JSON {
	return &JSON{base: base{name: "json", label: label}}
}

func (j *JSON) Preprocess(raw any) (any, error) { return identity(raw) }

func (j *JSON) Postprocess(result any) (any, error) {
	s, ok := result.(string)
	if !ok {
		return result, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("result is not valid JSON: %w", err)
	}
	return v, nil
}

func (j *JSON) Serialize(value any, _ bool) (any, error) { return identity(value) }
func (j *JSON) Deserialize(wire any) (any, error)        { return identity(wire) }
func (j *JSON) TestInput() any                           { return map[string]any{"a": 1.0} }
