package component

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number accepts any JSON number (or numeric string) and hands the function
// a float64.
type Number struct {
	base
	Precision *int
}

// NewNumber creates a numeric adapter.
func NewNumber(label string) *Number {
	return &Number{base: base{name: "number", label: label}}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

// finite is toFloat that also rejects NaN and infinities, which have no
// JSON encoding.
func finite(raw any) (float64, error) {
	f, err := toFloat(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("number out of range: %v", f)
	}
	return f, nil
}

func (n *Number) round(f float64) float64 {
	if n.Precision == nil {
		return f
	}
	p := math.Pow(10, float64(*n.Precision))
	return math.Round(f*p) / p
}

func (n *Number) Preprocess(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	f, err := finite(raw)
	if err != nil {
		return nil, err
	}
	return n.round(f), nil
}

func (n *Number) Postprocess(result any) (any, error) {
	f, err := finite(result)
	if err != nil {
		return nil, err
	}
	return n.round(f), nil
}

func (n *Number) Serialize(value any, _ bool) (any, error) { return identity(value) }
func (n *Number) Deserialize(wire any) (any, error)        { return n.Postprocess(wire) }
func (n *Number) TestInput() any                           { return 1.0 }
