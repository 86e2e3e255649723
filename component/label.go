package component

import (
	"fmt"
	"sort"
)

// Label renders a classification result. A map of class confidences is
// reduced to the top class plus the sorted confidence list.
type Label struct {
	base
	// NumTopClasses limits the confidence list; zero keeps all.
	NumTopClasses int
}

// NewLabel creates a classification output adapter.
func NewLabel(label string) *Label {
	return &Label{base: base{name: "label", label: label}}
}

type confidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (l *Label) Postprocess(result any) (any, error) {
	switch v := result.(type) {
	case string:
		return map[string]any{"label": v}, nil
	case map[string]float64:
		for k, f := range v {
			if _, err := finite(f); err != nil {
				return nil, fmt.Errorf("confidence for %q: %w", k, err)
			}
		}
		return l.confidences(v), nil
	case map[string]any:
		scores := make(map[string]float64, len(v))
		for k, raw := range v {
			f, err := finite(raw)
			if err != nil {
				return nil, fmt.Errorf("confidence for %q: %w", k, err)
			}
			scores[k] = f
		}
		return l.confidences(scores), nil
	default:
		f, err := finite(result)
		if err != nil {
			return nil, fmt.Errorf("unsupported label result %T: %w", result, err)
		}
		return map[string]any{"label": fmt.Sprint(f)}, nil
	}
}

func (l *Label) confidences(scores map[string]float64) map[string]any {
	list := make([]confidence, 0, len(scores))
	for k, v := range scores {
		list = append(list, confidence{Label: k, Confidence: v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Confidence == list[j].Confidence {
			return list[i].Label < list[j].Label
		}
		return list[i].Confidence > list[j].Confidence
	})
	if l.NumTopClasses > 0 && len(list) > l.NumTopClasses {
		list = list[:l.NumTopClasses]
	}
	out := map[string]any{"confidences": list}
	if len(list) > 0 {
		out["label"] = list[0].Label
	}
	return out
}

func (l *Label) Deserialize(wire any) (any, error) {
	m, ok := wire.(map[string]any)
	if !ok {
		return wire, nil
	}
	if label, ok := m["label"]; ok {
		return label, nil
	}
	return wire, nil
}
