package pipeline

// Description is the part of the served interface config that the
// pipeline owns.
type Description struct {
	Name          string           `json:"name"`
	Title         string           `json:"title,omitempty"`
	Description   string           `json:"description,omitempty"`
	Inputs        []map[string]any `json:"input_components"`
	Outputs       []map[string]any `json:"output_components"`
	FunctionCount int              `json:"function_count"`
	FunctionNames []string         `json:"function_names"`
	InputLabels   []string         `json:"input_labels"`
	OutputLabels  []string         `json:"output_labels"`
	Stateful      bool             `json:"stateful"`
	Interpretable bool             `json:"allow_interpretation"`
	AvgDurations  []float64        `json:"avg_durations,omitempty"`
}

// Describe returns the interface's current description.
func (i *Interface) Describe() Description {
	d := Description{
		Name:          i.name,
		Title:         i.title,
		Description:   i.description,
		FunctionCount: len(i.fns),
		InputLabels:   i.InputLabels(),
		OutputLabels:  i.OutputLabels(),
		Stateful:      i.Stateful(),
		Interpretable: i.Interpretable(),
		AvgDurations:  i.durations.AverageSeconds(),
	}
	for _, in := range i.inputs {
		d.Inputs = append(d.Inputs, in.Describe())
	}
	for _, out := range i.outputs {
		d.Outputs = append(d.Outputs, out.Describe())
	}
	for idx, fn := range i.fns {
		name := fn.Name
		if name == "" {
			name = "fn_" + itoa(idx)
		}
		d.FunctionNames = append(d.FunctionNames, name)
	}
	return d
}
