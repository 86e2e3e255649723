package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/errors"
)

func echo(_ context.Context, args []any) (any, error) { return args[0], nil }

func fn(name string, f PredictFunc) Function { return Function{Name: name, Fn: f} }

type oddKind struct{ *component.Textbox }

func (oddKind) Kind() component.Kind { return component.Kind(9) }

func TestNew_Validation(t *testing.T) {
	text := func() component.Input { return component.NewTextbox("") }
	textOut := func() component.Output { return component.NewTextbox("") }
	st := func() *component.State { return component.NewState("") }

	tests := []struct {
		name    string
		fns     []Function
		inputs  []component.Input
		outputs []component.Output
		opts    []Option
	}{
		{"no functions", nil, []component.Input{text()}, []component.Output{textOut()}, nil},
		{"nil function", []Function{{Name: "x"}}, []component.Input{text()}, []component.Output{textOut()}, nil},
		{"nil input", []Function{fn("e", echo)}, []component.Input{nil}, []component.Output{textOut()}, nil},
		{"nil output", []Function{fn("e", echo)}, []component.Input{text()}, []component.Output{nil}, nil},
		{"unknown kind", []Function{fn("e", echo)}, []component.Input{oddKind{component.NewTextbox("")}}, []component.Output{textOut()}, nil},
		{"two state inputs", []Function{fn("e", echo)}, []component.Input{st(), st()}, []component.Output{st()}, nil},
		{"two state outputs", []Function{fn("e", echo)}, []component.Input{st()}, []component.Output{st(), st()}, nil},
		{"state input without output", []Function{fn("e", echo)}, []component.Input{text(), st()}, []component.Output{textOut()}, nil},
		{"state output without input", []Function{fn("e", echo)}, []component.Input{text()}, []component.Output{st()}, nil},
		{"state with two functions", []Function{fn("a", echo), fn("b", echo)}, []component.Input{st()}, []component.Output{st()}, nil},
		{"uneven outputs", []Function{fn("a", echo), fn("b", echo)}, []component.Input{text()},
			[]component.Output{textOut(), textOut(), textOut()}, []Option{WithRepeatOutputs(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("test", tt.fns, tt.inputs, tt.outputs, tt.opts...)
			require.Error(t, err)
			var ce *errors.ConfigurationError
			assert.ErrorAs(t, err, &ce)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestNew_RepeatOutputs(t *testing.T) {
	iface, err := New("parallel",
		[]Function{fn("a", echo), fn("b", echo)},
		[]component.Input{component.NewTextbox("in")},
		[]component.Output{component.NewTextbox("out")})
	require.NoError(t, err)
	assert.Len(t, iface.Outputs(), 2)
	assert.Equal(t, 2, iface.FunctionCount())
	assert.Equal(t, []string{"out", "out"}, iface.OutputLabels())

	iface, err = New("flat",
		[]Function{fn("a", echo), fn("b", echo)},
		[]component.Input{component.NewTextbox("in")},
		[]component.Output{component.NewTextbox("x"), component.NewTextbox("y")},
		WithRepeatOutputs(false))
	require.NoError(t, err)
	assert.Len(t, iface.Outputs(), 2)
}

func TestNew_Stateful(t *testing.T) {
	iface, err := New("chat", []Function{fn("chat", echo)},
		[]component.Input{component.NewTextbox(""), component.NewState("")},
		[]component.Output{component.NewTextbox(""), component.NewState(nil)})
	require.NoError(t, err)
	assert.True(t, iface.Stateful())

	in, out := iface.StateIndices()
	assert.Equal(t, 1, in)
	assert.Equal(t, 1, out)
	assert.Equal(t, []string{"textbox_0", "state_1"}, iface.InputLabels())
}

func TestDescribe(t *testing.T) {
	iface, err := New("echo", []Function{{Fn: echo}},
		[]component.Input{component.NewTextbox("name")},
		[]component.Output{component.NewTextbox("greeting")},
		WithTitle("Echo", "Repeats its input"))
	require.NoError(t, err)

	d := iface.Describe()
	assert.Equal(t, "Echo", d.Title)
	assert.Equal(t, []string{"fn_0"}, d.FunctionNames)
	assert.Nil(t, d.AvgDurations)
	assert.Equal(t, "textbox", d.Inputs[0]["name"])

	_, err = iface.Process(context.Background(), "", []any{"x"})
	require.NoError(t, err)
	assert.Len(t, iface.Describe().AvgDurations, 1)
}
