// Package pipeline turns raw request data into function results and back:
// preprocess each input, invoke every function on the full argument tuple,
// postprocess each output. Stateful interfaces thread one value per session
// through the state store.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/state"
)

// PredictFunc is a user function. It receives one argument per input
// adapter. A function owning a single output returns that value; one owning
// several returns a []any with one element per output.
type PredictFunc func(ctx context.Context, args []any) (any, error)

// Function is a named PredictFunc.
type Function struct {
	Name string
	Fn   PredictFunc
}

// Interface is an immutable description of what to run and how to convert
// its data, plus the running duration statistics.
type Interface struct {
	name        string
	title       string
	description string

	fns     []Function
	inputs  []component.Input
	outputs []component.Output
	perFn   int

	stateIn      int
	stateOut     int
	stateDefault any

	store     state.Store
	durations *DurationAccumulator
	proxy     bool
	debug     bool
	interpret InterpretFunc
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// Option configures an Interface.
type Option func(*settings)

type settings struct {
	title       string
	description string
	repeat      bool
	store       state.Store
	proxy       bool
	debug       bool
	interpret   InterpretFunc
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// WithTitle sets the title shown in the interface config.
func WithTitle(title, description string) Option {
	return func(s *settings) {
		s.title = title
		s.description = description
	}
}

// WithRepeatOutputs controls whether the output adapters are replicated
// once per function. It defaults to true.
func WithRepeatOutputs(repeat bool) Option {
	return func(s *settings) { s.repeat = repeat }
}

// WithStateStore sets where session state lives. Stateful interfaces
// without a store get a private in-memory one.
func WithStateStore(store state.Store) Option {
	return func(s *settings) { s.store = store }
}

// WithProxy marks the functions as calls to a remote endpoint: inputs are
// serialized before each call and outputs deserialized after it.
func WithProxy(proxy bool) Option {
	return func(s *settings) { s.proxy = proxy }
}

// WithDebug attaches stack traces to prediction failures.
func WithDebug(debug bool) Option {
	return func(s *settings) { s.debug = debug }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics reports invocation durations and outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// New validates the declaration and builds an Interface. Every violation is
// a *errors.ConfigurationError.
func New(name string, fns []Function, inputs []component.Input, outputs []component.Output, opts ...Option) (*Interface, error) {
	cfg := settings{repeat: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(fns) == 0 {
		return nil, errors.NewConfiguration("interface %q needs at least one function", name)
	}
	for i, fn := range fns {
		if fn.Fn == nil {
			return nil, errors.NewConfiguration("function %d of interface %q is nil", i, name)
		}
	}
	for i, in := range inputs {
		if in == nil {
			return nil, errors.NewConfiguration("input %d is nil", i)
		}
		if !in.Kind().Valid() {
			return nil, errors.NewConfiguration("input %d has unknown kind %s", i, in.Kind())
		}
	}
	for i, out := range outputs {
		if out == nil {
			return nil, errors.NewConfiguration("output %d is nil", i)
		}
		if !out.Kind().Valid() {
			return nil, errors.NewConfiguration("output %d has unknown kind %s", i, out.Kind())
		}
	}

	all := outputs
	if cfg.repeat && len(fns) > 1 {
		all = make([]component.Output, 0, len(outputs)*len(fns))
		for range fns {
			all = append(all, outputs...)
		}
	}
	if len(all)%len(fns) != 0 {
		return nil, errors.NewConfiguration("%d outputs cannot be split evenly across %d functions", len(all), len(fns))
	}

	iface := &Interface{
		name:        name,
		title:       cfg.title,
		description: cfg.description,
		fns:         append([]Function(nil), fns...),
		inputs:      append([]component.Input(nil), inputs...),
		outputs:     all,
		perFn:       len(all) / len(fns),
		stateIn:     -1,
		stateOut:    -1,
		durations:   NewDurationAccumulator(len(fns)),
		proxy:       cfg.proxy,
		debug:       cfg.debug,
		interpret:   cfg.interpret,
		logger:      cfg.logger.With("interface", name),
		metrics:     cfg.metrics,
	}

	if err := iface.bindState(cfg.store); err != nil {
		return nil, err
	}
	return iface, nil
}

func (i *Interface) bindState(store state.Store) error {
	for idx, in := range i.inputs {
		if in.Kind() != component.KindState {
			continue
		}
		if i.stateIn >= 0 {
			return errors.NewConfiguration("only one input can be state")
		}
		i.stateIn = idx
	}
	for idx, out := range i.outputs {
		if out.Kind() != component.KindState {
			continue
		}
		if i.stateOut >= 0 {
			return errors.NewConfiguration("only one output can be state")
		}
		i.stateOut = idx
	}

	if i.stateIn < 0 {
		if i.stateOut >= 0 {
			return errors.NewConfiguration("a state output requires a state input")
		}
		return nil
	}
	if len(i.fns) > 1 {
		return errors.NewConfiguration("state cannot be used with multiple functions")
	}
	if i.stateOut < 0 {
		return errors.NewConfiguration("a stateful interface needs exactly one state input and one state output")
	}

	if st, ok := i.inputs[i.stateIn].(component.Stateful); ok {
		i.stateDefault = st.Default()
	}
	if store == nil {
		mem, err := state.NewMemoryStore(nil)
		if err != nil {
			return err
		}
		store = mem
	}
	i.store = store
	return nil
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.name }

// Inputs returns the input adapters.
func (i *Interface) Inputs() []component.Input { return i.inputs }

// Outputs returns the output adapters after replication.
func (i *Interface) Outputs() []component.Output { return i.outputs }

// FunctionCount returns the number of functions.
func (i *Interface) FunctionCount() int { return len(i.fns) }

// Stateful reports whether the interface threads session state.
func (i *Interface) Stateful() bool { return i.stateIn >= 0 }

// StateIndices returns the state input and output positions, or -1.
func (i *Interface) StateIndices() (in, out int) { return i.stateIn, i.stateOut }

// Durations returns the running duration statistics.
func (i *Interface) Durations() *DurationAccumulator { return i.durations }

// Logger returns the interface logger.
func (i *Interface) Logger() *slog.Logger { return i.logger }

// InputLabels returns one header per input, falling back to the adapter name.
func (i *Interface) InputLabels() []string {
	labels := make([]string, len(i.inputs))
	for idx, in := range i.inputs {
		labels[idx] = labelOr(in, idx)
	}
	return labels
}

// OutputLabels returns one header per output, falling back to the adapter name.
func (i *Interface) OutputLabels() []string {
	labels := make([]string, len(i.outputs))
	for idx, out := range i.outputs {
		labels[idx] = labelOr(out, idx)
	}
	return labels
}

func labelOr(a component.Adapter, idx int) string {
	if a.Label() != "" {
		return a.Label()
	}
	return a.Name() + "_" + itoa(idx)
}
