package pipeline

import (
	"context"
	"fmt"

	"github.com/sandutsar/gradio/errors"
)

// InterpretFunc explains a prediction. It receives the same preprocessed
// arguments as the prediction functions and returns one score per input;
// a score may be a number or any JSON value such as per-token weights.
type InterpretFunc func(ctx context.Context, args []any) ([]any, error)

// Interpretation is the result of Interpret.
type Interpretation struct {
	Scores []any `json:"interpretation_scores"`
	// AlternativeOutputs is reserved for perturbation-based interpreters
	// and is nil for custom ones.
	AlternativeOutputs []any `json:"alternative_outputs"`
}

// WithInterpretation attaches an interpreter to the interface.
func WithInterpretation(f InterpretFunc) Option {
	return func(s *settings) { s.interpret = f }
}

// Interpretable reports whether an interpreter is attached.
func (i *Interface) Interpretable() bool { return i.interpret != nil }

// Interpret preprocesses raw and runs the interpreter on it. A state input
// receives the declared default; session state is neither read nor
// written, and duration statistics are untouched.
func (i *Interface) Interpret(ctx context.Context, raw []any) (*Interpretation, error) {
	if i.interpret == nil {
		return nil, errors.WrapInvalid(errors.ErrInterpretationDisabled, "Interface", "Interpret", "check interpreter")
	}
	if len(raw) != len(i.inputs) {
		return nil, errors.NewInvalidInput(-1,
			fmt.Sprintf("expected %d values, got %d", len(i.inputs), len(raw)), nil)
	}

	args := append([]any(nil), raw...)
	if i.Stateful() {
		args[i.stateIn] = i.stateDefault
	}
	processed := make([]any, len(args))
	for idx, in := range i.inputs {
		v, err := in.Preprocess(args[idx])
		if err != nil {
			return nil, errors.NewInvalidInput(idx, "", err)
		}
		processed[idx] = v
	}

	interpret := Function{Name: "interpret", Fn: func(ctx context.Context, args []any) (any, error) {
		return i.interpret(ctx, args)
	}}
	out, _, err := i.call(ctx, interpret, processed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		i.logger.Error("Interpretation failed", "error", err)
		return nil, errors.Wrap(err, "Interface", "Interpret", "run interpreter")
	}

	scores, _ := out.([]any)
	if len(scores) != len(i.inputs) {
		return nil, errors.Wrap(fmt.Errorf("returned %d scores, expected %d", len(scores), len(i.inputs)),
			"Interface", "Interpret", "check scores")
	}
	return &Interpretation{Scores: scores}, nil
}
