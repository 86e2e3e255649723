package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sandutsar/gradio/errors"
)

// Prediction is the result of Process.
type Prediction struct {
	// Outputs holds one postprocessed value per output adapter. The state
	// output slot is always nil.
	Outputs []any
	// Durations holds the wall-clock time of each function.
	Durations []time.Duration
	// State is the session state returned by the function, nil for
	// stateless interfaces.
	State any
}

// Process runs the full pipeline for one request.
//
// For a stateful interface the state slot of raw is replaced with the
// session's stored value, or the declared default when the session has
// none. The returned state is written back only after every function and
// every postprocess step succeeded. An empty sessionID keeps whatever raw
// carries in the state slot (nil meaning the default) and persists nothing.
//
// If ctx is cancelled while a function runs, Process returns ctx.Err()
// without recording durations or committing state.
func (i *Interface) Process(ctx context.Context, sessionID string, raw []any) (*Prediction, error) {
	if len(raw) != len(i.inputs) {
		i.record("invalid")
		return nil, errors.NewInvalidInput(-1,
			fmt.Sprintf("expected %d values, got %d", len(i.inputs), len(raw)), nil)
	}

	args := append([]any(nil), raw...)
	if i.Stateful() {
		current, err := i.loadState(ctx, sessionID, args[i.stateIn])
		if err != nil {
			return nil, err
		}
		args[i.stateIn] = current
	}

	processed := make([]any, len(args))
	for idx, in := range i.inputs {
		v, err := in.Preprocess(args[idx])
		if err != nil {
			i.record("invalid")
			return nil, errors.NewInvalidInput(idx, "", err)
		}
		processed[idx] = v
	}

	results, durations, err := i.invoke(ctx, processed, false)
	if err != nil {
		return nil, err
	}

	outputs := make([]any, len(i.outputs))
	for idx, out := range i.outputs {
		if results[idx] == nil {
			continue
		}
		v, err := out.Postprocess(results[idx])
		if err != nil {
			i.record("failed")
			return nil, i.failure(idx/i.perFn, fmt.Errorf("postprocess output %d: %w", idx, err), "")
		}
		outputs[idx] = v
	}

	pred := &Prediction{Outputs: outputs, Durations: durations}
	if i.Stateful() {
		pred.State = outputs[i.stateOut]
		outputs[i.stateOut] = nil
		if sessionID != "" {
			if err := i.CommitState(ctx, sessionID, pred.State); err != nil {
				i.record("failed")
				return nil, err
			}
		}
	}

	for fn, d := range durations {
		i.durations.Record(fn, d)
		if i.metrics != nil {
			i.metrics.RecordInvocation(i.name, i.fns[fn].Name, d)
		}
	}
	i.record("ok")
	i.logger.Debug("Prediction complete", "session", sessionID, "durations", durations)
	return pred, nil
}

// CommitState stores v as the state of sessionID. It is a no-op for
// stateless interfaces.
func (i *Interface) CommitState(ctx context.Context, sessionID string, v any) error {
	if !i.Stateful() || sessionID == "" {
		return nil
	}
	if err := i.store.Set(ctx, sessionID, v); err != nil {
		return errors.Wrap(err, "Interface", "CommitState", "commit session state")
	}
	if i.metrics != nil {
		i.metrics.RecordStateCommit(i.name)
	}
	return nil
}

func (i *Interface) loadState(ctx context.Context, sessionID string, carried any) (any, error) {
	if sessionID == "" {
		if carried == nil {
			return i.stateDefault, nil
		}
		return carried, nil
	}
	v, ok, err := i.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "Interface", "Process", "load session state")
	}
	if !ok {
		return i.stateDefault, nil
	}
	return v, nil
}

// RunPrediction invokes every function on already preprocessed arguments
// and returns the unprocessed results, concatenated in function order. It
// neither touches session state nor updates duration statistics.
func (i *Interface) RunPrediction(ctx context.Context, processed []any, calledDirectly bool) ([]any, []time.Duration, error) {
	if len(processed) != len(i.inputs) {
		return nil, nil, errors.NewInvalidInput(-1,
			fmt.Sprintf("expected %d values, got %d", len(i.inputs), len(processed)), nil)
	}
	return i.invoke(ctx, processed, calledDirectly)
}

// Call runs the functions as if the interface were called directly, skipping
// pre- and postprocessing.
func (i *Interface) Call(ctx context.Context, args ...any) ([]any, error) {
	results, _, err := i.RunPrediction(ctx, args, true)
	return results, err
}

// TestLaunch runs every function once on the adapters' sample inputs.
func (i *Interface) TestLaunch(ctx context.Context) error {
	processed := make([]any, len(i.inputs))
	for idx, in := range i.inputs {
		v, err := in.Preprocess(in.TestInput())
		if err != nil {
			return errors.NewInvalidInput(idx, "sample input rejected", err)
		}
		processed[idx] = v
	}
	_, _, err := i.invoke(ctx, processed, false)
	return err
}

func (i *Interface) invoke(ctx context.Context, processed []any, calledDirectly bool) ([]any, []time.Duration, error) {
	args := processed
	if i.proxy {
		args = make([]any, len(processed))
		for idx, in := range i.inputs {
			v, err := in.Serialize(processed[idx], calledDirectly)
			if err != nil {
				return nil, nil, errors.NewInvalidInput(idx, "serialize", err)
			}
			args[idx] = v
		}
	}

	results := make([]any, 0, len(i.outputs))
	durations := make([]time.Duration, 0, len(i.fns))

	for fnIdx, fn := range i.fns {
		start := time.Now()
		out, stack, err := i.call(ctx, fn, args)
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				i.record("cancelled")
				return nil, nil, ctx.Err()
			}
			i.record("failed")
			return nil, nil, i.failure(fnIdx, err, stack)
		}

		values, err := i.split(out)
		if err != nil {
			i.record("failed")
			return nil, nil, i.failure(fnIdx, err, "")
		}
		if i.proxy {
			base := fnIdx * i.perFn
			for k, v := range values {
				d, err := i.outputs[base+k].Deserialize(v)
				if err != nil {
					i.record("failed")
					return nil, nil, i.failure(fnIdx, fmt.Errorf("deserialize output %d: %w", base+k, err), "")
				}
				values[k] = d
			}
		}

		results = append(results, values...)
		durations = append(durations, elapsed)
	}
	return results, durations, nil
}

// split turns one function's return value into its outputs.
func (i *Interface) split(out any) ([]any, error) {
	if len(i.outputs) == len(i.fns) {
		return []any{out}, nil
	}
	values, ok := out.([]any)
	if !ok {
		return nil, fmt.Errorf("returned %T, expected []any with %d values", out, i.perFn)
	}
	if len(values) != i.perFn {
		return nil, fmt.Errorf("returned %d values, expected %d", len(values), i.perFn)
	}
	return append([]any(nil), values...), nil
}

type callResult struct {
	out   any
	err   error
	stack string
}

// call runs fn in its own goroutine so a cancelled ctx can abandon it.
func (i *Interface) call(ctx context.Context, fn Function, args []any) (any, string, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res := callResult{err: fmt.Errorf("panic: %v", r)}
				if i.debug {
					res.stack = string(debug.Stack())
				}
				done <- res
			}
		}()
		out, err := fn.Fn(ctx, args)
		done <- callResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.stack, res.err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (i *Interface) failure(fnIdx int, err error, stack string) error {
	pe := &errors.PredictionError{FnIndex: fnIdx, Err: err}
	if i.debug {
		pe.Stack = stack
	}
	i.logger.Error("Prediction failed", "fn_index", fnIdx, "function", i.fns[fnIdx].Name, "error", err)
	return pe
}

func (i *Interface) record(outcome string) {
	if i.metrics != nil {
		i.metrics.RecordPrediction(i.name, outcome)
	}
}
