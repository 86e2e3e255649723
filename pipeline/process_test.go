package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/state"
)

func newHistory(t *testing.T, store state.Store, f PredictFunc) *Interface {
	t.Helper()
	if f == nil {
		f = func(_ context.Context, args []any) (any, error) {
			history := args[1].(string) + args[0].(string)
			return []any{history, history}, nil
		}
	}
	iface, err := New("history", []Function{fn("append", f)},
		[]component.Input{component.NewTextbox("message"), component.NewState("")},
		[]component.Output{component.NewTextbox("history"), component.NewState(nil)},
		WithStateStore(store))
	require.NoError(t, err)
	return iface
}

func TestProcess_Echo(t *testing.T) {
	iface, err := New("echo", []Function{fn("echo", echo)},
		[]component.Input{component.NewTextbox("in")},
		[]component.Output{component.NewTextbox("out")})
	require.NoError(t, err)

	pred, err := iface.Process(context.Background(), "", []any{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []any{"hello"}, pred.Outputs)
	assert.Len(t, pred.Durations, 1)
	assert.Nil(t, pred.State)
}

func TestProcess_InvalidInput(t *testing.T) {
	iface, err := New("add", []Function{fn("add", func(_ context.Context, args []any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})},
		[]component.Input{component.NewNumber("a"), component.NewNumber("b")},
		[]component.Output{component.NewNumber("sum")})
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []any
		slot int
	}{
		{"too few values", []any{1.0}, -1},
		{"too many values", []any{1.0, 2.0, 3.0}, -1},
		{"bad first slot", []any{"abc", 2.0}, 0},
		{"bad second slot", []any{1.0, true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iface.Process(context.Background(), "", tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
			assert.True(t, errors.IsInvalid(err))

			slot, ok := errors.SlotOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.slot, slot)
		})
	}

	_, n := iface.Durations().Average(0)
	assert.Zero(t, n, "rejected requests must not record durations")
}

func TestProcess_StateThreading(t *testing.T) {
	store, err := state.NewMemoryStore(nil)
	require.NoError(t, err)
	iface := newHistory(t, store, nil)
	ctx := context.Background()

	pred, err := iface.Process(ctx, "s1", []any{"a", nil})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", nil}, pred.Outputs, "state slot is never returned")
	assert.Equal(t, "a", pred.State)

	pred, err = iface.Process(ctx, "s1", []any{"b", "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "ab", pred.Outputs[0])

	pred, err = iface.Process(ctx, "s2", []any{"x", nil})
	require.NoError(t, err)
	assert.Equal(t, "x", pred.Outputs[0], "sessions are independent")

	v, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ab", v)
	assert.Equal(t, 2, store.Len())
}

func TestProcess_StateWithoutSession(t *testing.T) {
	store, err := state.NewMemoryStore(nil)
	require.NoError(t, err)
	iface := newHistory(t, store, nil)

	pred, err := iface.Process(context.Background(), "", []any{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, "ab", pred.State)

	pred, err = iface.Process(context.Background(), "", []any{"c", nil})
	require.NoError(t, err)
	assert.Equal(t, "c", pred.State, "nil state falls back to the default")
	assert.Zero(t, store.Len())
}

func TestProcess_FailureDoesNotCommitState(t *testing.T) {
	store, err := state.NewMemoryStore(nil)
	require.NoError(t, err)
	calls := 0
	iface := newHistory(t, store, func(_ context.Context, args []any) (any, error) {
		calls++
		if args[0] == "boom" {
			return nil, fmt.Errorf("boom")
		}
		history := args[1].(string) + args[0].(string)
		return []any{history, history}, nil
	})
	ctx := context.Background()

	_, err = iface.Process(ctx, "s", []any{"a", nil})
	require.NoError(t, err)

	_, err = iface.Process(ctx, "s", []any{"boom", nil})
	require.Error(t, err)
	var pe *errors.PredictionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.FnIndex)
	assert.Empty(t, pe.Stack)

	v, _, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, calls)

	_, n := iface.Durations().Average(0)
	assert.EqualValues(t, 1, n)
}

func TestProcess_Durations(t *testing.T) {
	iface, err := New("slow", []Function{fn("slow", func(_ context.Context, args []any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return args[0], nil
	})},
		[]component.Input{component.NewTextbox("")},
		[]component.Output{component.NewTextbox("")})
	require.NoError(t, err)

	var total time.Duration
	for k := 0; k < 3; k++ {
		pred, err := iface.Process(context.Background(), "", []any{"x"})
		require.NoError(t, err)
		total += pred.Durations[0]
	}

	avg, n := iface.Durations().Average(0)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, total/3, avg)
	assert.GreaterOrEqual(t, avg, 5*time.Millisecond)
}

func TestDurationAccumulator_Concurrent(t *testing.T) {
	acc := NewDurationAccumulator(2)
	var wg sync.WaitGroup
	for k := 0; k < 100; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			acc.Record(k%2, time.Duration(k%2+1)*time.Millisecond)
		}(k)
	}
	wg.Wait()

	avg, n := acc.Average(0)
	assert.EqualValues(t, 50, n)
	assert.Equal(t, time.Millisecond, avg)
	avg, n = acc.Average(1)
	assert.EqualValues(t, 50, n)
	assert.Equal(t, 2*time.Millisecond, avg)
	assert.Equal(t, []float64{0.001, 0.002}, acc.AverageSeconds())
}

func TestProcess_MultipleFunctions(t *testing.T) {
	upper := fn("upper", func(_ context.Context, args []any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	})
	lower := fn("lower", func(_ context.Context, args []any) (any, error) {
		return strings.ToLower(args[0].(string)), nil
	})
	iface, err := New("parallel", []Function{upper, lower},
		[]component.Input{component.NewTextbox("")},
		[]component.Output{component.NewTextbox("")})
	require.NoError(t, err)

	pred, err := iface.Process(context.Background(), "", []any{"MiXed"})
	require.NoError(t, err)
	assert.Equal(t, []any{"MIXED", "mixed"}, pred.Outputs)
	assert.Len(t, pred.Durations, 2)
}

func TestProcess_MultipleOutputs(t *testing.T) {
	newSplit := func(result any) *Interface {
		iface, err := New("split", []Function{fn("split", func(context.Context, []any) (any, error) {
			return result, nil
		})},
			[]component.Input{component.NewTextbox("")},
			[]component.Output{component.NewTextbox("a"), component.NewNumber("b")})
		require.NoError(t, err)
		return iface
	}

	pred, err := newSplit([]any{"x", 2}).Process(context.Background(), "", []any{""})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 2.0}, pred.Outputs)

	pred, err = newSplit([]any{"x", nil}).Process(context.Background(), "", []any{""})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", nil}, pred.Outputs, "nil results skip postprocess")

	for _, bad := range []any{"x", []any{"only one"}, []any{"a", 1, 2}} {
		_, err := newSplit(bad).Process(context.Background(), "", []any{""})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrPredictionFailed)
	}
}

func TestProcess_Panic(t *testing.T) {
	iface, err := New("panics", []Function{
		fn("ok", echo),
		fn("bad", func(context.Context, []any) (any, error) { panic("kaboom") }),
	},
		[]component.Input{component.NewTextbox("")},
		[]component.Output{component.NewTextbox("")},
		WithDebug(true))
	require.NoError(t, err)

	_, err = iface.Process(context.Background(), "", []any{"x"})
	var pe *errors.PredictionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.FnIndex)
	assert.Contains(t, pe.Error(), "kaboom")
	assert.NotEmpty(t, pe.Stack)
}

func TestProcess_ReturnedErrorHasNoStack(t *testing.T) {
	iface, err := New("fails", []Function{
		fn("bad", func(context.Context, []any) (any, error) { return nil, fmt.Errorf("nope") }),
	},
		[]component.Input{component.NewTextbox("")},
		[]component.Output{component.NewTextbox("")},
		WithDebug(true))
	require.NoError(t, err)

	_, err = iface.Process(context.Background(), "", []any{"x"})
	var pe *errors.PredictionError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "nope")
	assert.Empty(t, pe.Stack)
}

func TestCommitState(t *testing.T) {
	store, err := state.NewMemoryStore(nil)
	require.NoError(t, err)
	iface := newHistory(t, store, nil)
	ctx := context.Background()

	require.NoError(t, iface.CommitState(ctx, "s", "seed"))
	require.NoError(t, iface.CommitState(ctx, "", "ignored"))

	pred, err := iface.Process(ctx, "s", []any{"!", nil})
	require.NoError(t, err)
	assert.Equal(t, "seed!", pred.Outputs[0])
}

func TestProcess_Cancelled(t *testing.T) {
	store, err := state.NewMemoryStore(nil)
	require.NoError(t, err)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	iface := newHistory(t, store, func(_ context.Context, args []any) (any, error) {
		close(started)
		<-release
		return []any{"late", "late"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := iface.Process(ctx, "s", []any{"a", nil})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, stderrors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}

	_, ok, err := store.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.False(t, ok)
	_, n := iface.Durations().Average(0)
	assert.Zero(t, n)
}

type wireText struct {
	*component.Textbox
}

func (wireText) Serialize(value any, calledDirectly bool) (any, error) {
	return map[string]any{"text": value, "direct": calledDirectly}, nil
}

func (wireText) Deserialize(wire any) (any, error) {
	m, ok := wire.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", wire)
	}
	return m["text"], nil
}

func TestProcess_Proxy(t *testing.T) {
	var seen []any
	remote := fn("remote", func(_ context.Context, args []any) (any, error) {
		seen = args
		wire := args[0].(map[string]any)
		return map[string]any{"text": strings.ToUpper(wire["text"].(string))}, nil
	})
	iface, err := New("proxy", []Function{remote},
		[]component.Input{wireText{component.NewTextbox("")}},
		[]component.Output{wireText{component.NewTextbox("")}},
		WithProxy(true))
	require.NoError(t, err)

	pred, err := iface.Process(context.Background(), "", []any{"hi"})
	require.NoError(t, err)
	assert.Equal(t, []any{"HI"}, pred.Outputs)
	assert.Equal(t, false, seen[0].(map[string]any)["direct"])

	out, err := iface.Call(context.Background(), "yo")
	require.NoError(t, err)
	assert.Equal(t, []any{"YO"}, out)
	assert.Equal(t, true, seen[0].(map[string]any)["direct"])
}

func TestCallAndTestLaunch(t *testing.T) {
	iface, err := New("echo", []Function{fn("echo", echo)},
		[]component.Input{component.NewTextbox("")},
		[]component.Output{component.NewTextbox("")})
	require.NoError(t, err)

	out, err := iface.Call(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []any{42}, out, "direct calls skip preprocessing")

	_, err = iface.Call(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	require.NoError(t, iface.TestLaunch(context.Background()))
	_, n := iface.Durations().Average(0)
	assert.Zero(t, n)
}

func TestProcess_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	m := reg.CoreMetrics()
	iface, err := New("metered", []Function{fn("echo", echo)},
		[]component.Input{component.NewNumber("")},
		[]component.Output{component.NewNumber("")},
		WithMetrics(m))
	require.NoError(t, err)

	_, err = iface.Process(context.Background(), "", []any{1.0})
	require.NoError(t, err)
	_, err = iface.Process(context.Background(), "", []any{"nan?"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues("metered", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues("metered", "invalid")))
}
