package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/examplecache"
	"github.com/sandutsar/gradio/flagging"
	"github.com/sandutsar/gradio/pipeline"
	"github.com/sandutsar/gradio/storage"
)

func intPtr(i int) *int { return &i }

func upper(t *testing.T) *pipeline.Interface {
	t.Helper()
	iface, err := pipeline.New("upper", []pipeline.Function{{Name: "upper", Fn: func(_ context.Context, args []any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	}}},
		[]component.Input{component.NewTextbox("text")},
		[]component.Output{component.NewTextbox("upper")})
	require.NoError(t, err)
	return iface
}

func history(t *testing.T) *pipeline.Interface {
	t.Helper()
	iface, err := pipeline.New("history", []pipeline.Function{{Name: "append", Fn: func(_ context.Context, args []any) (any, error) {
		h := args[1].(string) + args[0].(string)
		return []any{h, h}, nil
	}}},
		[]component.Input{component.NewTextbox("message"), component.NewState("")},
		[]component.Output{component.NewTextbox("history"), component.NewState(nil)})
	require.NoError(t, err)
	return iface
}

func TestProcessAPI_Data(t *testing.T) {
	a, err := New(upper(t))
	require.NoError(t, err)

	resp, err := a.ProcessAPI(context.Background(), PredictRequest{Data: []any{"hi"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"HI"}, resp.Data)
	assert.Nil(t, resp.FlagIndex)
	assert.Len(t, resp.Durations, 1)
	assert.Len(t, resp.AvgDurations, 1)
	assert.Nil(t, resp.UpdatedState)

	_, err = a.ProcessAPI(context.Background(), PredictRequest{Data: []any{}}, "")
	slot, ok := errors.SlotOf(err)
	require.True(t, ok)
	assert.Equal(t, -1, slot)

	_, err = a.ProcessAPI(context.Background(), PredictRequest{Data: []any{"x"}, FnIndex: intPtr(3)}, "")
	assert.ErrorIs(t, err, errors.ErrUnknownFunction)
}

func TestProcessAPI_SessionState(t *testing.T) {
	a, err := New(history(t))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.ProcessAPI(ctx, PredictRequest{SessionHash: "abc", Data: []any{"a", nil}}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", nil}, resp.Data)
	assert.Nil(t, resp.UpdatedState)

	resp, err = a.ProcessAPI(ctx, PredictRequest{SessionHash: "abc", Data: []any{"b", nil}}, "")
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Data[0])
}

func TestProcessAPI_CallerState(t *testing.T) {
	a, err := New(history(t))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.ProcessAPI(ctx, PredictRequest{Data: []any{"a", "ignored"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.UpdatedState)

	resp, err = a.ProcessAPI(ctx, PredictRequest{Data: []any{"b", nil}, State: resp.UpdatedState}, "")
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.UpdatedState)
	assert.Equal(t, []any{"ab", nil}, resp.Data)
}

func TestProcessAPI_AutoFlag(t *testing.T) {
	iface := upper(t)
	rec, err := flagging.NewRecorder(iface.Name(), storage.NewMemoryLog(), flagging.WithMode(flagging.ModeAuto))
	require.NoError(t, err)
	a, err := New(iface, WithFlagging(rec))
	require.NoError(t, err)
	ctx := context.Background()

	for want := 0; want < 2; want++ {
		resp, err := a.ProcessAPI(ctx, PredictRequest{Data: []any{"x"}}, "bob")
		require.NoError(t, err)
		require.NotNil(t, resp.FlagIndex)
		assert.Equal(t, want, *resp.FlagIndex)
	}

	flagged, err := rec.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, flagged.Inputs)
	assert.Equal(t, []any{"X"}, flagged.Outputs)
	assert.Equal(t, "bob", flagged.Requester)

	_, err = a.ProcessAPI(ctx, PredictRequest{Data: []any{42}}, "")
	require.Error(t, err)
	n, err := rec.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed predictions are not flagged")
}

type brokenLog struct{ *storage.MemoryLog }

func (brokenLog) Append(context.Context, storage.Record) (int, error) {
	return 0, errors.ErrConfiguration
}

func TestProcessAPI_AutoFlagFailureIsSilent(t *testing.T) {
	iface := upper(t)
	rec, err := flagging.NewRecorder(iface.Name(), brokenLog{storage.NewMemoryLog()}, flagging.WithMode(flagging.ModeAuto))
	require.NoError(t, err)
	a, err := New(iface, WithFlagging(rec))
	require.NoError(t, err)

	resp, err := a.ProcessAPI(context.Background(), PredictRequest{Data: []any{"x"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"X"}, resp.Data)
	assert.Nil(t, resp.FlagIndex)
}

func TestProcessAPI_Examples(t *testing.T) {
	iface := upper(t)
	examples, err := examplecache.New(iface, [][]any{{"one"}, {"two"}}, nil)
	require.NoError(t, err)
	a, err := New(iface, WithExamples(examples, true))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.ProcessAPI(ctx, PredictRequest{ExampleID: intPtr(1), Data: []any{"ignored"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"TWO"}, resp.Data)
	assert.NotNil(t, resp.Durations)

	resp, err = a.ProcessAPI(ctx, PredictRequest{ExampleID: intPtr(1)}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"TWO"}, resp.Data)
	assert.Nil(t, resp.Durations)

	_, err = a.ProcessAPI(ctx, PredictRequest{ExampleID: intPtr(7)}, "")
	assert.ErrorIs(t, err, errors.ErrUnknownExample)

	bare, err := New(iface)
	require.NoError(t, err)
	_, err = bare.ProcessAPI(ctx, PredictRequest{ExampleID: intPtr(0)}, "")
	assert.True(t, errors.IsInvalid(err))
}

func TestProcessAPI_ExampleCommitsSessionState(t *testing.T) {
	iface := history(t)
	examples, err := examplecache.New(iface, [][]any{{"x", nil}}, nil)
	require.NoError(t, err)
	a, err := New(iface, WithExamples(examples, true))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.ProcessAPI(ctx, PredictRequest{SessionHash: "s", ExampleID: intPtr(0)}, "")
	require.NoError(t, err)
	assert.Equal(t, []any{"x", nil}, resp.Data)
	assert.Nil(t, resp.UpdatedState)

	resp, err = a.ProcessAPI(ctx, PredictRequest{SessionHash: "s", Data: []any{"y", nil}}, "")
	require.NoError(t, err)
	assert.Equal(t, "xy", resp.Data[0])

	resp, err = a.ProcessAPI(ctx, PredictRequest{ExampleID: intPtr(0)}, "")
	require.NoError(t, err)
	assert.Equal(t, "x", resp.UpdatedState)
}

func TestProcessAPI_UncachedExamples(t *testing.T) {
	iface := upper(t)
	examples, err := examplecache.New(iface, [][]any{{"one"}}, nil)
	require.NoError(t, err)
	a, err := New(iface, WithExamples(examples, false))
	require.NoError(t, err)

	for k := 0; k < 2; k++ {
		resp, err := a.ProcessAPI(context.Background(), PredictRequest{ExampleID: intPtr(0)}, "")
		require.NoError(t, err)
		assert.NotNil(t, resp.Durations)
	}
}

func TestFlag(t *testing.T) {
	iface := upper(t)
	rec, err := flagging.NewRecorder(iface.Name(), storage.NewMemoryLog(), flagging.WithFlagOptions("bad"))
	require.NoError(t, err)
	a, err := New(iface, WithFlagging(rec))
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := a.Flag(ctx, FlagRequest{Data: FlagData{InputData: []any{"x"}, OutputData: []any{"X"}, FlagOption: "bad"}}, "carol")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Index)

	resp, err = a.Flag(ctx, FlagRequest{Data: FlagData{FlagOption: "bad", FlagIndex: intPtr(0)}}, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Index)

	_, err = a.Flag(ctx, FlagRequest{Data: FlagData{FlagOption: "good"}}, "")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	bare, err := New(iface)
	require.NoError(t, err)
	_, err = bare.Flag(ctx, FlagRequest{}, "")
	assert.ErrorIs(t, err, errors.ErrFlaggingDisabled)
}

func TestInterpret(t *testing.T) {
	iface, err := pipeline.New("upper", []pipeline.Function{{Name: "upper", Fn: func(_ context.Context, args []any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	}}},
		[]component.Input{component.NewTextbox("text")},
		[]component.Output{component.NewTextbox("upper")},
		pipeline.WithInterpretation(func(_ context.Context, args []any) ([]any, error) {
			return []any{float64(len(args[0].(string)))}, nil
		}))
	require.NoError(t, err)
	a, err := New(iface)
	require.NoError(t, err)

	res, err := a.Interpret(context.Background(), InterpretRequest{Data: []any{"abc"}})
	require.NoError(t, err)
	assert.Equal(t, []any{3.0}, res.Scores)
	assert.True(t, a.Config().Interpretable)

	plain, err := New(upper(t))
	require.NoError(t, err)
	_, err = plain.Interpret(context.Background(), InterpretRequest{Data: []any{"abc"}})
	assert.ErrorIs(t, err, errors.ErrInterpretationDisabled)
}

func TestConfig(t *testing.T) {
	iface := upper(t)
	rec, err := flagging.NewRecorder(iface.Name(), storage.NewMemoryLog(), flagging.WithFlagOptions("a", "b"))
	require.NoError(t, err)
	examples, err := examplecache.New(iface, [][]any{{"one"}}, nil)
	require.NoError(t, err)
	a, err := New(iface, WithFlagging(rec), WithExamples(examples, true), WithShowError(true))
	require.NoError(t, err)

	require.NoError(t, a.Launch(context.Background()))

	cfg := a.Config()
	assert.Equal(t, flagging.ModeManual, cfg.AllowFlagging)
	assert.Equal(t, []string{"a", "b"}, cfg.FlaggingOptions)
	assert.Equal(t, [][]any{{"one"}}, cfg.Examples)
	assert.True(t, cfg.CacheExamples)
	assert.Equal(t, []string{"text"}, cfg.InputLabels)

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "upper", decoded["name"])
	assert.Equal(t, "manual", decoded["allow_flagging"])
	assert.Contains(t, decoded, "avg_durations")

	require.NoError(t, a.Close())
}

func TestNew_NilInterface(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.IsFatal(err))
}
