// Package app binds an interface to its examples and its flagging recorder
// and implements the JSON request surface served by the gateway.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/examplecache"
	"github.com/sandutsar/gradio/flagging"
	"github.com/sandutsar/gradio/pipeline"
)

// PredictRequest is the body of a prediction call.
type PredictRequest struct {
	SessionHash string `json:"session_hash,omitempty"`
	// ExampleID selects a bundled example; Data is ignored when it is set.
	ExampleID *int  `json:"example_id,omitempty"`
	Data      []any `json:"data"`
	// State is the caller-held state of a stateful interface, used only
	// when SessionHash is empty.
	State   any  `json:"state,omitempty"`
	FnIndex *int `json:"fn_index,omitempty"`
}

// PredictResponse is the result of a prediction call.
type PredictResponse struct {
	Data      []any `json:"data"`
	FlagIndex *int  `json:"flag_index,omitempty"`
	// UpdatedState is returned to callers that hold their own state. It is
	// omitted when the state was committed under a session hash.
	UpdatedState any       `json:"updated_state,omitempty"`
	Durations    []float64 `json:"durations,omitempty"`
	AvgDurations []float64 `json:"avg_durations,omitempty"`
}

// FlagRequest is the body of a flag call.
type FlagRequest struct {
	Data FlagData `json:"data"`
}

// FlagData carries the flagged prediction.
type FlagData struct {
	InputData  []any  `json:"input_data"`
	OutputData []any  `json:"output_data"`
	FlagOption string `json:"flag_option,omitempty"`
	FlagIndex  *int   `json:"flag_index,omitempty"`
}

// InterpretRequest is the body of an interpretation call.
type InterpretRequest struct {
	Data []any `json:"data"`
}

// FlagResponse reports whether the flag was stored.
type FlagResponse struct {
	Success bool `json:"success"`
	Index   int  `json:"index"`
}

// App serves one interface.
type App struct {
	iface         *pipeline.Interface
	examples      *examplecache.Cache
	cacheExamples bool
	flagger       *flagging.Recorder
	showError     bool
	logger        *slog.Logger
}

// Option configures an App.
type Option func(*App)

// WithExamples attaches examples. When cached is set example predictions
// are computed once and served from the cache afterwards.
func WithExamples(c *examplecache.Cache, cached bool) Option {
	return func(a *App) {
		a.examples = c
		a.cacheExamples = cached
	}
}

// WithFlagging attaches a flagging recorder. Without one every flag
// request is rejected.
func WithFlagging(r *flagging.Recorder) Option {
	return func(a *App) { a.flagger = r }
}

// WithShowError exposes prediction error messages to callers.
func WithShowError(show bool) Option {
	return func(a *App) { a.showError = show }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an App for iface.
func New(iface *pipeline.Interface, opts ...Option) (*App, error) {
	if iface == nil {
		return nil, errors.NewConfiguration("app needs an interface")
	}
	a := &App{iface: iface, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("interface", iface.Name())
	return a, nil
}

// Name returns the interface name.
func (a *App) Name() string { return a.iface.Name() }

// Interface returns the served interface.
func (a *App) Interface() *pipeline.Interface { return a.iface }

// ShowError reports whether error messages are returned to callers.
func (a *App) ShowError() bool { return a.showError }

// ProcessAPI runs one prediction request. In auto flagging mode a
// successful prediction on request data is flagged before returning; a
// failed flag is logged and leaves FlagIndex unset.
func (a *App) ProcessAPI(ctx context.Context, req PredictRequest, requester string) (*PredictResponse, error) {
	if req.FnIndex != nil && (*req.FnIndex < 0 || *req.FnIndex >= a.iface.FunctionCount()) {
		return nil, errors.WrapInvalid(errors.ErrUnknownFunction, "App", "ProcessAPI", "check fn_index")
	}

	var (
		pred *pipeline.Prediction
		err  error
	)
	if req.ExampleID != nil {
		pred, err = a.example(ctx, *req.ExampleID)
		if err != nil {
			return nil, err
		}
		if err := a.iface.CommitState(ctx, req.SessionHash, pred.State); err != nil {
			return nil, err
		}
		return a.respond(pred, req.SessionHash == "", nil), nil
	}

	raw := append([]any(nil), req.Data...)
	stateIn, _ := a.iface.StateIndices()
	if stateIn >= 0 && req.SessionHash == "" && stateIn < len(raw) {
		raw[stateIn] = req.State
	}
	pred, err = a.iface.Process(ctx, req.SessionHash, raw)
	if err != nil {
		return nil, err
	}

	var flagIndex *int
	if a.flagger != nil && a.flagger.Mode() == flagging.ModeAuto {
		idx, err := a.flagger.Flag(ctx, flagging.Request{
			Inputs:    raw,
			Outputs:   pred.Outputs,
			Requester: requester,
		})
		if err != nil {
			a.logger.Warn("Auto flag failed", "error", err)
		} else {
			flagIndex = &idx
		}
	}
	return a.respond(pred, req.SessionHash == "", flagIndex), nil
}

func (a *App) example(ctx context.Context, id int) (*pipeline.Prediction, error) {
	if a.examples == nil {
		return nil, errors.NewInvalidInput(-1, "interface has no examples", errors.ErrUnknownExample)
	}
	if a.cacheExamples {
		return a.examples.GetOrCompute(ctx, id)
	}
	return a.examples.Compute(ctx, id)
}

func (a *App) respond(pred *pipeline.Prediction, returnState bool, flagIndex *int) *PredictResponse {
	resp := &PredictResponse{
		Data:         pred.Outputs,
		FlagIndex:    flagIndex,
		AvgDurations: a.iface.Durations().AverageSeconds(),
	}
	if a.iface.Stateful() && returnState {
		resp.UpdatedState = pred.State
	}
	if pred.Durations != nil {
		resp.Durations = seconds(pred.Durations)
	}
	return resp
}

func seconds(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.Seconds()
	}
	return out
}

// Interpret explains a prediction on req.Data.
func (a *App) Interpret(ctx context.Context, req InterpretRequest) (*pipeline.Interpretation, error) {
	return a.iface.Interpret(ctx, req.Data)
}

// Flag records a user flag.
func (a *App) Flag(ctx context.Context, req FlagRequest, requester string) (*FlagResponse, error) {
	if a.flagger == nil {
		return nil, errors.WrapInvalid(errors.ErrFlaggingDisabled, "App", "Flag", "check recorder")
	}
	idx, err := a.flagger.Flag(ctx, flagging.Request{
		Inputs:    req.Data.InputData,
		Outputs:   req.Data.OutputData,
		Label:     req.Data.FlagOption,
		Index:     req.Data.FlagIndex,
		Requester: requester,
	})
	if err != nil {
		return nil, err
	}
	return &FlagResponse{Success: true, Index: idx}, nil
}

// Launch checks every function on sample inputs and, when example caching
// is on, computes every example.
func (a *App) Launch(ctx context.Context) error {
	if err := a.iface.TestLaunch(ctx); err != nil {
		return errors.Wrap(err, "App", "Launch", "test launch "+a.iface.Name())
	}
	if a.examples != nil && a.cacheExamples {
		if err := a.examples.Precompute(ctx); err != nil {
			return errors.Wrap(err, "App", "Launch", "cache examples")
		}
	}
	a.logger.Info("Interface ready", "functions", a.iface.FunctionCount(), "stateful", a.iface.Stateful())
	return nil
}

// Close releases the example table and the flag log.
func (a *App) Close() error {
	var first error
	if a.examples != nil {
		first = a.examples.Close()
	}
	if a.flagger != nil {
		if err := a.flagger.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
