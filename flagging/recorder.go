// Package flagging records predictions that users (or the server, in auto
// mode) mark for review. Records go to an append-only storage.Log; the
// index the log assigns is returned to the caller and never reused.
package flagging

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pkg/retry"
	"github.com/sandutsar/gradio/storage"
)

// Mode controls when predictions are flagged.
type Mode string

const (
	// ModeNever rejects every flag request.
	ModeNever Mode = "never"
	// ModeManual records flags submitted by users.
	ModeManual Mode = "manual"
	// ModeAuto additionally flags every successful prediction.
	ModeAuto Mode = "auto"
)

// EnvAllowFlagging overrides the configured mode when set.
const EnvAllowFlagging = "GRADIO_ALLOW_FLAGGING"

// ParseMode parses a mode name. The empty string means manual.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeManual:
		return ModeManual, nil
	case ModeNever:
		return ModeNever, nil
	case ModeAuto:
		return ModeAuto, nil
	default:
		return "", errors.WrapFatal(fmt.Errorf("%w: flagging mode %q", errors.ErrInvalidConfig, s),
			"flagging", "ParseMode", "parse mode")
	}
}

// ResolveMode returns the mode from GRADIO_ALLOW_FLAGGING if it is set, and
// configured otherwise.
func ResolveMode(configured string) (Mode, error) {
	if env, ok := os.LookupEnv(EnvAllowFlagging); ok {
		return ParseMode(env)
	}
	return ParseMode(configured)
}

// Request is one flag submission.
type Request struct {
	Inputs  []any
	Outputs []any
	// Label is the chosen flag option. It must be one of the configured
	// options when there are any.
	Label string
	// Index, when set, relabels the record at that index instead of
	// recording a new prediction.
	Index     *int
	Requester string
}

// Recorder assigns indices and persists flag records.
type Recorder struct {
	iface   string
	log     storage.Log
	mode    Mode
	options []string
	retry   retry.Config
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time

	// mu serializes index assignment.
	mu sync.Mutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMode sets the flagging mode. The default is manual.
func WithMode(mode Mode) Option {
	return func(r *Recorder) { r.mode = mode }
}

// WithFlagOptions restricts labels to options.
func WithFlagOptions(options ...string) Option {
	return func(r *Recorder) { r.options = append([]string(nil), options...) }
}

// WithRetry sets the backoff used for transient storage failures.
func WithRetry(cfg retry.Config) Option {
	return func(r *Recorder) { r.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts flag outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates a recorder for the interface named iface.
func NewRecorder(iface string, log storage.Log, opts ...Option) (*Recorder, error) {
	if log == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Recorder", "NewRecorder", "validate log")
	}
	r := &Recorder{
		iface:  iface,
		log:    log,
		mode:   ModeManual,
		retry:  retry.DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := ParseMode(string(r.mode)); err != nil {
		return nil, err
	}
	r.retry.Retryable = errors.IsTransient
	r.logger = r.logger.With("interface", iface, "component", "flagging")
	return r, nil
}

// Mode returns the flagging mode.
func (r *Recorder) Mode() Mode { return r.mode }

// Options returns the allowed labels, nil when any label is accepted.
func (r *Recorder) Options() []string { return r.options }

// Flag persists req and returns the record's index. A relabel returns the
// index of the record it amends.
func (r *Recorder) Flag(ctx context.Context, req Request) (int, error) {
	if r.mode == ModeNever {
		return 0, errors.WrapInvalid(errors.ErrFlaggingDisabled, "Recorder", "Flag", "check mode")
	}
	if len(r.options) > 0 && req.Label != "" && !slices.Contains(r.options, req.Label) {
		return 0, errors.NewInvalidInput(-1, fmt.Sprintf("flag option %q is not one of %v", req.Label, r.options), nil)
	}

	rec := storage.Record{
		Inputs:    req.Inputs,
		Outputs:   req.Outputs,
		Label:     req.Label,
		Requester: req.Requester,
		Timestamp: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Index != nil {
		target := *req.Index
		if err := r.checkTarget(ctx, target); err != nil {
			return 0, err
		}
		rec.Inputs, rec.Outputs = nil, nil
		rec.Amends = &target
		if _, err := r.append(ctx, rec); err != nil {
			return 0, err
		}
		r.logger.Debug("Flag relabelled", "index", target, "label", req.Label)
		return target, nil
	}

	index, err := r.append(ctx, rec)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Prediction flagged", "index", index, "label", req.Label)
	return index, nil
}

func (r *Recorder) checkTarget(ctx context.Context, target int) error {
	rec, err := r.log.Get(ctx, target)
	if stderrors.Is(err, errors.ErrRecordNotFound) {
		return errors.NewInvalidInput(-1, fmt.Sprintf("no flag at index %d", target), err)
	}
	if err != nil {
		return r.fail(err)
	}
	if rec.Amends != nil {
		return errors.NewInvalidInput(-1, fmt.Sprintf("index %d is an amendment", target), nil)
	}
	return nil
}

func (r *Recorder) append(ctx context.Context, rec storage.Record) (int, error) {
	index, err := retry.DoWithResult(ctx, r.retry, func() (int, error) {
		return r.log.Append(ctx, rec)
	})
	if err != nil {
		return 0, r.fail(err)
	}
	if r.metrics != nil {
		r.metrics.RecordFlag(r.iface, true)
	}
	return index, nil
}

func (r *Recorder) fail(err error) error {
	if r.metrics != nil {
		r.metrics.RecordFlag(r.iface, false)
	}
	r.logger.Error("Flag write failed", "error", err)
	return &errors.FlagWriteError{Err: err}
}

// Record returns the record at index with its latest relabel applied.
func (r *Recorder) Record(ctx context.Context, index int) (storage.Record, error) {
	return storage.Resolve(ctx, r.log, index)
}

// Len returns the number of entries in the log, amendments included.
func (r *Recorder) Len(ctx context.Context) (int, error) {
	return r.log.Len(ctx)
}

// Close closes the underlying log.
func (r *Recorder) Close() error {
	return r.log.Close()
}
