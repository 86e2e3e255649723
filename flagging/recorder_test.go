package flagging

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pkg/retry"
	"github.com/sandutsar/gradio/storage"
)

func intPtr(i int) *int { return &i }

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeManual, false},
		{"manual", ModeManual, false},
		{" AUTO ", ModeAuto, false},
		{"never", ModeNever, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveMode_Env(t *testing.T) {
	t.Setenv(EnvAllowFlagging, "never")
	mode, err := ResolveMode("auto")
	require.NoError(t, err)
	assert.Equal(t, ModeNever, mode)
}

func TestFlag_IndicesStartAtZero(t *testing.T) {
	r, err := NewRecorder("demo", storage.NewMemoryLog())
	require.NoError(t, err)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		got, err := r.Flag(ctx, Request{Inputs: []any{"in"}, Outputs: []any{"out"}, Requester: "alice"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	rec, err := r.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"in"}, rec.Inputs)
	assert.Equal(t, "alice", rec.Requester)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestFlag_Concurrent(t *testing.T) {
	r, err := NewRecorder("demo", storage.NewMemoryLog())
	require.NoError(t, err)

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indices []int
	)
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			idx, err := r.Flag(context.Background(), Request{Inputs: []any{k}})
			assert.NoError(t, err)
			mu.Lock()
			indices = append(indices, idx)
			mu.Unlock()
		}(k)
	}
	wg.Wait()

	sort.Ints(indices)
	for k := 0; k < n; k++ {
		assert.Equal(t, k, indices[k])
	}
}

func TestFlag_Options(t *testing.T) {
	r, err := NewRecorder("demo", storage.NewMemoryLog(), WithFlagOptions("wrong", "offensive"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Flag(ctx, Request{Label: "wrong"})
	require.NoError(t, err)
	_, err = r.Flag(ctx, Request{})
	require.NoError(t, err, "an empty label is always accepted")

	_, err = r.Flag(ctx, Request{Label: "funny"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestFlag_Relabel(t *testing.T) {
	r, err := NewRecorder("demo", storage.NewMemoryLog())
	require.NoError(t, err)
	ctx := context.Background()

	idx, err := r.Flag(ctx, Request{Inputs: []any{"x"}, Label: "first"})
	require.NoError(t, err)
	_, err = r.Flag(ctx, Request{Inputs: []any{"y"}})
	require.NoError(t, err)

	got, err := r.Flag(ctx, Request{Index: intPtr(idx), Label: "second"})
	require.NoError(t, err)
	assert.Equal(t, idx, got)

	rec, err := r.Record(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Label)
	assert.Equal(t, []any{"x"}, rec.Inputs)

	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "relabels append instead of rewriting")

	next, err := r.Flag(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	_, err = r.Flag(ctx, Request{Index: intPtr(99), Label: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = r.Flag(ctx, Request{Index: intPtr(2), Label: "x"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput, "amendments cannot be amended")
}

func TestFlag_Never(t *testing.T) {
	r, err := NewRecorder("demo", storage.NewMemoryLog(), WithMode(ModeNever))
	require.NoError(t, err)
	_, err = r.Flag(context.Background(), Request{})
	assert.ErrorIs(t, err, errors.ErrFlaggingDisabled)
	assert.True(t, errors.IsInvalid(err))
}

type flakyLog struct {
	*storage.MemoryLog
	mu       sync.Mutex
	failures int
	err      error
}

func (f *flakyLog) Append(ctx context.Context, rec storage.Record) (int, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return 0, f.err
	}
	f.mu.Unlock()
	return f.MemoryLog.Append(ctx, rec)
}

func TestFlag_StorageFailures(t *testing.T) {
	fast := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	reg := metric.NewMetricsRegistry()
	m := reg.CoreMetrics()

	t.Run("transient failure is retried", func(t *testing.T) {
		log := &flakyLog{MemoryLog: storage.NewMemoryLog(), failures: 2, err: errors.ErrStorageUnavailable}
		r, err := NewRecorder("retry", log, WithRetry(fast), WithMetrics(m))
		require.NoError(t, err)

		idx, err := r.Flag(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("retry", "ok")))
	})

	t.Run("persistent failure surfaces", func(t *testing.T) {
		log := &flakyLog{MemoryLog: storage.NewMemoryLog(), failures: 10, err: errors.ErrStorageUnavailable}
		r, err := NewRecorder("broken", log, WithRetry(fast), WithMetrics(m))
		require.NoError(t, err)

		_, err = r.Flag(context.Background(), Request{})
		require.Error(t, err)
		var fwe *errors.FlagWriteError
		assert.ErrorAs(t, err, &fwe)
		assert.ErrorIs(t, err, errors.ErrFlagWriteFailed)
		assert.Equal(t, 7, log.failures)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("broken", "failed")))
	})
}

func TestNewRecorder_Validation(t *testing.T) {
	_, err := NewRecorder("x", nil)
	assert.True(t, errors.IsFatal(err))

	_, err = NewRecorder("x", storage.NewMemoryLog(), WithMode("maybe"))
	assert.True(t, errors.IsFatal(err))
}
