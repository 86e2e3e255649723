package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
)

func waitFor(t *testing.T, q *Queue, hash string, want Status) JobStatus {
	t.Helper()
	var last JobStatus
	require.Eventually(t, func() bool {
		s, err := q.Status(hash)
		if err != nil {
			return false
		}
		last = s
		return s.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestQueue_PushAndComplete(t *testing.T) {
	q, err := New("test", func(_ context.Context, action string, data json.RawMessage) (any, error) {
		if action == "fail" {
			return nil, fmt.Errorf("bad payload %s", data)
		}
		return string(data), nil
	})
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(time.Second)

	hash, _, err := q.Push("predict", json.RawMessage(`"hi"`))
	require.NoError(t, err)
	_, err = uuid.Parse(hash)
	assert.NoError(t, err)

	s := waitFor(t, q, hash, StatusComplete)
	assert.Equal(t, `"hi"`, s.Data)

	hash, _, err = q.Push("fail", json.RawMessage(`1`))
	require.NoError(t, err)
	s = waitFor(t, q, hash, StatusFailed)
	assert.Contains(t, s.Error, "bad payload 1")

	_, err = q.Status("nope")
	assert.ErrorIs(t, err, errors.ErrJobUnknown)
	assert.True(t, errors.IsInvalid(err))
}

func TestQueue_Positions(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	q, err := New("fifo", func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(time.Second)

	first, pos, err := q.Push("predict", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	<-started
	waitFor(t, q, first, StatusPending)

	var hashes []string
	for want := 0; want < 3; want++ {
		h, pos, err := q.Push("predict", nil)
		require.NoError(t, err)
		assert.Equal(t, want, pos)
		hashes = append(hashes, h)
	}
	assert.Equal(t, 3, q.Depth())

	s, err := q.Status(hashes[2])
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, s.Status)
	assert.Equal(t, 2, s.Position)

	release <- struct{}{}
	<-started
	waitFor(t, q, hashes[0], StatusPending)
	s, err = q.Status(hashes[2])
	require.NoError(t, err)
	assert.Equal(t, 1, s.Position)

	close(release)
	for _, h := range hashes {
		waitFor(t, q, h, StatusComplete)
	}
}

func TestQueue_Watch(t *testing.T) {
	release := make(chan struct{})
	q, err := New("watch", func(context.Context, string, json.RawMessage) (any, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(time.Second)

	hash, _, err := q.Push("predict", nil)
	require.NoError(t, err)
	updates, cancel, err := q.Watch(hash)
	require.NoError(t, err)
	defer cancel()

	close(release)
	var last JobStatus
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case s, ok := <-updates:
			if !ok {
				done = true
				continue
			}
			last = s
		case <-timeout:
			t.Fatal("watch channel was not closed")
		}
	}
	assert.Equal(t, StatusComplete, last.Status)
	assert.Equal(t, "done", last.Data)

	updates, cancel, err = q.Watch(hash)
	require.NoError(t, err)
	s, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, StatusComplete, s.Status)
	_, ok = <-updates
	assert.False(t, ok)
	cancel()
}

func TestQueue_Full(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	q, err := New("full", func(context.Context, string, json.RawMessage) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, nil
	}, WithWorkers(1), WithCapacity(1), WithRegistry(metric.NewMetricsRegistry()))
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	defer func() {
		close(release)
		_ = q.Stop(time.Second)
	}()

	_, _, err = q.Push("predict", nil)
	require.NoError(t, err)
	<-started
	_, _, err = q.Push("predict", nil)
	require.NoError(t, err)

	_, _, err = q.Push("predict", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, q.Depth())
}

func TestQueue_Retention(t *testing.T) {
	q, err := New("retain", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, nil
	}, WithRetention(1))
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(time.Second)

	first, _, err := q.Push("predict", nil)
	require.NoError(t, err)
	waitFor(t, q, first, StatusComplete)

	second, _, err := q.Push("predict", nil)
	require.NoError(t, err)
	waitFor(t, q, second, StatusComplete)

	_, err = q.Status(first)
	assert.ErrorIs(t, err, errors.ErrJobUnknown)
}

func TestNew_NilHandler(t *testing.T) {
	_, err := New("x", nil)
	assert.True(t, errors.IsFatal(err))
}
