//go:build integration

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/natsclient"
)

func TestKVStore_Integration(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	s := NewKVStore(tc.KV(t, "session_state"), "chat")
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "session-1", []any{"hi", "there"}))

	v, ok, err := s.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"hi", "there"}, v)
}
