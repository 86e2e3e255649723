package natsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithName("test"), WithCircuitBreaker(2, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())

	_, err = NewClient("nats://x", WithTimeout(0))
	assert.Error(t, err)
	_, err = NewClient("nats://x", WithLogger(nil))
	assert.Error(t, err)
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithCircuitBreaker(2, time.Hour),
		WithTimeout(100*time.Millisecond),
		WithMaxReconnects(0))
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, c.Connect(ctx))
	err = c.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StatusCircuitOpen, c.Status())

	assert.ErrorIs(t, c.Connect(ctx), ErrCircuitOpen)
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVConflictError(errors.New("wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(errors.New("other")))
}
