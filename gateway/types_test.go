package gateway_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      gateway.Config
		expectError bool
	}{
		{name: "zero value gets defaults", config: gateway.Config{}},
		{name: "negative size", config: gateway.Config{MaxRequestSize: -1}, expectError: true},
		{name: "oversized", config: gateway.Config{MaxRequestSize: 200 * 1024 * 1024}, expectError: true},
		{name: "negative timeout", config: gateway.Config{RequestTimeout: -time.Second}, expectError: true},
		{name: "cors without origins", config: gateway.Config{EnableCORS: true}, expectError: true},
		{name: "cors with origins", config: gateway.Config{EnableCORS: true, CORSOrigins: []string{"*"}}},
		{name: "negative rate", config: gateway.Config{RateLimit: -1}, expectError: true},
		{name: "negative burst", config: gateway.Config{RateBurst: -1}, expectError: true},
		{name: "rate limited", config: gateway.Config{RateLimit: 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1024*1024), tt.config.MaxRequestSize)
			assert.Equal(t, 60*time.Second, tt.config.RequestTimeout)
		})
	}
}

func TestConfig_RateBurstDefault(t *testing.T) {
	cfg := gateway.Config{RateLimit: 2.5}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.RateBurst)

	cfg = gateway.Config{RateLimit: 10, RateBurst: 1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.RateBurst)
}

func TestDefaultConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.EnableCORS)
}
