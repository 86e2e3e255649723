package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandutsar/gradio/config"
	"github.com/sandutsar/gradio/health"
	"github.com/sandutsar/gradio/metric"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"--log-level=warn", "--log-format=text", "--shutdown-timeout=5s"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, validateFlags(cfg))

	cfg, err = parseFlags([]string{"--debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = parseFlags([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	base := CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{"missing config", func(c *CLIConfig) { c.ConfigPath = filepath.Join(t.TempDir(), "none.yaml") }},
		{"log level", func(c *CLIConfig) { c.LogLevel = "trace" }},
		{"log format", func(c *CLIConfig) { c.LogFormat = "xml" }},
		{"timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, validateFlags(&cfg))
		})
	}

	version := CLIConfig{ShowVersion: true}
	assert.NoError(t, validateFlags(&version))
}

func restoreDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.Contains(t, out.String(), "gradio version "+Version)
}

func TestRun_Validate(t *testing.T) {
	restoreDefaultLogger(t)
	path := filepath.Join(t.TempDir(), "gradio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: memory\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"--config", path, "--validate", "--log-format=text"}, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, len(defaultInterfaces()))
	for _, ic := range cfg.Interfaces {
		for _, fn := range ic.Fn {
			assert.Contains(t, functions, fn)
		}
	}
}

func TestFunctions(t *testing.T) {
	ctx := context.Background()

	v, err := upper(ctx, []any{"abc"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", v)

	v, err = reverse(ctx, []any{"héllo"})
	require.NoError(t, err)
	assert.Equal(t, "olléh", v)

	v, err = wordCount(ctx, []any{"one two  three"})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = sentiment(ctx, []any{"Great food, bad service, great view!"})
	require.NoError(t, err)
	scores := v.(map[string]float64)
	assert.InDelta(t, 2.0/3, scores["positive"], 1e-9)

	v, err = sentiment(ctx, []any{"the sky"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"neutral": 1}, v)

	scored, err := wordSentiment(ctx, []any{"Good, not bad"})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{[]any{"good", 1.0}, []any{"not", 0.0}, []any{"bad", -1.0}}}, scored)

	v, err = echo(ctx, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	_, err = upper(ctx, []any{42})
	assert.Error(t, err)
}

func TestChat_History(t *testing.T) {
	out, err := chat(context.Background(), []any{"hi", nil})
	require.NoError(t, err)
	pair := out.([]any)
	assert.Equal(t, "message 1: hi", pair[0])

	prev := pair[1].([]any)
	out, err = chat(context.Background(), []any{"again", prev})
	require.NoError(t, err)
	pair = out.([]any)
	assert.Equal(t, "message 2: again", pair[0])
	assert.Equal(t, []any{"hi", "again"}, pair[1])
	assert.Len(t, prev, 1, "previous history is not mutated")

	_, err = chat(context.Background(), []any{"only"})
	assert.Error(t, err)
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestDefaultInterfaces_Serve(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageFile
	cfg.Storage.FlaggingDir = filepath.Join(t.TempDir(), "flagged")
	cfg.Storage.ExamplesDir = filepath.Join(t.TempDir(), "examples")
	cfg.Interfaces = defaultInterfaces()
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName)
	b, err := openBackend(ctx, cfg, registry, monitor, nil)
	require.NoError(t, err)

	manager, err := newManager(cfg, b, registry, monitor, nil)
	require.NoError(t, err)
	require.NoError(t, manager.StartAll(ctx))
	defer func() { assert.NoError(t, manager.StopAll(time.Second)) }()

	assert.FileExists(t, filepath.Join(cfg.Storage.ExamplesDir, "text", "log.jsonl"))

	srv := httptest.NewServer(manager.Handler())
	defer srv.Close()

	code, out := postJSON(t, srv.URL+"/text/api/predict/", map[string]any{"data": []any{"abc"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"ABC", "cba"}, out["data"])

	code, out = postJSON(t, srv.URL+"/text/api/predict/", map[string]any{"example_id": 1, "data": []any{}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"GRADIO", "oidarg"}, out["data"])

	code, out = postJSON(t, srv.URL+"/text/api/flag/", map[string]any{"data": map[string]any{
		"input_data": []any{"abc"}, "output_data": []any{"ABC", "cba"}, "flag_option": "incorrect",
	}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 0.0, out["index"])
	assert.FileExists(t, filepath.Join(cfg.Storage.FlaggingDir, "text", "log.csv"))

	for i, want := range []string{"message 1: hi", "message 2: there"} {
		msg := []string{"hi", "there"}[i]
		code, out = postJSON(t, srv.URL+"/chat/api/predict/", map[string]any{
			"session_hash": "s1", "data": []any{msg, nil},
		})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, want, out["data"].([]any)[0])
	}

	code, out = postJSON(t, srv.URL+"/chat/api/flag/", map[string]any{"data": map[string]any{
		"input_data": []any{"hi", nil}, "output_data": []any{"x", nil},
	}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = postJSON(t, srv.URL+"/sentiment/api/interpret/", map[string]any{"data": []any{"great"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{[]any{[]any{"great", 1.0}}}, out["interpretation_scores"])

	code, _ = postJSON(t, srv.URL+"/text/api/interpret/", map[string]any{"data": []any{"abc"}})
	assert.Equal(t, http.StatusBadRequest, code)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
