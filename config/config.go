// Package config loads the server configuration: defaults, then YAML file
// layers, then GRADIO_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sandutsar/gradio/component"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/gateway"
	"github.com/sandutsar/gradio/pkg/tlsutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRADIO"

// Storage backends
const (
	StorageMemory = "memory" // process memory, lost on restart
	StorageFile   = "file"   // CSV flag log and JSON-lines example table
	StorageNATS   = "nats"   // JetStream key-value buckets
)

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Gateway    gateway.Config    `yaml:"gateway"`
	Storage    StorageConfig     `yaml:"storage"`
	NATS       NATSConfig        `yaml:"nats"`
	Queue      QueueConfig       `yaml:"queue"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// ServerConfig controls the listeners.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	MetricsPath string `yaml:"metrics_path"`

	TLS tlsutil.ServerConfig `yaml:"tls"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Name, s.Port)
}

// StorageConfig selects where session state, flags and cached examples
// live.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	FlaggingDir string `yaml:"flagging_dir"`
	ExamplesDir string `yaml:"examples_dir"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string `yaml:"url"`
	Bucket        string `yaml:"bucket"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Token         string `yaml:"token"`
}

// QueueConfig enables the prediction queue.
type QueueConfig struct {
	Enabled  bool `yaml:"enabled"`
	Workers  int  `yaml:"workers"`
	Capacity int  `yaml:"capacity"`
}

// InterfaceConfig declares one served interface. Fn names functions the
// binary registers; Interpretation optionally names a registered
// interpreter.
type InterfaceConfig struct {
	Name            string           `yaml:"name"`
	Title           string           `yaml:"title"`
	Description     string           `yaml:"description"`
	Fn              []string         `yaml:"fn"`
	Interpretation  string           `yaml:"interpretation"`
	Inputs          []component.Spec `yaml:"inputs"`
	Outputs         []component.Spec `yaml:"outputs"`
	RepeatOutputs   *bool            `yaml:"repeat_outputs"`
	AllowFlagging   string           `yaml:"allow_flagging"`
	FlaggingOptions []string         `yaml:"flagging_options"`
	Examples        [][]any          `yaml:"examples"`
	CacheExamples   bool             `yaml:"cache_examples"`
	ShowError       bool             `yaml:"show_error"`
	Debug           bool             `yaml:"debug"`
}

// Repeat reports whether outputs are replicated per function.
func (ic InterfaceConfig) Repeat() bool {
	return ic.RepeatOutputs == nil || *ic.RepeatOutputs
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "127.0.0.1",
			Port:        7860,
			MetricsPort: 9090,
			MetricsPath: "/metrics",
		},
		Gateway: gateway.DefaultConfig(),
		Storage: StorageConfig{
			Backend:     StorageFile,
			FlaggingDir: "flagged",
			ExamplesDir: "gradio_cached_examples",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Bucket:        "gradio",
			MaxReconnects: -1,
		},
		Queue: QueueConfig{Workers: 1, Capacity: 256},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return invalid("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return invalid("server.metrics_port must differ from server.port")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}
	if err := c.Gateway.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "gateway")
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.FlaggingDir == "" {
			return invalid("storage.flagging_dir is required for the file backend")
		}
	case StorageNATS:
		if c.NATS.URL == "" || c.NATS.Bucket == "" {
			return invalid("nats.url and nats.bucket are required for the nats backend")
		}
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Queue.Enabled && (c.Queue.Workers < 1 || c.Queue.Capacity < 1) {
		return invalid("queue.workers and queue.capacity must be positive")
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for i, ic := range c.Interfaces {
		if ic.Name == "" {
			return invalid("interfaces[%d].name is required", i)
		}
		if seen[ic.Name] {
			return invalid("interface %q is declared twice", ic.Name)
		}
		seen[ic.Name] = true
		if len(ic.Fn) == 0 {
			return invalid("interface %q needs at least one fn", ic.Name)
		}
		if ic.CacheExamples && len(ic.Examples) == 0 {
			return invalid("interface %q caches examples but has none", ic.Name)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check configuration")
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "read "+path)
		}
		// Decoding into the populated struct leaves absent keys untouched.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "parse "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "validate "+key)
		}
		*dst = val
		return nil
	}
	num := func(name string, dst *int) error {
		var raw string
		if err := str(name, &raw); err != nil || raw == "" {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_"+name)
		}
		*dst = n
		return nil
	}

	var queue string
	for _, apply := range []func() error{
		func() error { return str("SERVER_NAME", &cfg.Server.Name) },
		func() error { return num("SERVER_PORT", &cfg.Server.Port) },
		func() error { return num("METRICS_PORT", &cfg.Server.MetricsPort) },
		func() error { return str("STORAGE_BACKEND", &cfg.Storage.Backend) },
		func() error { return str("FLAGGING_DIR", &cfg.Storage.FlaggingDir) },
		func() error { return str("EXAMPLES_DIR", &cfg.Storage.ExamplesDir) },
		func() error { return str("NATS_URL", &cfg.NATS.URL) },
		func() error { return str("NATS_BUCKET", &cfg.NATS.Bucket) },
		func() error { return str("NATS_USERNAME", &cfg.NATS.Username) },
		func() error { return str("NATS_PASSWORD", &cfg.NATS.Password) },
		func() error { return str("NATS_TOKEN", &cfg.NATS.Token) },
		func() error { return str("QUEUE", &queue) },
		func() error { return num("QUEUE_WORKERS", &cfg.Queue.Workers) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	if queue != "" {
		enabled, err := strconv.ParseBool(queue)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_QUEUE")
		}
		cfg.Queue.Enabled = enabled
	}
	return nil
}

// Interface returns the configuration of the named interface.
func (c *Config) Interface(name string) (InterfaceConfig, bool) {
	for _, ic := range c.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}
