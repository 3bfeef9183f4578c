package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "MSGFLOW_"

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// envOverrides lists the queue settings that may come from the environment.
// Zero values mean "not set".
type envOverrides struct {
	Capacity         int           `env:"CAPACITY"`
	Workers          int           `env:"WORKERS"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS"`
	DependencyPolicy string        `env:"DEPENDENCY_POLICY"`
	InitialBackoff   time.Duration `env:"RETRY_INITIAL_BACKOFF"`
	MaxBackoff       time.Duration `env:"RETRY_MAX_BACKOFF"`
}

// ApplyEnv overlays MSGFLOW_* variables from the process environment onto c.
func ApplyEnv(c Config) (Config, error) {
	return applyEnv(c, env.Options{Prefix: EnvPrefix})
}

// ApplyEnvFrom is ApplyEnv reading from the given map instead of the process
// environment. Keys still carry the MSGFLOW_ prefix.
func ApplyEnvFrom(c Config, environ map[string]string) (Config, error) {
	return applyEnv(c, env.Options{Prefix: EnvPrefix, Environment: environ})
}

func applyEnv(c Config, opts env.Options) (Config, error) {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if c.data == nil {
		c = New(nil)
	}
	if o.Capacity != 0 {
		c = c.with(KeyCapacity, o.Capacity)
	}
	if o.Workers != 0 {
		c = c.with(KeyWorkers, o.Workers)
	}
	if o.MaxAttempts != 0 {
		c = c.with(KeyMaxAttempts, o.MaxAttempts)
	}
	if o.DependencyPolicy != "" {
		c = c.with(KeyDependencyPolicy, o.DependencyPolicy)
	}
	if o.InitialBackoff != 0 {
		c = c.with(KeyInitialBackoff, o.InitialBackoff)
	}
	if o.MaxBackoff != 0 {
		c = c.with(KeyMaxBackoff, o.MaxBackoff)
	}
	return c, nil
}
