// Package confloader provides configuration loading for StreamVet.
//
// It uses Koanf to load configuration from multiple sources with
// priority: Env > File > Default.
package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "STREAMVET_"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration from all sources and unmarshals into target.
// Later sources override earlier: file, then environment.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.LoadEnv(); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables.
// STREAMVET_JOB_PARALLELISM=4 maps to key "job.parallelism".
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap loads configuration from a map (useful for tests).
func (l *Loader) LoadMap(data map[string]any) error {
	return l.k.Load(mapProvider(data), nil)
}

// Get returns a raw value from the configuration by key.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt returns an int value from the configuration.
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}
