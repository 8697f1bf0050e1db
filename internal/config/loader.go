package config

import (
	"github.com/rburan/streamvet/internal/infra/confloader"
)

// Load builds a validated configuration from defaults, an optional
// YAML file, and STREAMVET_ environment variables, in ascending
// precedence. An empty path skips the file source.
func Load(path string) (Config, error) {
	cfg := Default()

	opts := []confloader.Option{}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
