// Package config loads starhost settings: built-in defaults, then an
// optional YAML file, then STARHOST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"

	"github.com/xirelogy/go-starhost/internal/backtrace"
)

const (
	// EnvPrefix prefixes every environment override. Nested keys use a
	// double underscore: STARHOST_LOG__LEVEL sets log.level.
	EnvPrefix = "STARHOST_"
	// EnvConfigPath names the YAML file to load, if any.
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// Log configures the process logger.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Config is the process configuration.
type Config struct {
	Log               Log    `koanf:"log"`
	Color             string `koanf:"color"`
	MaxSteps          uint64 `koanf:"max_steps"`
	FailOnScriptError bool   `koanf:"fail_on_script_error"`
	Interactive       bool   `koanf:"interactive"`
	// Script is a guest file to run instead of the embedded main script.
	Script string `koanf:"script"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Color: backtrace.ColorAuto.String(),
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	if s == EnvConfigPath {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q is not console or json", c.Log.Format))
	}
	if _, err := backtrace.ParseColorChoice(c.Color); err != nil {
		errs = append(errs, fmt.Errorf("color: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// ColorChoice returns the parsed color setting.
func (c *Config) ColorChoice() backtrace.ColorChoice {
	choice, _ := backtrace.ParseColorChoice(c.Color)
	return choice
}
