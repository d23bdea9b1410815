package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xirelogy/go-starhost/internal/backtrace"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "starhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, backtrace.ColorAuto, cfg.ColorChoice())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
color: never
max_steps: 5000
fail_on_script_error: true
script: ./main.star
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, backtrace.ColorNever, cfg.ColorChoice())
	assert.Equal(t, uint64(5000), cfg.MaxSteps)
	assert.True(t, cfg.FailOnScriptError)
	assert.False(t, cfg.Interactive)
	assert.Equal(t, "./main.star", cfg.Script)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "auto", cfg.Color)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\nmax_steps: 10\n")
	t.Setenv("STARHOST_LOG__LEVEL", "error")
	t.Setenv("STARHOST_MAX_STEPS", "99")
	t.Setenv("STARHOST_INTERACTIVE", "true")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, uint64(99), cfg.MaxSteps)
	assert.True(t, cfg.Interactive)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"level", "log:\n  level: loud\n"},
		{"format", "log:\n  format: xml\n"},
		{"color", "color: rainbow\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config: invalid")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "log.level", envKey("STARHOST_LOG__LEVEL"))
	assert.Equal(t, "fail_on_script_error", envKey("STARHOST_FAIL_ON_SCRIPT_ERROR"))
	assert.Equal(t, "", envKey(EnvConfigPath))
}
