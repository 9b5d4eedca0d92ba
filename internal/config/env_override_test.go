package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("CODETRACE_OUTPUT_DIR overrides output dir", func(t *testing.T) {
		t.Setenv("CODETRACE_OUTPUT_DIR", "/tmp/alt-out")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/alt-out", cfg.Output.Dir)
	})

	t.Run("CODETRACE_DB overrides store path", func(t *testing.T) {
		t.Setenv("CODETRACE_DB", "/tmp/alt.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/alt.db", cfg.Store.Path)
	})

	t.Run("toolchain paths override", func(t *testing.T) {
		t.Setenv("CODETRACE_GCC", "/usr/local/bin/gcc-14")
		t.Setenv("CODETRACE_PYTHON", "/opt/python/bin/python3")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/usr/local/bin/gcc-14", cfg.Toolchain.GCCPath)
		assert.Equal(t, "/opt/python/bin/python3", cfg.Toolchain.PythonPath)
	})

	t.Run("server host and port override", func(t *testing.T) {
		t.Setenv("CODETRACE_HOST", "0.0.0.0")
		t.Setenv("CODETRACE_PORT", "9100")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9100, cfg.Server.Port)
	})

	t.Run("invalid port is ignored", func(t *testing.T) {
		t.Setenv("CODETRACE_PORT", "not-a-port")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 8077, cfg.Server.Port)
	})

	t.Run("GEMINI_API_KEY enables insight", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.InsightEnabled())
		assert.Equal(t, "test-key", cfg.Insight.APIKey)
	})
}
