package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all codetrace configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Output artifacts (instrumented source, raw traces, result JSON)
	Output OutputConfig `yaml:"output"`

	// External toolchain used by the compile/runtime stages
	Toolchain ToolchainConfig `yaml:"toolchain"`

	// HTTP API
	Server ServerConfig `yaml:"server"`

	// Run-history store
	Store StoreConfig `yaml:"store"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`

	// Gemini-backed explanations and embeddings
	Insight InsightConfig `yaml:"insight"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OutputConfig configures where pipeline artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// ToolchainConfig configures the external compile/run step.
type ToolchainConfig struct {
	GCCPath        string `yaml:"gcc_path"`
	PythonPath     string `yaml:"python_path"`
	CompileTimeout string `yaml:"compile_timeout"`
	RunTimeout     string `yaml:"run_timeout"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	MaxConnections  int    `yaml:"max_connections"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
}

// StoreConfig configures the run-history store.
type StoreConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

// WatchConfig configures filesystem watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// InsightConfig configures the Gemini client.
type InsightConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	JSONFormat bool            `yaml:"json_format"`
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codetrace",
		Version: "0.4.0",

		Output: OutputConfig{
			Dir: "traces",
		},

		Toolchain: ToolchainConfig{
			GCCPath:        "gcc",
			PythonPath:     "python3",
			CompileTimeout: "30s",
			RunTimeout:     "30s",
			MaxOutputBytes: 1 << 20,
		},

		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8077,
			MaxConnections:  64,
			ReadTimeout:     "30s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "10s",
			MaxUploadBytes:  1 << 20,
		},

		Store: StoreConfig{
			Path:      "data/codetrace.db",
			CacheSize: 256,
		},

		Watch: WatchConfig{
			Debounce: "300ms",
		},

		Insight: InsightConfig{
			Model:      "gemini-2.5-flash",
			EmbedModel: "gemini-embedding-001",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the standard config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".codetrace", "config.yaml")
	}
	return filepath.Join(home, ".codetrace", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("CODETRACE_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}
	if path := os.Getenv("CODETRACE_DB"); path != "" {
		c.Store.Path = path
	}
	if gcc := os.Getenv("CODETRACE_GCC"); gcc != "" {
		c.Toolchain.GCCPath = gcc
	}
	if py := os.Getenv("CODETRACE_PYTHON"); py != "" {
		c.Toolchain.PythonPath = py
	}
	if host := os.Getenv("CODETRACE_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("CODETRACE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Insight.APIKey = key
	}
}

// GetCompileTimeout returns the compile-stage timeout as a duration.
func (c *Config) GetCompileTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.CompileTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRunTimeout returns the runtime-stage timeout as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.RunTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetReadTimeout returns the server read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the server write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the server shutdown grace period.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetWatchDebounce returns the watch-mode debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// ServerAddr returns the host:port the HTTP API binds to.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// InsightEnabled reports whether a Gemini API key is configured.
func (c *Config) InsightEnabled() bool {
	return c.Insight.APIKey != ""
}
