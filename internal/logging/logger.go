// Package logging provides config-driven categorized file-based logging for codetrace.
// Logs are written to <log_dir>/ with separate files per category.
// Logging is controlled by the logging section of ~/.codetrace/config.yaml -
// when debug_mode is false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup/initialization
	CategoryParser     Category = "parser"     // CST parsing, backend lookup
	CategoryInstrument Category = "instrument" // Analysis and instrumentation passes
	CategoryPipeline   Category = "pipeline"   // Stage orchestration, batch runs
	CategoryExec       Category = "exec"       // External compile/run processes
	CategoryDecode     Category = "decode"     // Trace normalization
	CategorySeed       Category = "seed"       // Seed derivation
	CategoryStore      Category = "store"      // Run-history store operations
	CategoryServer     Category = "server"     // HTTP API
	CategoryWatch      Category = "watch"      // Filesystem watch mode
	CategoryQuery      Category = "query"      // Datalog trace queries
	CategoryInsight    Category = "insight"    // LLM explanation/embedding calls
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Dir        string          `yaml:"dir"`
}

// configFile structure for reading the logging section of config.yaml
type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// StructuredLogEntry is the JSON log line format.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	configPath   string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the config file path
// (empty means ~/.codetrace/config.yaml).
func Initialize(cfgPath string) error {
	if cfgPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		cfgPath = filepath.Join(home, ".codetrace", "config.yaml")
	}
	configPath = cfgPath

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Silent no-op unless debug mode was requested
	if !config.DebugMode {
		return nil
	}

	logsDir = config.Dir
	if logsDir == "" {
		logsDir = filepath.Join(filepath.Dir(configPath), "logs")
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== codetrace logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", config.Level)
	if len(config.Categories) > 0 {
		enabled := 0
		for _, on := range config.Categories {
			if on {
				enabled++
			}
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(config.Categories))
	} else {
		boot.Info("All categories enabled (no category filter)")
	}

	return nil
}

// loadConfig reads the logging config from the YAML config file
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Parser logs to the parser category
func Parser(format string, args ...interface{}) {
	Get(CategoryParser).Info(format, args...)
}

// ParserDebug logs debug to the parser category
func ParserDebug(format string, args ...interface{}) {
	Get(CategoryParser).Debug(format, args...)
}

// Instrument logs to the instrument category
func Instrument(format string, args ...interface{}) {
	Get(CategoryInstrument).Info(format, args...)
}

// InstrumentDebug logs debug to the instrument category
func InstrumentDebug(format string, args ...interface{}) {
	Get(CategoryInstrument).Debug(format, args...)
}

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debug(format, args...)
}

// PipelineError logs error to the pipeline category
func PipelineError(format string, args ...interface{}) {
	Get(CategoryPipeline).Error(format, args...)
}

// Exec logs to the exec category
func Exec(format string, args ...interface{}) {
	Get(CategoryExec).Info(format, args...)
}

// ExecDebug logs debug to the exec category
func ExecDebug(format string, args ...interface{}) {
	Get(CategoryExec).Debug(format, args...)
}

// ExecWarn logs warning to the exec category
func ExecWarn(format string, args ...interface{}) {
	Get(CategoryExec).Warn(format, args...)
}

// Decode logs to the decode category
func Decode(format string, args ...interface{}) {
	Get(CategoryDecode).Info(format, args...)
}

// DecodeDebug logs debug to the decode category
func DecodeDebug(format string, args ...interface{}) {
	Get(CategoryDecode).Debug(format, args...)
}

// DecodeWarn logs warning to the decode category
func DecodeWarn(format string, args ...interface{}) {
	Get(CategoryDecode).Warn(format, args...)
}

// Seed logs to the seed category
func Seed(format string, args ...interface{}) {
	Get(CategorySeed).Info(format, args...)
}

// SeedDebug logs debug to the seed category
func SeedDebug(format string, args ...interface{}) {
	Get(CategorySeed).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// Server logs to the server category
func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

// ServerDebug logs debug to the server category
func ServerDebug(format string, args ...interface{}) {
	Get(CategoryServer).Debug(format, args...)
}

// ServerError logs error to the server category
func ServerError(format string, args ...interface{}) {
	Get(CategoryServer).Error(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}

// Query logs to the query category
func Query(format string, args ...interface{}) {
	Get(CategoryQuery).Info(format, args...)
}

// QueryDebug logs debug to the query category
func QueryDebug(format string, args ...interface{}) {
	Get(CategoryQuery).Debug(format, args...)
}

// Insight logs to the insight category
func Insight(format string, args ...interface{}) {
	Get(CategoryInsight).Info(format, args...)
}

// InsightDebug logs debug to the insight category
func InsightDebug(format string, args ...interface{}) {
	Get(CategoryInsight).Debug(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - correlation for concurrent HTTP requests
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[req:%s] %s | %v", r.requestID, msg, r.fields)
	}
	return fmt.Sprintf("[req:%s] %s", r.requestID, msg)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logger.Printf("[DEBUG] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logger.Printf("[INFO] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logger.Printf("[WARN] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logger.Printf("[ERROR] %s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
