package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codetrace/internal/config"
	"codetrace/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	outputDir  string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "codetrace",
	Short: "codetrace - source instrumentation and execution tracing",
	Long: `codetrace rewrites C, Python, and Go sources with tracing probes,
runs them, and normalizes their runtime output into a structured trace:
every call, declaration, assignment, branch outcome, and return, with
line numbers and call depth.

Each traced file also gets a deterministic numeric seed derived from its
metadata, so repeated runs of an unchanged file are comparable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the binary may carry GEMINI_API_KEY.
		_ = godotenv.Load()

		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		if err := logging.Initialize(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging init: %v\n", err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if outputDir != "" {
			cfg.Output.Dir = outputDir
		}
		if timeout > 0 {
			cfg.Toolchain.RunTimeout = timeout.String()
		}

		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.codetrace/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "Artifact directory (default from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Run timeout for traced programs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the codetrace version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codetrace %s\n", config.DefaultConfig().Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
