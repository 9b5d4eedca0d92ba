package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codetrace/internal/lang"
	"codetrace/internal/pipeline"
	"codetrace/internal/seed"
	"codetrace/internal/store"
	"codetrace/internal/trace"
)

var (
	seedFlag  string
	reuseSeed bool
	jsonOut   bool
)

const timeRounding = time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Instrument, execute, and trace one source file",
	Long: `Runs the full pipeline on a source file:
  1. Instrument: parse the source and inject tracing probes
  2. Execute: compile (if needed) and run the instrumented program
  3. Normalize: decode the raw output into structured trace records

Artifacts (instrumented source, raw trace, result JSON) land in the
output directory. A deterministic seed is derived from the file's
metadata unless overridden with --seed or --reuse-seed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

var batchCmd = &cobra.Command{
	Use:   "batch [files...]",
	Short: "Trace multiple files, continuing past per-file failures",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

var decodeCmd = &cobra.Command{
	Use:   "decode [trace-file]",
	Short: "Decode a raw trace file into JSON records",
	Long: `Decodes the NUL-delimited raw output of an instrumented program
without running anything. Useful for inspecting a saved *_trace.txt.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var seedMetaPairs []string

var seedCmd = &cobra.Command{
	Use:   "seed [source-file | result.json]",
	Short: "Derive the metadata seed",
	Long: `Derives the deterministic seed from file metadata. The metadata comes
from analyzing a source file, from the metadata block of a saved result
document, or from explicit -m key=val pairs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported languages and extensions",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, b := range lang.DefaultRegistry().Backends() {
			fmt.Printf("%-8s %v\n", b.Name(), b.Extensions())
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, batchCmd} {
		cmd.Flags().StringVar(&seedFlag, "seed", "", "Seed override (19-20 digits, or -1 to derive)")
		cmd.Flags().BoolVar(&reuseSeed, "reuse-seed", false, "Reuse the seed from the previous run of the same file")
		cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full result document as JSON")
	}
	seedCmd.Flags().StringArrayVarP(&seedMetaPairs, "meta", "m", nil, "Metadata key=val pair (repeatable, replaces file analysis)")
}

// signalContext returns a context canceled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newPipeline() (*pipeline.Pipeline, *store.RunStore) {
	p, err := pipeline.New(cfg, lang.DefaultRegistry())
	if err != nil {
		logger.Fatal("pipeline init", zap.Error(err))
	}
	runs, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn("run store unavailable, history disabled", zap.Error(err))
		return p, nil
	}
	return p, runs
}

func traceOptions(runs *store.RunStore) pipeline.Options {
	opts := pipeline.Options{
		Seed:      seedFlag,
		ReuseSeed: reuseSeed,
		OutputDir: cfg.Output.Dir,
	}
	if runs != nil {
		opts.LastSeed = func(fileName string) (seed.Seed, bool) {
			raw, ok := runs.LastSeed(fileName)
			return seed.Seed(raw), ok
		}
	}
	return opts
}

func recordRun(runs *store.RunStore, fileName string, res *pipeline.Result) {
	if runs == nil {
		return
	}
	run := &store.Run{
		FileName: fileName,
		Language: res.Metadata["language"],
		Success:  res.Success,
		Seed:     string(res.Seed),
		Result:   res,
	}
	if res.Error != nil {
		run.Stage = string(res.Error.Stage)
	}
	if err := runs.SaveRun(run); err != nil {
		logger.Warn("record run", zap.Error(err))
	}
}

func progressPrinter(ev pipeline.Event) {
	if !verbose {
		return
	}
	switch ev.Status {
	case pipeline.StatusOK:
		fmt.Fprintf(os.Stderr, "  %-10s ok (%s)\n", ev.Stage, ev.Duration.Round(timeRounding))
	case pipeline.StatusFailed:
		fmt.Fprintf(os.Stderr, "  %-10s failed: %v\n", ev.Stage, ev.Err)
	}
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, runs := newPipeline()
	if runs != nil {
		defer runs.Close()
	}
	p.SetProgressSink(progressPrinter)

	res := p.Run(ctx, args[0], traceOptions(runs))
	recordRun(runs, filepath.Base(args[0]), res)

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	if !res.Success {
		return fmt.Errorf("%s stage failed: %s", res.Error.Stage, res.Error.Message)
	}
	fmt.Printf("%s: %d records, seed %s\n", filepath.Base(args[0]), len(res.Traces), res.Seed)
	fmt.Printf("result: %s\n", filepath.Join(cfg.Output.Dir, resultName(args[0])))
	return nil
}

func resultName(path string) string {
	base := filepath.Base(path)
	stem := base[:len(base)-len(filepath.Ext(base))]
	return stem + "_result.json"
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, runs := newPipeline()
	if runs != nil {
		defer runs.Close()
	}
	p.SetProgressSink(progressPrinter)

	opts := traceOptions(runs)
	batch := p.Batch(ctx, args, opts)
	for path, res := range batch.Results {
		recordRun(runs, filepath.Base(path), res)
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(batch)
	}
	for _, path := range batch.Succeeded {
		fmt.Printf("ok      %s\n", path)
	}
	for _, f := range batch.Failed {
		fmt.Printf("failed  %s (%s: %s)\n", f.File, f.Stage, f.Message)
	}
	fmt.Printf("%d succeeded, %d failed\n", len(batch.Succeeded), len(batch.Failed))
	if batch.AllFailed() {
		return fmt.Errorf("all %d files failed", len(batch.Failed))
	}
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read trace file: %w", err)
	}

	decoded := trace.NewDecoder().Decode(string(raw))
	for _, f := range decoded.Failures {
		fmt.Fprintf(os.Stderr, "warning: line %d: %s\n", f.Line, f.Message)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"metadata": decoded.Metadata,
		"traces":   decoded.Records,
	})
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	metadata, err := seedMetadata(ctx, args)
	if err != nil {
		return err
	}
	s, err := seed.Derive(metadata)
	if err != nil {
		return fmt.Errorf("derive seed: %w", err)
	}
	fmt.Println(s)
	return nil
}

// seedMetadata resolves the metadata mapping to derive from: explicit
// -m pairs, a result document's metadata block, or a fresh analysis of
// a source file.
func seedMetadata(ctx context.Context, args []string) (map[string]string, error) {
	if len(seedMetaPairs) > 0 {
		metadata := make(map[string]string, len(seedMetaPairs))
		for _, pair := range seedMetaPairs {
			key, val, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid -m pair %q, want key=val", pair)
			}
			metadata[key] = val
		}
		return metadata, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("provide a file or -m key=val pairs")
	}
	path := args[0]
	if strings.HasSuffix(path, ".json") {
		res, err := pipeline.ReadResultFile(path)
		if err != nil {
			return nil, err
		}
		return res.Metadata, nil
	}

	backend, ok := lang.DefaultRegistry().ForFile(path)
	if !ok {
		return nil, fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	meta, err := backend.CollectMetadata(ctx, src, path)
	if err != nil {
		return nil, fmt.Errorf("collect metadata: %w", err)
	}
	return meta.Map(), nil
}
