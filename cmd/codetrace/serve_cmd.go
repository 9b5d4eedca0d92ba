package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codetrace/internal/lang"
	"codetrace/internal/server"
	"codetrace/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tracing pipeline over HTTP",
	Long: `Starts the HTTP API:

  POST /api/trace        trace one submitted file
  POST /api/trace/batch  trace several files
  GET  /api/runs         run history
  GET  /api/runs/{id}    one result document
  GET  /api/languages    supported languages
  GET  /healthz          liveness

Bind address and connection limits come from the server section of the
config file.`,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Re-trace source files whenever they change",
	Long: `Watches files or directories and reruns the pipeline on every
settled change. Rapid save bursts are coalesced; only extensions with a
registered language backend trigger runs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	registry := lang.DefaultRegistry()
	p, runs := newPipeline()
	if runs != nil {
		defer runs.Close()
	}

	srv := server.New(cfg, p, registry, runs)
	logger.Info("starting server", zap.String("addr", cfg.ServerAddr()))
	fmt.Printf("codetrace API listening on http://%s\n", cfg.ServerAddr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	registry := lang.DefaultRegistry()
	p, runs := newPipeline()
	if runs != nil {
		defer runs.Close()
	}
	opts := traceOptions(runs)

	w, err := watch.New(registry, cfg.GetWatchDebounce(), func(path string) {
		res := p.Run(ctx, path, opts)
		recordRun(runs, filepath.Base(path), res)
		if res.Success {
			fmt.Printf("traced  %s: %d records, seed %s\n", path, len(res.Traces), res.Seed)
		} else {
			fmt.Printf("failed  %s (%s: %s)\n", path, res.Error.Stage, res.Error.Message)
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for _, path := range args {
		if err := w.Add(path); err != nil {
			return err
		}
	}
	fmt.Printf("watching %d path(s), debounce %s\n", len(args), cfg.GetWatchDebounce())

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
