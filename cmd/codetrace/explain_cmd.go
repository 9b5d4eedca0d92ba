package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"codetrace/internal/insight"
)

var embedFlag bool

var explainCmd = &cobra.Command{
	Use:   "explain [result-file | run-id]",
	Short: "Explain a trace in plain language",
	Long: `Sends the trace digest to Gemini and renders the returned markdown.
Requires GEMINI_API_KEY (flag, env, or .env file). With --embed, the
trace embedding is also stored so "history similar" can find related
runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().BoolVar(&embedFlag, "embed", false, "Also store the trace embedding for similarity search")
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, runID, err := loadResult(args[0])
	if err != nil {
		return err
	}

	client, err := insight.New(ctx, cfg)
	if errors.Is(err, insight.ErrDisabled) {
		return fmt.Errorf("explain needs a Gemini API key: set GEMINI_API_KEY or insight.api_key in the config")
	}
	if err != nil {
		return err
	}

	markdown, err := client.Explain(ctx, res)
	if err != nil {
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(markdown)
	} else if out, err := renderer.Render(markdown); err != nil {
		fmt.Println(markdown)
	} else {
		fmt.Print(out)
	}

	if embedFlag {
		if runID == "" {
			return fmt.Errorf("--embed needs a run id from history, not a result file")
		}
		vector, err := client.Embed(ctx, res)
		if err != nil {
			return fmt.Errorf("embed trace: %w", err)
		}
		runs, err := openStore()
		if err != nil {
			return err
		}
		defer runs.Close()
		if err := runs.SaveEmbedding(runID, vector); err != nil {
			return fmt.Errorf("store embedding: %w", err)
		}
		fmt.Printf("embedded run %s\n", runID)
	}
	return nil
}
