package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codetrace/internal/pipeline"
	"codetrace/internal/query"
	"codetrace/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print one recorded result document",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historySimilarCmd = &cobra.Command{
	Use:   "similar [run-id]",
	Short: "Find runs with similar traces",
	Long: `Searches run history for traces whose embeddings are closest to the
given run's. Requires a build with vector search and runs embedded via
"explain --embed".`,
	Args: cobra.ExactArgs(1),
	RunE: runHistorySimilar,
}

var queryRunID string

var queryCmd = &cobra.Command{
	Use:   "query [predicate] [result-file]",
	Short: "Query a trace with Datalog",
	Long: `Loads a result document into the Datalog engine and returns every
fact of the given predicate. Derived predicates include:

  reads             variable reads
  writes            declarations, assignments, updates
  read_before_write reads that precede a write of the same variable
  callee            traced function calls
  external_callee   calls into untraced code
  branch_taken      conditions that evaluated true
  branch_skipped    conditions that evaluated false

The trace comes from a result file, or from run history via --run.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historySimilarCmd)
	queryCmd.Flags().StringVar(&queryRunID, "run", "", "Load the trace from run history instead of a file")
}

func openStore() (*store.RunStore, error) {
	runs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return runs, nil
}

// loadResult resolves a result document from a file path, or failing
// that, from run history by id.
func loadResult(arg string) (*pipeline.Result, string, error) {
	if _, err := os.Stat(arg); err == nil {
		res, err := pipeline.ReadResultFile(arg)
		return res, "", err
	}
	runs, err := openStore()
	if err != nil {
		return nil, "", err
	}
	defer runs.Close()
	run, err := runs.GetRun(arg)
	if err != nil {
		return nil, "", fmt.Errorf("%q is neither a file nor a known run id", arg)
	}
	if run.Result == nil {
		return nil, "", fmt.Errorf("run %s has no stored result", arg)
	}
	return run.Result, run.ID, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	runs, err := openStore()
	if err != nil {
		return err
	}
	defer runs.Close()

	list, err := runs.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	fmt.Printf("%-36s  %-20s  %-8s  %-10s  %s\n", "ID", "FILE", "LANG", "OUTCOME", "WHEN")
	for _, run := range list {
		outcome := "ok"
		if !run.Success {
			outcome = run.Stage
		}
		fmt.Printf("%-36s  %-20s  %-8s  %-10s  %s\n",
			run.ID, run.FileName, run.Language, outcome,
			run.Created.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	runs, err := openStore()
	if err != nil {
		return err
	}
	defer runs.Close()

	run, err := runs.GetRun(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run.Result)
}

func runHistorySimilar(cmd *cobra.Command, args []string) error {
	runs, err := openStore()
	if err != nil {
		return err
	}
	defer runs.Close()

	hits, err := runs.Similar(args[0], 5)
	if errors.Is(err, store.ErrVectorSearchUnavailable) {
		return fmt.Errorf("vector search unavailable: build with the sqlite_vec tag and embed runs first")
	}
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("no similar runs")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%-36s  %-20s  distance %.4f\n", h.RunID, h.FileName, h.Distance)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	predicate := args[0]

	var res *pipeline.Result
	var err error
	switch {
	case queryRunID != "":
		res, _, err = loadResult(queryRunID)
	case len(args) == 2:
		res, _, err = loadResult(args[1])
	default:
		return fmt.Errorf("provide a result file or --run")
	}
	if err != nil {
		return err
	}

	engine := query.NewEngine()
	if err := engine.Load(res.Traces, res.Metadata); err != nil {
		return fmt.Errorf("load trace: %w", err)
	}
	facts, err := engine.Query(predicate)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Printf("no %s facts\n", predicate)
		return nil
	}
	for _, f := range facts {
		fmt.Println(f.String())
	}
	return nil
}
