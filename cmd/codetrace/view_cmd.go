package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"codetrace/cmd/codetrace/ui"
)

var viewCmd = &cobra.Command{
	Use:   "view [result-file | run-id]",
	Short: "Browse a trace interactively",
	Long: `Opens a scrollable viewer over a result document. Records are
colored by type and indented by call depth; press / to filter by
record type or subject.`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func runView(cmd *cobra.Command, args []string) error {
	res, _, err := loadResult(args[0])
	if err != nil {
		return err
	}
	if len(res.Traces) == 0 {
		return fmt.Errorf("result has no trace records")
	}

	program := tea.NewProgram(ui.NewModel(res), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
