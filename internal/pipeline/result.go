package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"codetrace/internal/seed"
	"codetrace/internal/trace"
)

// Result is the final document for one processed file. It is created
// once per run and immutable afterwards; partial metadata and traces
// survive runtime failures on purpose.
type Result struct {
	Metadata map[string]string `json:"metadata"`
	Traces   []trace.Record    `json:"traces"`
	Seed     seed.Seed         `json:"seed"`
	Success  bool              `json:"success"`
	Error    *StageError       `json:"error,omitempty"`

	// Timings is per-stage wall time, for progress reporting. Not part
	// of the result document.
	Timings Timings `json:"-"`
}

func failedResult(err *StageError) *Result {
	return &Result{
		Metadata: map[string]string{},
		Traces:   []trace.Record{},
		Error:    err,
	}
}

// WriteFile serializes the result document as indented JSON.
func (r *Result) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// ReadResultFile loads a previously written result document. Used for
// seed reuse and by the query/view/explain commands.
func ReadResultFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", path, err)
	}
	return &r, nil
}
