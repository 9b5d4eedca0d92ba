// Package pipeline sequences instrument, execute, and normalize for one
// source file and batches of files, turning stage failures into a
// structured error taxonomy instead of aborting siblings.
package pipeline

import (
	"fmt"
	"time"
)

// Stage names one step of the per-file pipeline. The names double as
// the error taxonomy: a failed result carries the stage it died in.
type Stage string

const (
	// StageInput covers reading the source file.
	StageInput Stage = "input"
	// StageInstrument covers backend lookup, analysis, and the rewrite.
	StageInstrument Stage = "instrument"
	// StageCompile covers the external toolchain rejecting the
	// instrumented source.
	StageCompile Stage = "compile"
	// StageRuntime covers execution: timeouts and non-empty stderr.
	StageRuntime Stage = "runtime"
	// StageNormalize covers decoding the raw trace output.
	StageNormalize Stage = "normalize"
	// StageValidation covers bad requests: missing files in a batch,
	// malformed seed overrides.
	StageValidation Stage = "validation"
)

// Status is the progress state of a stage, published through the sink.
type Status string

const (
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Event is one progress notification. File is the input path the event
// belongs to, so batch consumers can demultiplex.
type Event struct {
	File     string
	Stage    Stage
	Status   Status
	Err      error
	Duration time.Duration
}

// ProgressSink receives stage events. A nil sink disables eventing.
type ProgressSink func(Event)

// Timings accumulates wall time per stage for one pipeline run.
type Timings map[Stage]time.Duration

// StageError is the structured failure attached to a Result.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func stageErrorf(stage Stage, format string, args ...interface{}) *StageError {
	return &StageError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}
