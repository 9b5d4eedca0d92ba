// Package exec runs external toolchain processes (compilers and
// interpreters) under an enforced wall-clock timeout with size-capped
// output capture.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"codetrace/internal/logging"
)

// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
const DefaultMaxOutputBytes = 1 << 20

// Result describes one finished (or killed) process.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Duration   time.Duration
	Killed     bool
	KillReason string
	Truncated  bool
}

// Executor runs commands with a per-call timeout. The zero value is not
// usable; construct with New.
type Executor struct {
	maxOutput int64
}

func New(maxOutputBytes int64) *Executor {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &Executor{maxOutput: maxOutputBytes}
}

// Run executes binary with args in dir, capped at timeout. A non-zero
// exit or a timeout kill is reported in the Result, not as an error;
// the error return covers infrastructure failures only (binary not
// found, dir missing).
func (e *Executor) Run(ctx context.Context, timeout time.Duration, dir, binary string, args ...string) (*Result, error) {
	logging.ExecDebug("running %s %v (dir=%s, timeout=%s)", binary, args, dir, timeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, binary, args...)
	cmd.Dir = dir
	// Bound Wait after the deadline kill: descendants that inherited the
	// output pipes must not keep Run blocked past the timeout.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: e.maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: e.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	started := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(started),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}
	if result.Truncated {
		logging.ExecWarn("%s output truncated at %d bytes per stream", binary, e.maxOutput)
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			result.ExitCode = -1
			logging.ExecWarn("killed %s: %s", binary, result.KillReason)
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "canceled"
			result.ExitCode = -1
			logging.ExecDebug("canceled %s", binary)
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				logging.ExecDebug("%s exited non-zero: %d", binary, result.ExitCode)
			} else {
				return result, fmt.Errorf("run %s: %w", binary, err)
			}
		}
	}

	logging.Exec("%s finished: exit=%d killed=%v duration=%s stdout=%dB stderr=%dB",
		binary, result.ExitCode, result.Killed, result.Duration, len(result.Stdout), len(result.Stderr))
	return result, nil
}

// limitedWriter caps total bytes written, discarding the overflow while
// reporting full write lengths so the process never sees a short write.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	if remaining := lw.max - lw.written; int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
