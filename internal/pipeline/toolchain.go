package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"codetrace/internal/config"
	"codetrace/internal/exec"
	"codetrace/internal/logging"
)

// RunOutput is the captured output of an instrumented program. Stdout
// may carry a decodable partial trace even when the run failed.
type RunOutput struct {
	Stdout string
	Stderr string
}

// Runner turns instrumented source into captured program output. A
// returned StageError carries the compile or runtime taxonomy; a
// non-nil output alongside a runtime error holds the partial trace.
type Runner interface {
	Run(ctx context.Context, dir, srcPath string) (*RunOutput, *StageError)
}

// defaultRunners wires the built-in toolchains, keyed by backend name.
func defaultRunners(cfg *config.Config, ex *exec.Executor) map[string]Runner {
	return map[string]Runner{
		"C": &gccRunner{
			exec:           ex,
			gcc:            cfg.Toolchain.GCCPath,
			compileTimeout: cfg.GetCompileTimeout(),
			runTimeout:     cfg.GetRunTimeout(),
		},
		"Python": &pythonRunner{
			exec:       ex,
			python:     cfg.Toolchain.PythonPath,
			runTimeout: cfg.GetRunTimeout(),
		},
		"Go": &yaegiRunner{
			runTimeout: cfg.GetRunTimeout(),
		},
	}
}

// gccRunner compiles with gcc and runs the produced binary.
type gccRunner struct {
	exec           *exec.Executor
	gcc            string
	compileTimeout time.Duration
	runTimeout     time.Duration
}

func (r *gccRunner) Run(ctx context.Context, dir, srcPath string) (*RunOutput, *StageError) {
	binPath := filepath.Join(dir, "traced_bin")

	res, err := r.exec.Run(ctx, r.compileTimeout, dir, r.gcc, "-o", binPath, srcPath)
	if err != nil {
		return nil, stageErrorf(StageCompile, "gcc: %v", err)
	}
	if res.Killed {
		return nil, stageErrorf(StageCompile, "gcc %s", res.KillReason)
	}
	if res.ExitCode != 0 {
		return nil, stageErrorf(StageCompile, "gcc rejected instrumented source: %s", res.Stderr)
	}

	run, err := r.exec.Run(ctx, r.runTimeout, dir, binPath)
	if err != nil {
		return nil, stageErrorf(StageRuntime, "%v", err)
	}
	out := &RunOutput{Stdout: run.Stdout, Stderr: run.Stderr}
	if run.Killed {
		return out, stageErrorf(StageRuntime, "execution %s", run.KillReason)
	}
	if run.Stderr != "" {
		return out, stageErrorf(StageRuntime, "program wrote to stderr: %s", run.Stderr)
	}
	return out, nil
}

// pythonRunner executes instrumented Python under the interpreter.
type pythonRunner struct {
	exec       *exec.Executor
	python     string
	runTimeout time.Duration
}

func (r *pythonRunner) Run(ctx context.Context, dir, srcPath string) (*RunOutput, *StageError) {
	run, err := r.exec.Run(ctx, r.runTimeout, dir, r.python, srcPath)
	if err != nil {
		return nil, stageErrorf(StageRuntime, "%s: %v", r.python, err)
	}
	out := &RunOutput{Stdout: run.Stdout, Stderr: run.Stderr}
	if run.Killed {
		return out, stageErrorf(StageRuntime, "execution %s", run.KillReason)
	}
	if run.Stderr != "" {
		return out, stageErrorf(StageRuntime, "program wrote to stderr: %s", run.Stderr)
	}
	return out, nil
}

// yaegiRunner evaluates instrumented Go in-process with the yaegi
// interpreter; no external Go toolchain is required. The interpreter
// goroutine cannot be killed, so on timeout its output is discarded and
// the goroutine is abandoned to finish on its own.
type yaegiRunner struct {
	runTimeout time.Duration
}

func (r *yaegiRunner) Run(ctx context.Context, dir, srcPath string) (*RunOutput, *StageError) {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, stageErrorf(StageCompile, "read instrumented source: %v", err)
	}

	var stdout, stderr bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, stageErrorf(StageCompile, "load interpreter stdlib: %v", err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return nil, stageErrorf(StageCompile, "interpreter rejected instrumented source: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		_, evalErr := i.Eval("main.main()")
		done <- evalErr
	}()

	select {
	case <-runCtx.Done():
		logging.ExecWarn("interpreted Go program timed out after %s", r.runTimeout)
		return nil, stageErrorf(StageRuntime, "execution timeout after %s", r.runTimeout)
	case evalErr := <-done:
		out := &RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}
		if evalErr != nil {
			return out, stageErrorf(StageRuntime, "%v", evalErr)
		}
		if out.Stderr != "" {
			return out, stageErrorf(StageRuntime, "program wrote to stderr: %s", out.Stderr)
		}
		return out, nil
	}
}
