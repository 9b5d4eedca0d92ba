package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codetrace/internal/config"
	"codetrace/internal/lang"
	"codetrace/internal/seed"
	"codetrace/internal/trace"
)

// stubRunner replaces the external toolchain so pipeline behavior can
// be tested without gcc or python on the machine.
type stubRunner struct {
	out *RunOutput
	err *StageError
}

func (s *stubRunner) Run(ctx context.Context, dir, srcPath string) (*RunOutput, *StageError) {
	return s.out, s.err
}

func wire(fields ...string) string {
	return strings.Join(fields, trace.Delimiter)
}

func testPipeline(t *testing.T, runner Runner) (*Pipeline, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	outDir := t.TempDir()
	cfg.Output.Dir = outDir

	p, err := New(cfg, lang.DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if runner != nil {
		p.SetRunner("Python", runner)
	}
	return p, outDir
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const pySource = `def main():
    x = 1
    return x

main()
`

func TestRunSuccess(t *testing.T) {
	stdout := strings.Join([]string{
		wire("META", "file_name", "demo.py"),
		wire("META", "language", "Python"),
		wire("CALL", "main", "1"),
		wire("DECL", "x", "1", "abc", "2", "1"),
		wire("RETURN", "x", "1", "abc", "3", "1"),
	}, "\n")
	p, outDir := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})

	path := writeSource(t, "demo.py", pySource)
	res := p.Run(context.Background(), path, Options{})

	if !res.Success {
		t.Fatalf("run failed: %+v", res.Error)
	}
	if len(res.Traces) != 3 {
		t.Errorf("expected 3 records, got %d", len(res.Traces))
	}
	if res.Metadata["file_name"] != "demo.py" {
		t.Errorf("metadata not folded in: %v", res.Metadata)
	}
	if n := len(res.Seed.String()); n < 19 || n > 20 {
		t.Errorf("seed has %d digits: %s", n, res.Seed)
	}

	// RETURN depth matches CALL depth.
	var call, ret *trace.Record
	for i := range res.Traces {
		switch res.Traces[i].Type {
		case trace.TagCall:
			call = &res.Traces[i]
		case trace.TagReturn:
			ret = &res.Traces[i]
		}
	}
	if call == nil || ret == nil {
		t.Fatal("expected CALL and RETURN records")
	}
	if call.Depth() != ret.Depth() {
		t.Errorf("depth mismatch: CALL=%d RETURN=%d", call.Depth(), ret.Depth())
	}

	// Artifacts written next to the output dir.
	for _, artifact := range []string{"instrumented_demo.py", "demo_trace.txt", "demo_result.json"} {
		if _, err := os.Stat(filepath.Join(outDir, artifact)); err != nil {
			t.Errorf("missing artifact %s: %v", artifact, err)
		}
	}
}

func TestRunUnsupportedExtension(t *testing.T) {
	p, _ := testPipeline(t, nil)
	path := writeSource(t, "demo.zig", "const x = 1;")

	res := p.Run(context.Background(), path, Options{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Stage != StageInstrument {
		t.Errorf("stage = %s, want instrument", res.Error.Stage)
	}
	if !strings.Contains(res.Error.Message, "unsupported extension") {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestRunMissingFile(t *testing.T) {
	p, _ := testPipeline(t, nil)
	res := p.Run(context.Background(), filepath.Join(t.TempDir(), "nope.py"), Options{})
	if res.Success || res.Error.Stage != StageInput {
		t.Errorf("expected input failure, got %+v", res.Error)
	}
}

func TestRunRuntimeFailurePreservesPartials(t *testing.T) {
	partial := strings.Join([]string{
		wire("META", "file_name", "demo.py"),
		wire("CALL", "main", "1"),
	}, "\n")
	p, _ := testPipeline(t, &stubRunner{
		out: &RunOutput{Stdout: partial, Stderr: "boom"},
		err: stageErrorf(StageRuntime, "program wrote to stderr: boom"),
	})

	path := writeSource(t, "demo.py", pySource)
	res := p.Run(context.Background(), path, Options{})

	if res.Success {
		t.Fatal("expected runtime failure")
	}
	if res.Error.Stage != StageRuntime {
		t.Errorf("stage = %s, want runtime", res.Error.Stage)
	}
	if len(res.Traces) != 1 || res.Traces[0].Type != trace.TagCall {
		t.Errorf("partial trace not preserved: %+v", res.Traces)
	}
	if res.Metadata["file_name"] != "demo.py" {
		t.Errorf("partial metadata not preserved: %v", res.Metadata)
	}
}

func TestRunTimeoutFailure(t *testing.T) {
	p, _ := testPipeline(t, &stubRunner{
		err: stageErrorf(StageRuntime, "execution timeout after 30s"),
	})

	path := writeSource(t, "demo.py", pySource)
	res := p.Run(context.Background(), path, Options{})

	if res.Success || res.Error.Stage != StageRuntime {
		t.Fatalf("expected runtime failure, got %+v", res.Error)
	}
	if !strings.Contains(res.Error.Message, "timeout") {
		t.Errorf("message = %q, want timeout", res.Error.Message)
	}
	// Collected metadata still present so the seed stays derivable.
	if res.Metadata["file_name"] != "demo.py" {
		t.Errorf("collected metadata should back a dead run: %v", res.Metadata)
	}
}

func TestRunSeedOverride(t *testing.T) {
	stdout := wire("META", "file_name", "demo.py")
	p, _ := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})
	path := writeSource(t, "demo.py", pySource)

	res := p.Run(context.Background(), path, Options{Seed: "1234567890123456789"})
	if !res.Success {
		t.Fatalf("run failed: %+v", res.Error)
	}
	if res.Seed != seed.Seed("1234567890123456789") {
		t.Errorf("override ignored: %s", res.Seed)
	}

	// Invalid override is a validation failure before any work runs.
	res = p.Run(context.Background(), path, Options{Seed: "42"})
	if res.Success || res.Error.Stage != StageValidation {
		t.Errorf("expected validation failure, got %+v", res.Error)
	}
}

func TestRunSeedDeterminism(t *testing.T) {
	stdout := strings.Join([]string{
		wire("META", "file_name", "demo.py"),
		wire("META", "language", "Python"),
	}, "\n")
	p, _ := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})
	path := writeSource(t, "demo.py", pySource)

	first := p.Run(context.Background(), path, Options{})
	second := p.Run(context.Background(), path, Options{})
	if !first.Success || !second.Success {
		t.Fatal("runs failed")
	}
	if first.Seed != second.Seed {
		t.Errorf("same metadata must reproduce the seed: %s vs %s", first.Seed, second.Seed)
	}
}

func TestRunReuseSeed(t *testing.T) {
	stdout := wire("META", "file_name", "demo.py")
	p, _ := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})
	path := writeSource(t, "demo.py", pySource)

	// A stored seed wins.
	res := p.Run(context.Background(), path, Options{
		ReuseSeed: true,
		LastSeed: func(fileName string) (seed.Seed, bool) {
			if fileName != "demo.py" {
				t.Errorf("lookup by %q", fileName)
			}
			return "9876543210987654321", true
		},
	})
	if !res.Success || res.Seed != seed.Seed("9876543210987654321") {
		t.Fatalf("stored seed not reused: %+v", res)
	}

	// Without a store, the previous result document backs reuse.
	first := p.Run(context.Background(), path, Options{})
	again := p.Run(context.Background(), path, Options{ReuseSeed: true})
	if again.Seed != first.Seed {
		t.Errorf("result-document seed not reused: %s vs %s", first.Seed, again.Seed)
	}
}

func TestBatchPartialSemantics(t *testing.T) {
	stdout := wire("META", "file_name", "x")
	p, _ := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})

	dir := t.TempDir()
	first := filepath.Join(dir, "a.py")
	third := filepath.Join(dir, "c.py")
	for _, path := range []string{first, third} {
		if err := os.WriteFile(path, []byte(pySource), 0644); err != nil {
			t.Fatal(err)
		}
	}
	missing := filepath.Join(dir, "b.py")

	batch := p.Batch(context.Background(), []string{first, missing, third}, Options{})

	if len(batch.Succeeded) != 2 {
		t.Errorf("expected 2 successes, got %v", batch.Succeeded)
	}
	if len(batch.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %+v", batch.Failed)
	}
	if batch.Failed[0].Stage != StageValidation {
		t.Errorf("missing file should fail validation, got %s", batch.Failed[0].Stage)
	}
	// The third file was processed despite the second failing.
	if _, ok := batch.Results[third]; !ok {
		t.Error("file after the failure was not processed")
	}
	if batch.AllFailed() || !batch.Partial() {
		t.Errorf("batch classification wrong: %+v", batch)
	}
}

func TestBatchAllFailed(t *testing.T) {
	p, _ := testPipeline(t, nil)
	batch := p.Batch(context.Background(), []string{"/nonexistent/a.py"}, Options{})
	if !batch.AllFailed() {
		t.Errorf("expected hard failure: %+v", batch)
	}
}

func TestProgressEvents(t *testing.T) {
	stdout := wire("META", "file_name", "demo.py")
	p, _ := testPipeline(t, &stubRunner{out: &RunOutput{Stdout: stdout}})

	var stages []Stage
	p.SetProgressSink(func(ev Event) {
		if ev.Status == StatusOK {
			stages = append(stages, ev.Stage)
		}
	})

	path := writeSource(t, "demo.py", pySource)
	if res := p.Run(context.Background(), path, Options{}); !res.Success {
		t.Fatalf("run failed: %+v", res.Error)
	}

	want := []Stage{StageInput, StageInstrument, StageCompile, StageRuntime, StageNormalize}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
}
