package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	e := New(0)
	res, err := e.Run(context.Background(), 5*time.Second, t.TempDir(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
	if res.ExitCode != 0 || res.Killed {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	e := New(0)
	res, err := e.Run(context.Background(), 5*time.Second, t.TempDir(), "sh", "-c", "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("non-zero exit must not surface as error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q, want oops", res.Stderr)
	}
}

func TestRunTimeoutKills(t *testing.T) {
	e := New(0)
	start := time.Now()
	res, err := e.Run(context.Background(), 200*time.Millisecond, t.TempDir(), "sh", "-c", "sleep 10")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Killed {
		t.Fatalf("expected kill after timeout: %+v", res)
	}
	if !strings.Contains(res.KillReason, "timeout") {
		t.Errorf("kill reason = %q, want timeout", res.KillReason)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("kill took too long: %s", time.Since(start))
	}
}

func TestRunMissingBinaryIsAnError(t *testing.T) {
	e := New(0)
	if _, err := e.Run(context.Background(), time.Second, t.TempDir(), "definitely-not-a-binary-xyz"); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}

func TestRunOutputCap(t *testing.T) {
	e := New(64)
	res, err := e.Run(context.Background(), 5*time.Second, t.TempDir(), "sh", "-c", "yes x | head -c 4096")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("expected truncation flag")
	}
	if len(res.Stdout) > 64 {
		t.Errorf("stdout exceeds cap: %d bytes", len(res.Stdout))
	}
}
