package insight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"codetrace/internal/config"
	"codetrace/internal/pipeline"
	"codetrace/internal/trace"
)

func intPtr(v int) *int { return &v }

func TestNewDisabledWithoutKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Insight.APIKey = ""

	_, err := New(context.Background(), cfg)
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestDigest(t *testing.T) {
	res := &pipeline.Result{
		Metadata: map[string]string{
			"file_name":      "fib.py",
			"language":       "Python",
			"function_names": "fib, main",
		},
		Traces: []trace.Record{
			{Type: trace.TagCall, ID: 0, Subject: "fib", StackDepth: intPtr(1)},
			{Type: trace.TagDecl, ID: 1, Subject: "n", Value: "10", LineNumber: 2},
			{Type: trace.TagBranch, ID: 2, Subject: "if", Condition: "n <= 1",
				ConditionResult: intPtr(0), LineNumber: 3},
		},
		Success: true,
	}

	digest := Digest(res)
	assert.Contains(t, digest, "file: fib.py")
	assert.Contains(t, digest, "language: Python")
	assert.Contains(t, digest, "functions: fib, main")
	assert.Contains(t, digest, "#0 CALL fib")
	assert.Contains(t, digest, "depth 1")
	assert.Contains(t, digest, "#1 DECL n = 10 line 2")
	assert.Contains(t, digest, "cond(n <= 1)=0")

	lines := strings.Split(strings.TrimSpace(digest), "\n")
	assert.Len(t, lines, 7, "3 header lines, a blank, 3 records")
}
