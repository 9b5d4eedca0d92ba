package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetrace/internal/pipeline"
	"codetrace/internal/trace"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)

	depth := 0
	run := &Run{
		FileName: "fib.py",
		Language: "Python",
		Success:  true,
		Seed:     "1234567890123456789",
		Result: &pipeline.Result{
			Metadata: map[string]string{"file_name": "fib.py"},
			Traces: []trace.Record{
				{Type: trace.TagCall, ID: 0, Subject: "fib", StackDepth: &depth},
			},
			Seed:    "1234567890123456789",
			Success: true,
		},
	}
	require.NoError(t, s.SaveRun(run))
	require.NotEmpty(t, run.ID, "SaveRun should assign an id")

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "fib.py", got.FileName)
	assert.Equal(t, "Python", got.Language)
	assert.True(t, got.Success)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Traces, 1)
	assert.Equal(t, trace.TagCall, got.Result.Traces[0].Type)
	assert.Equal(t, "fib", got.Result.Traces[0].Subject)
	require.NotNil(t, got.Result.Traces[0].StackDepth)
	assert.Equal(t, 0, *got.Result.Traces[0].StackDepth)
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun("no-such-id")
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.c", "b.py", "c.go"} {
		require.NoError(t, s.SaveRun(&Run{
			FileName: name,
			Language: "C",
			Success:  true,
			Created:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c.go", runs[0].FileName)
	assert.Equal(t, "b.py", runs[1].FileName)
	assert.Nil(t, runs[0].Result, "listing should not load result blobs")
}

func TestLastSeed(t *testing.T) {
	s := openTestStore(t)

	_, ok := s.LastSeed("fib.py")
	assert.False(t, ok, "no runs yet")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(&Run{
		FileName: "fib.py", Language: "Python", Success: true,
		Seed: "1111111111111111111", Created: base,
	}))
	require.NoError(t, s.SaveRun(&Run{
		FileName: "fib.py", Language: "Python", Success: true,
		Seed: "2222222222222222222", Created: base.Add(time.Minute),
	}))
	require.NoError(t, s.SaveRun(&Run{
		FileName: "fib.py", Language: "Python", Success: false,
		Stage: "runtime", Seed: "3333333333333333333", Created: base.Add(2 * time.Minute),
	}))

	seed, ok := s.LastSeed("fib.py")
	require.True(t, ok)
	assert.Equal(t, "2222222222222222222", seed, "failed runs must not win")

	_, ok = s.LastSeed("other.c")
	assert.False(t, ok)
}

func TestVectorSearchUnavailableWithoutExtension(t *testing.T) {
	s := openTestStore(t)
	if s.vectorExt {
		t.Skip("sqlite-vec compiled in")
	}

	err := s.SaveEmbedding("some-id", make([]float32, 768))
	assert.True(t, errors.Is(err, ErrVectorSearchUnavailable))

	_, err = s.Similar("some-id", 5)
	assert.True(t, errors.Is(err, ErrVectorSearchUnavailable))
}
