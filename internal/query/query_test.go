package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codetrace/internal/trace"
)

func intPtr(v int) *int { return &v }

func sampleRecords() []trace.Record {
	depth := 1
	return []trace.Record{
		{Type: trace.TagCall, ID: 0, Subject: "main", StackDepth: &depth},
		{Type: trace.TagRead, ID: 1, Subject: "x", Value: "5", LineNumber: 2},
		{Type: trace.TagDecl, ID: 2, Subject: "x", Value: "5", LineNumber: 3},
		{Type: trace.TagAssign, ID: 3, Subject: "y", Value: "10", LineNumber: 4},
		{Type: trace.TagExternalCall, ID: 4, Subject: "printf", LineNumber: 5},
		{Type: trace.TagBranch, ID: 5, Subject: "if", Condition: "x > 0",
			ConditionResult: intPtr(1), LineNumber: 6},
		{Type: trace.TagBranch, ID: 6, Subject: "if", Condition: "y < 0",
			ConditionResult: intPtr(0), LineNumber: 8},
	}
}

func loadedEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.Load(sampleRecords(), map[string]string{"file_name": "demo.c"}))
	return e
}

func TestQueryBeforeLoad(t *testing.T) {
	e := NewEngine()
	_, err := e.Query("reads")
	assert.Error(t, err)
}

func TestEDBFacts(t *testing.T) {
	e := loadedEngine(t)

	records, err := e.Query("trace_record")
	require.NoError(t, err)
	assert.Len(t, records, 7)

	meta, err := e.Query("trace_meta")
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "file_name", meta[0].Args[0])
	assert.Equal(t, "demo.c", meta[0].Args[1])
}

func TestDerivedReadsAndWrites(t *testing.T) {
	e := loadedEngine(t)

	reads, err := e.Query("reads")
	require.NoError(t, err)
	require.Len(t, reads, 1)
	assert.Equal(t, "x", reads[0].Args[0])

	writes, err := e.Query("writes")
	require.NoError(t, err)
	assert.Len(t, writes, 2, "decl of x and assign of y")
}

func TestReadBeforeWrite(t *testing.T) {
	e := loadedEngine(t)

	hits, err := e.Query("read_before_write")
	require.NoError(t, err)
	require.Len(t, hits, 1, "x is read at id 1 and written at id 2")
	assert.Equal(t, "x", hits[0].Args[0])
	assert.Equal(t, int64(1), hits[0].Args[1])
	assert.Equal(t, int64(2), hits[0].Args[2])
}

func TestExternalCallee(t *testing.T) {
	e := loadedEngine(t)

	ext, err := e.Query("external_callee")
	require.NoError(t, err)
	require.Len(t, ext, 1)
	assert.Equal(t, "printf", ext[0].Args[0])

	callees, err := e.Query("callee")
	require.NoError(t, err)
	require.Len(t, callees, 1)
	assert.Equal(t, "main", callees[0].Args[0])
}

func TestBranchOutcomes(t *testing.T) {
	e := loadedEngine(t)

	taken, err := e.Query("branch_taken")
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, "x > 0", taken[0].Args[0])

	skipped, err := e.Query("branch_skipped")
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "y < 0", skipped[0].Args[0])
}

func TestUnknownPredicate(t *testing.T) {
	e := loadedEngine(t)
	_, err := e.Query("nonsense")
	assert.Error(t, err)
}

func TestPredicatesListsDerived(t *testing.T) {
	e := loadedEngine(t)
	preds := e.Predicates()
	assert.Contains(t, preds, "reads")
	assert.Contains(t, preds, "read_before_write")
	assert.Contains(t, preds, "trace_record")
}

func TestReloadReplacesTrace(t *testing.T) {
	e := loadedEngine(t)
	require.NoError(t, e.Load([]trace.Record{
		{Type: trace.TagCall, ID: 0, Subject: "solo"},
	}, nil))

	records, err := e.Query("trace_record")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
