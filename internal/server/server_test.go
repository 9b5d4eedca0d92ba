package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codetrace/internal/config"
	"codetrace/internal/lang"
	"codetrace/internal/pipeline"
	"codetrace/internal/store"
	"codetrace/internal/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubRunner stands in for the external toolchain.
type stubRunner struct {
	stdout string
}

func (s *stubRunner) Run(ctx context.Context, dir, srcPath string) (*pipeline.RunOutput, *pipeline.StageError) {
	return &pipeline.RunOutput{Stdout: s.stdout}, nil
}

func wire(fields ...string) string {
	return strings.Join(fields, trace.Delimiter)
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.Dir = t.TempDir()

	registry := lang.DefaultRegistry()
	pipe, err := pipeline.New(cfg, registry)
	require.NoError(t, err)
	pipe.SetRunner("Python", &stubRunner{stdout: strings.Join([]string{
		wire("META", "file_name", "demo.py"),
		wire("CALL", "main", "1"),
		wire("RETURN", "x", "1", "abc", "3", "1"),
	}, "\n")})

	runs, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	return New(cfg, pipe, registry, runs)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLanguages(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/languages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Languages []struct {
			Name       string   `json:"name"`
			Extensions []string `json:"extensions"`
		} `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Languages, 3)
	names := make([]string, 0, 3)
	for _, l := range body.Languages {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"C", "Go", "Python"}, names)
}

func TestTraceEndpoint(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/trace", map[string]interface{}{
		"file_name": "demo.py",
		"content":   "def main():\n    return 1\n\nmain()\n",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Len(t, res.Traces, 2)
	assert.Equal(t, "demo.py", res.Metadata["file_name"])

	// The run landed in history.
	list := doJSON(t, srv, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var runs struct {
		Runs []struct {
			ID       string `json:"id"`
			FileName string `json:"file_name"`
			Success  bool   `json:"success"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &runs), list.Body.String())
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "demo.py", runs.Runs[0].FileName)
	assert.True(t, runs.Runs[0].Success)
}

func TestTraceRejectsMissingContent(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/trace", map[string]interface{}{
		"file_name": "demo.py",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errBody struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.NotEmpty(t, errBody.RequestID)
}

func TestTraceUnsupportedLanguage(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/trace", map[string]interface{}{
		"file_name": "demo.zig",
		"content":   "const x = 1;",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTraceBadSeed(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/trace", map[string]interface{}{
		"file_name": "demo.py",
		"content":   "main()",
		"seed":      "42",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoint(t *testing.T) {
	srv := testServer(t)
	files := []map[string]interface{}{
		{"file_name": "a.py", "content": "main()"},
		{"file_name": "b.zig", "content": "const x = 1;"},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/trace/batch", map[string]interface{}{
		"files": files,
	})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var body struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
}

func TestGetRunRoundTrip(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/trace", map[string]interface{}{
		"file_name": "demo.py",
		"content":   "main()",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	list := doJSON(t, srv, http.MethodGet, "/api/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var runs struct {
		Runs []struct {
			ID string `json:"id"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)

	got := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/runs/%s", runs.Runs[0].ID), nil)
	require.Equal(t, http.StatusOK, got.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &res))
	assert.True(t, res.Success)
}

func TestGetRunNotFound(t *testing.T) {
	srv := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
