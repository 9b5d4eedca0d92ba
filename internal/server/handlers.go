package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"codetrace/internal/logging"
	"codetrace/internal/pipeline"
	"codetrace/internal/seed"
	"codetrace/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// traceRequest is the JSON form of a trace submission. Multipart
// uploads carry the same data as a "file" part plus form fields.
type traceRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	Content  string `json:"content" validate:"required"`
	Seed     string `json:"seed" validate:"omitempty,numeric,min=19,max=20"`
	Reuse    bool   `json:"reuse_seed"`
}

type batchRequest struct {
	Files []traceRequest `json:"files" validate:"required,min=1,max=32,dive"`
	Seed  string         `json:"seed" validate:"omitempty,numeric,min=19,max=20"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type requestIDKey struct{}

// withRequestID assigns every request a UUID, echoed in X-Request-Id
// and attached to error bodies.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := contextWithRequestID(r.Context(), id)
		logging.ServerDebug("[%s] %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	type language struct {
		Name       string   `json:"name"`
		Extensions []string `json:"extensions"`
	}
	var out []language
	for _, b := range s.registry.Backends() {
		out = append(out, language{Name: b.Name(), Extensions: b.Extensions()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"languages": out})
}

// handleTrace runs the full pipeline on one submitted file. The
// response is the result document; instrumentation and input failures
// map to 422, everything downstream stays 200 with success=false so
// callers can inspect partial traces.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	req, err := s.readTraceRequest(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "", err)
		return
	}

	res, err := s.runOne(r, req, req.Seed, req.Reuse)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "", err)
		return
	}

	status := http.StatusOK
	if res.Error != nil && (res.Error.Stage == pipeline.StageInput ||
		res.Error.Stage == pipeline.StageInstrument ||
		res.Error.Stage == pipeline.StageValidation) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "", err)
		return
	}

	type entry struct {
		FileName string           `json:"file_name"`
		Result   *pipeline.Result `json:"result"`
	}
	var (
		results   []entry
		succeeded int
	)
	for _, f := range req.Files {
		seed := f.Seed
		if seed == "" {
			seed = req.Seed
		}
		res, err := s.runOne(r, &f, seed, f.Reuse)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, "", err)
			return
		}
		if res.Success {
			succeeded++
		}
		results = append(results, entry{FileName: f.FileName, Result: res})
	}

	status := http.StatusOK
	if succeeded == 0 {
		status = http.StatusUnprocessableEntity
	} else if succeeded < len(req.Files) {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]interface{}{
		"total":     len(req.Files),
		"succeeded": succeeded,
		"failed":    len(req.Files) - succeeded,
		"results":   results,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "", errors.New("run store disabled"))
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		fmt.Sscanf(q, "%d", &limit)
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "", err)
		return
	}
	type runSummary struct {
		ID       string    `json:"id"`
		FileName string    `json:"file_name"`
		Language string    `json:"language"`
		Success  bool      `json:"success"`
		Stage    string    `json:"stage,omitempty"`
		Seed     string    `json:"seed,omitempty"`
		Created  time.Time `json:"created_at"`
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, runSummary{
			ID: run.ID, FileName: run.FileName, Language: run.Language,
			Success: run.Success, Stage: run.Stage, Seed: run.Seed, Created: run.Created,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "", errors.New("run store disabled"))
		return
	}
	run, err := s.runs.GetRun(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "", err)
		return
	}
	writeJSON(w, http.StatusOK, run.Result)
}

// runOne materializes the submission in a per-request temp dir and
// pushes it through the pipeline, recording the outcome in the store.
func (s *Server) runOne(r *http.Request, req *traceRequest, seed string, reuse bool) (*pipeline.Result, error) {
	dir, err := os.MkdirTemp("", "codetrace-req-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, filepath.Base(req.FileName))
	if err := os.WriteFile(srcPath, []byte(req.Content), 0644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	opts := pipeline.Options{
		Seed:      seed,
		ReuseSeed: reuse,
		OutputDir: dir,
	}
	if s.runs != nil {
		opts.LastSeed = s.lastSeed
	}
	res := s.pipe.Run(r.Context(), srcPath, opts)
	s.record(req.FileName, res)
	return res, nil
}

func (s *Server) lastSeed(fileName string) (seed.Seed, bool) {
	raw, ok := s.runs.LastSeed(fileName)
	if !ok {
		return "", false
	}
	return seed.Seed(raw), true
}

func (s *Server) record(fileName string, res *pipeline.Result) {
	if s.runs == nil {
		return
	}
	run := &store.Run{
		FileName: fileName,
		Language: res.Metadata["language"],
		Success:  res.Success,
		Seed:     string(res.Seed),
		Result:   res,
	}
	if res.Error != nil {
		run.Stage = string(res.Error.Stage)
	}
	if err := s.runs.SaveRun(run); err != nil {
		logging.ServerError("record run for %s: %v", fileName, err)
	}
}

// readTraceRequest accepts either a JSON body or a multipart form with
// a "file" part and optional "seed"/"reuse_seed" fields.
func (s *Server) readTraceRequest(r *http.Request) (*traceRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file part: %w", err)
		}
		defer file.Close()
		content, err := io.ReadAll(io.LimitReader(file, s.cfg.Server.MaxUploadBytes))
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		req := &traceRequest{
			FileName: header.Filename,
			Content:  string(content),
			Seed:     r.FormValue("seed"),
			Reuse:    r.FormValue("reuse_seed") == "true",
		}
		if err := validate.Struct(req); err != nil {
			return nil, err
		}
		return req, nil
	}

	var req traceRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerError("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, stage string, err error) {
	logging.ServerError("[%s] %s %s: %v", requestID(r), r.Method, r.URL.Path, err)
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Stage:     stage,
		RequestID: requestID(r),
	})
}
