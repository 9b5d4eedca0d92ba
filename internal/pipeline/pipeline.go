package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codetrace/internal/config"
	"codetrace/internal/exec"
	"codetrace/internal/lang"
	"codetrace/internal/logging"
	"codetrace/internal/seed"
	"codetrace/internal/trace"
)

// Options tune one Run invocation.
type Options struct {
	// Seed is the override value: empty or "-1" derives a fresh seed,
	// anything else must be a 19-20 digit numeric string.
	Seed string

	// ReuseSeed reuses the seed from a previous run of the same file,
	// consulting LastSeed first and then any existing result document.
	ReuseSeed bool

	// LastSeed, when set, resolves a prior seed for a file name. The
	// run-history store plugs in here.
	LastSeed func(fileName string) (seed.Seed, bool)

	// OutputDir overrides the configured artifact directory.
	OutputDir string
}

// Pipeline orchestrates instrument, execute, and normalize. One
// Pipeline serves many files; every per-file structure (symbol table,
// metadata, insertion plan, result) is owned by a single Run call.
type Pipeline struct {
	cfg      *config.Config
	registry *lang.Registry
	cache    *lang.AnalysisCache
	decoder  *trace.Decoder
	runners  map[string]Runner
	sink     ProgressSink
}

func New(cfg *config.Config, registry *lang.Registry) (*Pipeline, error) {
	cache, err := lang.NewAnalysisCache(cfg.Store.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("analysis cache: %w", err)
	}
	ex := exec.New(int64(cfg.Toolchain.MaxOutputBytes))
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		decoder:  trace.NewDecoder(),
		runners:  defaultRunners(cfg, ex),
	}, nil
}

// SetRunner replaces the toolchain for a language. Tests use this to
// stub execution; new backends register their runner here.
func (p *Pipeline) SetRunner(language string, r Runner) {
	p.runners[language] = r
}

// SetProgressSink installs a stage-event listener.
func (p *Pipeline) SetProgressSink(sink ProgressSink) {
	p.sink = sink
}

func (p *Pipeline) emit(ev Event) {
	if p.sink != nil {
		p.sink(ev)
	}
}

// Run processes one source file end to end. It always returns a
// Result; failures are encoded in Result.Error rather than an error
// return, so batch callers treat every file uniformly.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) *Result {
	timings := Timings{}
	fileName := filepath.Base(path)
	logging.Pipeline("run %s", path)

	// Seed overrides are caller input; reject them before doing work.
	if opts.Seed != "" && opts.Seed != "-1" {
		if _, err := seed.Parse(opts.Seed); err != nil {
			return p.finish(failedResult(stageErrorf(StageValidation, "%v", err)), timings, "")
		}
	}

	// input
	var src []byte
	if stageErr := p.step(fileName, StageInput, timings, func() *StageError {
		data, err := os.ReadFile(path)
		if err != nil {
			return stageErrorf(StageInput, "read %s: %v", path, err)
		}
		src = data
		return nil
	}); stageErr != nil {
		return p.finish(failedResult(stageErr), timings, "")
	}

	// instrument
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = p.cfg.Output.Dir
	}
	var (
		backend   lang.Backend
		meta      *lang.Metadata
		instrPath string
	)
	if stageErr := p.step(fileName, StageInstrument, timings, func() *StageError {
		var ok bool
		backend, ok = p.registry.ForFile(path)
		if !ok {
			return stageErrorf(StageInstrument, "unsupported extension %q", filepath.Ext(path))
		}

		analysis, err := p.analyze(ctx, backend, src, path)
		if err != nil {
			return stageErrorf(StageInstrument, "%v", err)
		}
		meta = analysis.Meta

		instrumented, err := backend.Instrument(ctx, src, analysis.Symbols, analysis.Meta)
		if err != nil {
			return stageErrorf(StageInstrument, "%v", err)
		}

		if err := os.MkdirAll(outDir, 0755); err != nil {
			return stageErrorf(StageInstrument, "create output dir: %v", err)
		}
		instrPath = filepath.Join(outDir, "instrumented_"+fileName)
		if err := os.WriteFile(instrPath, instrumented, 0644); err != nil {
			return stageErrorf(StageInstrument, "write instrumented source: %v", err)
		}
		return nil
	}); stageErr != nil {
		return p.finish(failedResult(stageErr), timings, "")
	}

	// compile + runtime
	runner, ok := p.runners[backend.Name()]
	if !ok {
		return p.finish(failedResult(stageErrorf(StageCompile, "no toolchain registered for %s", backend.Name())), timings, "")
	}
	p.emit(Event{File: fileName, Stage: StageCompile, Status: StatusRunning})
	execStart := time.Now()
	out, runErr := runner.Run(ctx, outDir, instrPath)
	execDur := time.Since(execStart)
	switch {
	case runErr != nil && runErr.Stage == StageCompile:
		timings[StageCompile] += execDur
		p.emit(Event{File: fileName, Stage: StageCompile, Status: StatusFailed, Err: runErr, Duration: execDur})
	case runErr != nil:
		timings[StageRuntime] += execDur
		p.emit(Event{File: fileName, Stage: StageCompile, Status: StatusOK})
		p.emit(Event{File: fileName, Stage: StageRuntime, Status: StatusFailed, Err: runErr, Duration: execDur})
	default:
		timings[StageRuntime] += execDur
		p.emit(Event{File: fileName, Stage: StageCompile, Status: StatusOK})
		p.emit(Event{File: fileName, Stage: StageRuntime, Status: StatusOK, Duration: execDur})
	}

	// normalize whatever output exists, even alongside a runtime
	// failure: partial traces are preserved deliberately.
	var decoded *trace.Decoded
	if out != nil {
		normStart := time.Now()
		p.emit(Event{File: fileName, Stage: StageNormalize, Status: StatusRunning})
		decoded = p.decoder.Decode(out.Stdout)
		timings[StageNormalize] += time.Since(normStart)
		p.emit(Event{File: fileName, Stage: StageNormalize, Status: StatusOK, Duration: timings[StageNormalize]})

		stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		tracePath := filepath.Join(outDir, stem+"_trace.txt")
		if err := os.WriteFile(tracePath, []byte(out.Stdout), 0644); err != nil {
			logging.PipelineError("write raw trace %s: %v", tracePath, err)
		}
	}

	resultMeta := map[string]string{}
	var records []trace.Record
	if decoded != nil {
		resultMeta = decoded.Metadata
		records = decoded.Records
	}
	if len(resultMeta) == 0 && meta != nil {
		// Runtime died before the META replay: fall back to the
		// collected metadata so seeds stay reproducible.
		resultMeta = meta.Map()
	}
	if records == nil {
		records = []trace.Record{}
	}

	if runErr != nil {
		res := &Result{Metadata: resultMeta, Traces: records, Error: runErr}
		return p.finish(res, timings, p.resultPath(outDir, fileName))
	}

	if out.Stdout != "" && len(records) == 0 && len(decoded.Metadata) == 0 && len(decoded.Failures) > 0 {
		res := &Result{Metadata: resultMeta, Traces: records,
			Error: stageErrorf(StageNormalize, "no line of the raw trace could be decoded (%d failures)", len(decoded.Failures))}
		return p.finish(res, timings, p.resultPath(outDir, fileName))
	}

	s, stageErr := p.resolveSeed(fileName, outDir, resultMeta, opts)
	if stageErr != nil {
		res := &Result{Metadata: resultMeta, Traces: records, Error: stageErr}
		return p.finish(res, timings, p.resultPath(outDir, fileName))
	}

	res := &Result{Metadata: resultMeta, Traces: records, Seed: s, Success: true}
	return p.finish(res, timings, p.resultPath(outDir, fileName))
}

func (p *Pipeline) resultPath(outDir, fileName string) string {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return filepath.Join(outDir, stem+"_result.json")
}

func (p *Pipeline) finish(res *Result, timings Timings, resultPath string) *Result {
	res.Timings = timings
	if resultPath != "" {
		if err := res.WriteFile(resultPath); err != nil {
			logging.PipelineError("%v", err)
		}
	}
	if res.Error != nil {
		logging.Pipeline("failed at %s: %s", res.Error.Stage, res.Error.Message)
	} else {
		logging.Pipeline("succeeded with %d records", len(res.Traces))
	}
	return res
}

// analyze runs (or recalls) the two pre-instrumentation passes.
func (p *Pipeline) analyze(ctx context.Context, backend lang.Backend, src []byte, path string) (*lang.Analysis, error) {
	key := p.cache.Key(backend.Name(), path, src)
	if cached, ok := p.cache.Get(key); ok {
		logging.PipelineDebug("analysis cache hit for %s", path)
		return cached, nil
	}

	symbols, err := backend.AnalyzeTypes(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("type analysis: %w", err)
	}
	meta, err := backend.CollectMetadata(ctx, src, path)
	if err != nil {
		return nil, fmt.Errorf("metadata collection: %w", err)
	}

	analysis := &lang.Analysis{Symbols: symbols, Meta: meta}
	p.cache.Add(key, analysis)
	return analysis, nil
}

func (p *Pipeline) resolveSeed(fileName, outDir string, meta map[string]string, opts Options) (seed.Seed, *StageError) {
	if opts.Seed != "" && opts.Seed != "-1" {
		s, err := seed.Parse(opts.Seed)
		if err != nil {
			return "", stageErrorf(StageValidation, "%v", err)
		}
		return s, nil
	}

	if opts.ReuseSeed {
		if opts.LastSeed != nil {
			if s, ok := opts.LastSeed(fileName); ok && s != "" {
				logging.SeedDebug("reusing stored seed for %s", fileName)
				return s, nil
			}
		}
		if prev, err := ReadResultFile(p.resultPath(outDir, fileName)); err == nil && prev.Seed != "" {
			logging.SeedDebug("reusing seed from previous result document for %s", fileName)
			return prev.Seed, nil
		}
		// Nothing to reuse: fall through to derivation.
	}

	s, err := seed.Derive(meta)
	if err != nil {
		return "", stageErrorf(StageNormalize, "derive seed: %v", err)
	}
	return s, nil
}

// step runs one stage closure with timing and eventing.
func (p *Pipeline) step(file string, stage Stage, timings Timings, fn func() *StageError) *StageError {
	p.emit(Event{File: file, Stage: stage, Status: StatusRunning})
	start := time.Now()
	stageErr := fn()
	d := time.Since(start)
	timings[stage] += d
	if stageErr != nil {
		p.emit(Event{File: file, Stage: stage, Status: StatusFailed, Err: stageErr, Duration: d})
		return stageErr
	}
	p.emit(Event{File: file, Stage: stage, Status: StatusOK, Duration: d})
	return nil
}

// BatchFailure records one file a batch could not process.
type BatchFailure struct {
	File    string `json:"file"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// BatchResult separates a batch's successes from its failures. A batch
// never aborts early: every file is attempted.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`

	// Results holds the full per-file documents, keyed by input path.
	Results map[string]*Result `json:"-"`
}

// AllFailed reports the hard-failure case: not one file succeeded.
func (b *BatchResult) AllFailed() bool {
	return len(b.Succeeded) == 0 && len(b.Failed) > 0
}

// Partial reports the mixed case.
func (b *BatchResult) Partial() bool {
	return len(b.Succeeded) > 0 && len(b.Failed) > 0
}

// Batch processes files strictly sequentially and independently. A
// missing or unreadable path is a validation failure for that file
// only; remaining files are still processed.
func (p *Pipeline) Batch(ctx context.Context, paths []string, opts Options) *BatchResult {
	batch := &BatchResult{Results: make(map[string]*Result, len(paths))}
	for _, path := range paths {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			p.emit(Event{File: path, Stage: StageValidation, Status: StatusFailed})
			batch.Failed = append(batch.Failed, BatchFailure{
				File:    path,
				Stage:   StageValidation,
				Message: fmt.Sprintf("missing or invalid file %q", path),
			})
			continue
		}

		res := p.Run(ctx, path, opts)
		batch.Results[path] = res
		if res.Success {
			batch.Succeeded = append(batch.Succeeded, path)
		} else {
			failure := BatchFailure{File: path, Stage: StageRuntime, Message: "unknown failure"}
			if res.Error != nil {
				failure.Stage = res.Error.Stage
				failure.Message = res.Error.Message
			}
			batch.Failed = append(batch.Failed, failure)
		}
	}
	logging.Pipeline("batch done: %d succeeded, %d failed", len(batch.Succeeded), len(batch.Failed))
	return batch
}
