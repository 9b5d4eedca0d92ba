// Package store persists run history in SQLite: which files were
// traced, with what outcome and seed, and the full result document for
// later inspection. The stored seed backs the "reuse previous seed"
// override.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"codetrace/internal/logging"
	"codetrace/internal/pipeline"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID       string
	FileName string
	Language string
	Success  bool
	Stage    string // failure stage, empty on success
	Seed     string
	Created  time.Time

	// Result is the full document, stored as a msgpack blob.
	Result *pipeline.Result
}

// RunStore is the SQLite-backed history. Writes are serialized with a
// mutex; reads go through the same connection.
type RunStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	path      string
	vectorExt bool
}

// Open initializes the database at path, creating directories and
// schema as needed. ":memory:" is accepted for tests.
func Open(path string) (*RunStore, error) {
	logging.Store("opening run store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL: %v", err)
	}

	s := &RunStore{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	s.vectorExt = s.probeVectorSearch()
	if s.vectorExt {
		logging.Store("vector search available")
	}
	return s, nil
}

func (s *RunStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		language TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		stage TEXT,
		seed TEXT,
		embedding BLOB,
		result BLOB,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_file ON runs(file_name);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun records one pipeline invocation. An empty ID is assigned a
// fresh UUID; the possibly-updated run is returned.
func (s *RunStore) SaveRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Created.IsZero() {
		run.Created = time.Now().UTC()
	}

	var blob []byte
	if run.Result != nil {
		data, err := msgpack.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		blob = data
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs (id, file_name, language, success, stage, seed, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FileName, run.Language, run.Success, run.Stage, run.Seed, blob, run.Created)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	logging.StoreDebug("saved run %s for %s (success=%v)", run.ID, run.FileName, run.Success)
	return nil
}

// GetRun loads one run with its full result document.
func (s *RunStore) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, file_name, language, success, stage, seed, result, created_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first, without their
// result blobs.
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, file_name, language, success, stage, seed, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.FileName, &r.Language, &r.Success, &r.Stage, &r.Seed, &r.Created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastSeed returns the seed of the most recent successful run of a
// file, or false when the file was never traced successfully.
func (s *RunStore) LastSeed(fileName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seed string
	err := s.db.QueryRow(`
		SELECT seed FROM runs
		WHERE file_name = ? AND success = 1 AND seed != ''
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, fileName).Scan(&seed)
	if err != nil {
		return "", false
	}
	return seed, seed != ""
}

// Close releases the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.StoreDebug("closing run store at %s", s.path)
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var blob []byte
	if err := row.Scan(&r.ID, &r.FileName, &r.Language, &r.Success, &r.Stage, &r.Seed, &blob, &r.Created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if len(blob) > 0 {
		var res pipeline.Result
		if err := msgpack.Unmarshal(blob, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		r.Result = &res
	}
	return &r, nil
}
