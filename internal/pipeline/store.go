package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store persists run state as JSON under a base directory:
//
//	<base>/<run-id>/run.json
//	<base>/<run-id>/stages/<stage>/result.json
//
// All writes go through an atomic temp-file-and-rename so a crashed process
// never leaves a half-written record, and a run can be reloaded mid-flight
// for resumption or audit.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.admint/runs, creating the directory if
// needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".admint", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) stageResultPath(runID, stage string) string {
	return filepath.Join(s.runDir(runID), "stages", stage, "result.json")
}

// Create initialises a new run on disk.
func (s *Store) Create(runID, seedPrompt string, stageOrder []string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir stages: %w", err)
	}

	first := ""
	if len(stageOrder) > 0 {
		first = stageOrder[0]
	}
	now := time.Now().UTC().Format(time.RFC3339)
	run := &Run{
		ID:           runID,
		SeedPrompt:   seedPrompt,
		CurrentStage: first,
		Status:       StatusPending,
		StageOrder:   stageOrder,
		StageHistory: []StageHistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := writeJSON(s.runPath(runID), run); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return run, nil
}

// Get reads a run record.
func (s *Store) Get(runID string) (*Run, error) {
	var run Run
	if err := readJSON(s.runPath(runID), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &run, nil
}

// Update performs a read-modify-write of the run record.
func (s *Store) Update(runID string, fn func(*Run)) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return writeJSON(s.runPath(runID), run)
}

// List returns all runs, newest first, optionally filtered by status.
// Pass "" to return every run.
func (s *Store) List(statusFilter string) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}

// SaveStageResult persists a stage result. Stage results are written once,
// when terminal; historical results are never rewritten in place.
func (s *Store) SaveStageResult(runID string, result *StageResult) error {
	if result.Stage == "" {
		return fmt.Errorf("stage result has no stage kind")
	}
	if _, err := s.Get(runID); err != nil {
		return err
	}
	path := s.stageResultPath(runID, result.Stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir stage dir: %w", err)
	}
	return writeJSON(path, result)
}

// GetStageResult reads the stage result for (run, stage). Returns
// os.ErrNotExist-wrapped errors when the stage has no persisted result yet.
func (s *Store) GetStageResult(runID, stage string) (*StageResult, error) {
	var result StageResult
	if err := readJSON(s.stageResultPath(runID, stage), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HasStageResult reports whether a terminal result exists for (run, stage).
func (s *Store) HasStageResult(runID, stage string) bool {
	_, err := os.Stat(s.stageResultPath(runID, stage))
	return err == nil
}

// StageResults returns every persisted stage result for a run, in the run's
// declared stage order.
func (s *Store) StageResults(runID string) ([]StageResult, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, err
	}
	var results []StageResult
	for _, stage := range run.StageOrder {
		sr, err := s.GetStageResult(runID, stage)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		results = append(results, *sr)
	}
	return results, nil
}

// writeJSON writes v as indented JSON via an atomic rename in the target
// directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

// readJSON reads the JSON file at path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
