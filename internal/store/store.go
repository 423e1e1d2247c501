// Package store implements the experiment store (C1): the single JSON
// snapshot that is the restorable state of a run, written atomically after
// every trial state transition.
package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/progress"
)

const snapshotFile = "snapshot.json"
const resultsCSVFile = "results.csv"

// maxWriteAttempts bounds the atomic-write retry loop; a snapshot write
// failing three times in a row means the filesystem itself is the problem,
// not a transient contention blip.
const maxWriteAttempts = 3

// Store is a thread-safe, disk-backed holder of one run's Snapshot.
type Store struct {
	mu   sync.Mutex
	dir  string
	snap models.Snapshot
}

// New creates a fresh Store for a brand-new run (no --continue_previous_job).
func New(dir, experimentName, runUUID string, params []models.Parameter, constraints []string, resultNames models.ResultSpecs, generatorState json.RawMessage) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	raw := make([]models.RawParameter, 0, len(params))
	for _, p := range params {
		raw = append(raw, models.ToRaw(p))
	}
	s := &Store{
		dir: dir,
		snap: models.Snapshot{
			ExperimentName: experimentName,
			RunUUID:        runUUID,
			Parameters:     raw,
			Constraints:    constraints,
			ResultNames:    resultNames,
			GeneratorState: generatorState,
			Trials:         nil,
		},
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFrom reopens a run directory's snapshot.json for continuation. A
// staged trial is cross-checked against results.csv: results.csv is
// written ahead of snapshot.json on every persist (see persistLocked), so
// a crash between the two writes can leave a trial's completed row on disk
// without the snapshot having caught up. Any such trial is completed in
// place; everything else still in staged or running is conservatively
// marked abandoned, since a crash mid-poll means we cannot know whether
// the underlying job finished, and re-submitting it would risk
// double-counting a result.
func LoadFrom(dir string) (*Store, error) {
	path := filepath.Join(dir, snapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: parsing %s: %w", path, err)
	}

	completed, err := readCompletedResults(filepath.Join(dir, resultsCSVFile), snap.ResultNames)
	if err != nil {
		slog.Warn("continuation recovery: results csv unreadable, falling back to abandon", "error", err, "dir", dir)
	}

	recovered, abandoned := 0, 0
	for i := range snap.Trials {
		t := &snap.Trials[i]
		switch t.Status {
		case models.StatusStaged:
			if row, ok := completed[t.Index]; ok {
				t.RawResult = row.raw
				t.ExitCode = row.exitCode
				_ = t.Transition(models.StatusCompleted)
				t.EndTime = time.Now().UTC()
				recovered++
				continue
			}
			_ = t.Transition(models.StatusAbandoned)
			t.EndTime = time.Now().UTC()
			abandoned++
		case models.StatusRunning:
			_ = t.Transition(models.StatusAbandoned)
			t.EndTime = time.Now().UTC()
			abandoned++
		}
	}
	if recovered > 0 || abandoned > 0 {
		slog.Warn("continuation recovery", "completed_from_csv", recovered, "abandoned", abandoned, "dir", dir)
	}

	s := &Store{dir: dir, snap: snap}
	if recovered > 0 || abandoned > 0 {
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoveredResult is one results.csv row's salvageable content for a
// staged trial that the store itself never got to mark completed.
type recoveredResult struct {
	raw      map[string]float64
	exitCode int
}

// readCompletedResults scans results.csv for completed rows, keyed by
// trial index. A missing file is not an error: a fresh run has none yet.
func readCompletedResults(path string, resultNames models.ResultSpecs) (map[int]recoveredResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening results csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading results csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	idxCol, statusCol := col["trial_index"], col["status"]

	out := make(map[int]recoveredResult)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("reading results csv row: %w", err)
		}
		if row[statusCol] != string(models.StatusCompleted) {
			continue
		}
		idx, err := strconv.Atoi(row[idxCol])
		if err != nil {
			continue
		}
		rec := recoveredResult{raw: make(map[string]float64, len(resultNames))}
		for _, spec := range resultNames {
			ci, ok := col[spec.Name]
			if !ok || row[ci] == "" {
				continue
			}
			if v, err := strconv.ParseFloat(row[ci], 64); err == nil {
				rec.raw[spec.Name] = v
			}
		}
		if ei, ok := col["exit_code"]; ok {
			rec.exitCode, _ = strconv.Atoi(row[ei])
		}
		out[idx] = rec
	}
	return out, nil
}

// Snapshot returns a deep-enough copy of the current state for read-only
// inspection (progress reporting, the dispatcher's termination checks).
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.snap
	cp.Trials = append([]models.Trial(nil), s.snap.Trials...)
	return cp
}

// SetGeneratorState updates the serialized generator state, persisted on
// the next trial transition rather than immediately, since it is always
// written alongside one.
func (s *Store) SetGeneratorState(state json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.GeneratorState = state
}

// AttachTrial records a newly generated trial in StatusStaged and persists
// the snapshot. The returned index is the trial's position in the run,
// used by every subsequent Complete/Fail/Abandon call.
func (s *Store) AttachTrial(params map[string]string, method string, fromImport bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.snap.Trials)
	s.snap.Trials = append(s.snap.Trials, models.Trial{
		Index:      idx,
		Params:     params,
		Status:     models.StatusStaged,
		Method:     method,
		FromImport: fromImport,
	})
	if err := s.persistLocked(); err != nil {
		s.snap.Trials = s.snap.Trials[:idx]
		return 0, err
	}
	return idx, nil
}

// MarkSubmitted transitions a staged trial to running and records the job
// submission time.
func (s *Store) MarkSubmitted(idx int, hostname string) error {
	return s.transition(idx, models.StatusRunning, func(t *models.Trial) {
		t.Hostname = hostname
		t.StartTime = time.Now().UTC()
	})
}

// CompleteTrial transitions a trial to completed with its raw result
// values and exit metadata.
func (s *Store) CompleteTrial(idx int, raw map[string]float64, info map[string]string, exitCode int) error {
	return s.transition(idx, models.StatusCompleted, func(t *models.Trial) {
		t.RawResult = raw
		t.Info = info
		t.ExitCode = exitCode
		t.EndTime = time.Now().UTC()
	})
}

// FailTrial transitions a trial to failed, recording its exit code and any
// signal that killed it.
func (s *Store) FailTrial(idx int, exitCode, signal int) error {
	return s.transition(idx, models.StatusFailed, func(t *models.Trial) {
		t.ExitCode = exitCode
		t.Signal = signal
		t.EndTime = time.Now().UTC()
	})
}

// AbandonTrial transitions a trial to abandoned, e.g. on an orchestrator
// ExcludeNode decision or a shutdown sweep.
func (s *Store) AbandonTrial(idx int) error {
	return s.transition(idx, models.StatusAbandoned, func(t *models.Trial) {
		t.EndTime = time.Now().UTC()
	})
}

// IncrementSubmittedJobs bumps the run's lifetime submission counter
// stored in the snapshot and returns the new count.
func (s *Store) IncrementSubmittedJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SubmittedJobs++
	n := s.snap.SubmittedJobs
	_ = s.persistLocked()
	return n
}

func (s *Store) transition(idx int, to models.Status, mutate func(*models.Trial)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.snap.Trials) {
		return fmt.Errorf("store: trial index %d out of range", idx)
	}
	t := &s.snap.Trials[idx]
	from := t.Status
	if err := t.Transition(to); err != nil {
		return err
	}
	mutate(t)
	if err := s.persistLocked(); err != nil {
		t.Status = from
		return err
	}
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked rewrites results.csv and then the snapshot in full, in
// that order: results.csv is the tabular log LoadFrom cross-checks staged
// trials against, so it must reflect a trial's completion before
// snapshot.json is allowed to. The snapshot write goes to a temp file and
// is renamed over the live snapshot.json, retrying the whole
// write-then-rename sequence up to maxWriteAttempts times; a full disk
// fails at once, without a retry.
func (s *Store) persistLocked() error {
	if err := s.writeResultsCSVLocked(); err != nil {
		slog.Warn("results csv write failed", "error", err)
	}

	path := filepath.Join(s.dir, snapshotFile)
	tmp := path + ".tmp"

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		lastErr = writeSnapshot(tmp, path, s.snap)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, syscall.ENOSPC) {
			return fmt.Errorf("store: persisting snapshot: disk full: %w", lastErr)
		}
		slog.Warn("snapshot write failed, retrying", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("store: persisting snapshot after %d attempts: %w", maxWriteAttempts, lastErr)
}

func (s *Store) writeResultsCSVLocked() error {
	names := make([]string, len(s.snap.Parameters))
	for i, p := range s.snap.Parameters {
		names[i] = p.Name
	}
	return progress.WriteResultsCSV(filepath.Join(s.dir, resultsCSVFile), s.snap.Trials, names, s.snap.ResultNames)
}

func writeSnapshot(tmp, path string, snap models.Snapshot) error {
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}
