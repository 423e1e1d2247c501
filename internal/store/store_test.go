package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	params := []models.Parameter{&models.RangeParameter{ParamName: "x", Type: models.Real, Lower: 0, Upper: 1}}
	names := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	s, err := store.New(dir, "demo", "11111111-1111-4111-8111-111111111111", params, nil, names, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	return s
}

func TestAttachAndCompleteTrial(t *testing.T) {
	s := newTestStore(t)

	idx, err := s.AttachTrial(map[string]string{"x": "0.5"}, "Sobol", false)
	if err != nil {
		t.Fatalf("AttachTrial failed: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected first trial index 0, got %d", idx)
	}

	if err := s.MarkSubmitted(idx, "node01"); err != nil {
		t.Fatalf("MarkSubmitted failed: %v", err)
	}
	if err := s.CompleteTrial(idx, map[string]float64{"loss": 0.1}, nil, 0); err != nil {
		t.Fatalf("CompleteTrial failed: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Trials) != 1 {
		t.Fatalf("expected 1 trial, got %d", len(snap.Trials))
	}
	tr := snap.Trials[0]
	if tr.Status != models.StatusCompleted {
		t.Errorf("expected status completed, got %s", tr.Status)
	}
	if tr.RawResult["loss"] != 0.1 {
		t.Errorf("expected loss 0.1, got %v", tr.RawResult)
	}
	if tr.Hostname != "node01" {
		t.Errorf("expected hostname node01, got %s", tr.Hostname)
	}
}

func TestFailTrial_IllegalTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	idx, _ := s.AttachTrial(map[string]string{"x": "0.5"}, "Sobol", false)
	if err := s.CompleteTrial(idx, map[string]float64{"loss": 0.1}, nil, 0); err != nil {
		t.Fatalf("CompleteTrial failed: %v", err)
	}
	if err := s.FailTrial(idx, 1, 0); err == nil {
		t.Error("expected an error transitioning a completed trial to failed")
	}
}

func TestLoadFrom_RecoversInFlightTrialsAsAbandoned(t *testing.T) {
	dir := t.TempDir()
	params := []models.Parameter{&models.RangeParameter{ParamName: "x", Type: models.Real, Lower: 0, Upper: 1}}
	names := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	s, err := store.New(dir, "demo", "11111111-1111-4111-8111-111111111111", params, nil, names, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	idx, _ := s.AttachTrial(map[string]string{"x": "0.5"}, "Sobol", false)
	if err := s.MarkSubmitted(idx, "node01"); err != nil {
		t.Fatalf("MarkSubmitted failed: %v", err)
	}

	reopened, err := store.LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	snap := reopened.Snapshot()
	if snap.Trials[0].Status != models.StatusAbandoned {
		t.Errorf("expected recovered trial to be abandoned, got %s", snap.Trials[0].Status)
	}
}

func TestLoadFrom_RecoversStagedTrialFromResultsCSV(t *testing.T) {
	dir := t.TempDir()
	params := []models.Parameter{&models.RangeParameter{ParamName: "x", Type: models.Real, Lower: 0, Upper: 1}}
	names := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	s, err := store.New(dir, "demo", "11111111-1111-4111-8111-111111111111", params, nil, names, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	idx, _ := s.AttachTrial(map[string]string{"x": "0.5"}, "Sobol", false)
	if err := s.MarkSubmitted(idx, "node01"); err != nil {
		t.Fatalf("MarkSubmitted failed: %v", err)
	}
	if err := s.CompleteTrial(idx, map[string]float64{"loss": 0.25}, nil, 0); err != nil {
		t.Fatalf("CompleteTrial failed: %v", err)
	}

	// Simulate a crash that landed the completed row in results.csv but
	// never got to rewrite snapshot.json: revert the on-disk snapshot to
	// the trial's staged state while leaving results.csv (already written
	// ahead of the snapshot by persistLocked) untouched.
	raw, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		t.Fatalf("reading snapshot failed: %v", err)
	}
	stale := strings.Replace(string(raw), `"Status": "completed"`, `"Status": "staged"`, 1)
	if stale == string(raw) {
		t.Fatalf("test setup: did not find a completed status to revert in %s", raw)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshot.json"), []byte(stale), 0o644); err != nil {
		t.Fatalf("writing stale snapshot failed: %v", err)
	}

	reopened, err := store.LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	snap := reopened.Snapshot()
	tr := snap.Trials[0]
	if tr.Status != models.StatusCompleted {
		t.Fatalf("expected trial recovered as completed, got %s", tr.Status)
	}
	if tr.RawResult["loss"] != 0.25 {
		t.Errorf("expected recovered loss 0.25, got %v", tr.RawResult)
	}
}

func TestNew_WritesSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	params := []models.Parameter{&models.RangeParameter{ParamName: "x", Type: models.Real, Lower: 0, Upper: 1}}
	names := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	if _, err := store.New(dir, "demo", "11111111-1111-4111-8111-111111111111", params, nil, names, nil); err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshot.json")); err != nil {
		t.Fatalf("expected snapshot.json to exist: %v", err)
	}
}
