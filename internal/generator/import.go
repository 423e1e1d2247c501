package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hpcforge/paramrun/internal/models"
)

// ImportCounters reports how a cross-run import disposed of each prior
// trial.
type ImportCounters struct {
	Restored           int
	SkippedDuplicate   int
	SkippedMissingResult int
}

// paramHash is a stable, order-independent fingerprint of a parameter
// assignment, used to detect duplicates across imported runs.
func paramHash(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Import scans one or more prior run directories' snapshot.json files in
// parallel (one goroutine per directory, no concurrency limit, first error
// wins), and feeds every
// completed trial with a usable result back into source via
// AttachObservation. A trial is skipped, not an error, when its parameter
// hash has already been seen (ShouldDeduplicate) or when it never
// completed with a result.
//
// resultNames constrains which values are incorporated: historical runs
// may have recorded extra or renamed result columns, and values under
// other names are dropped. No type coercion is attempted, neither on
// result values nor on parameter values, and an AttachObservation error
// is returned without a retry.
func Import(ctx context.Context, source TrialSource, dirs []string, resultNames models.ResultSpecs, shouldDeduplicate bool) (ImportCounters, error) {
	snapshots := make([]models.Snapshot, len(dirs))

	g, _ := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		g.Go(func() error {
			path := filepath.Join(dir, "snapshot.json")
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("import: reading %s: %w", path, err)
			}
			var snap models.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("import: parsing %s: %w", path, err)
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ImportCounters{}, err
	}

	var counters ImportCounters
	var mu sync.Mutex
	seen := map[string]bool{}

	wantNames := map[string]bool{}
	for _, r := range resultNames {
		wantNames[r.Name] = true
	}

	for _, snap := range snapshots {
		for _, trial := range snap.Trials {
			if trial.Status != models.StatusCompleted {
				continue
			}
			mu.Lock()
			hash := paramHash(trial.Params)
			if shouldDeduplicate && seen[hash] {
				counters.SkippedDuplicate++
				mu.Unlock()
				continue
			}
			seen[hash] = true
			mu.Unlock()

			raw := coerceResults(trial.RawResult, wantNames)
			if len(raw) == 0 {
				counters.SkippedMissingResult++
				continue
			}

			if _, err := source.AttachObservation(trial.Params, raw); err != nil {
				return counters, fmt.Errorf("import: attaching trial %d: %w", trial.Index, err)
			}
			counters.Restored++
		}
	}

	slog.Info("cross-run import complete",
		"restored", counters.Restored,
		"skipped_duplicate", counters.SkippedDuplicate,
		"skipped_missing_result", counters.SkippedMissingResult)
	return counters, nil
}

// coerceResults keeps only the values whose names are in want (or all
// values, if want is empty). The values are already float64, as decoded
// from the snapshot, and are copied unchanged.
func coerceResults(raw map[string]float64, want map[string]bool) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if len(want) > 0 && !want[k] {
			continue
		}
		out[k] = v
	}
	return out
}
