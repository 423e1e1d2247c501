// Command paramrun is the CLI entry point: it resolves configuration, wires
// together the experiment store, trial source, job executor, orchestrator
// policy, and dispatcher, runs the optimization to completion, and writes
// the end-of-run report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpcforge/paramrun/internal/config"
	"github.com/hpcforge/paramrun/internal/dispatcher"
	"github.com/hpcforge/paramrun/internal/executor"
	"github.com/hpcforge/paramrun/internal/executor/cluster"
	"github.com/hpcforge/paramrun/internal/executor/local"
	"github.com/hpcforge/paramrun/internal/executor/modal"
	"github.com/hpcforge/paramrun/internal/generator"
	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
	"github.com/hpcforge/paramrun/internal/policy"
	"github.com/hpcforge/paramrun/internal/progress"
	"github.com/hpcforge/paramrun/internal/runid"
	"github.com/hpcforge/paramrun/internal/runlog"
	"github.com/hpcforge/paramrun/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "paramrun:", err)
		if errors.Is(err, config.ErrUsage) {
			runlog.Exit(runlog.ExitUsage, true)
		}
		runlog.Exit(runlog.ExitConfigInvalid, true)
	}

	runUUID, err := runid.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "paramrun:", err)
		runlog.Exit(runlog.ExitConfigInvalid, true)
	}

	space, imported, err := resolveSpace(cfg)
	if err != nil {
		slog.Error("resolving parameter space", "error", err)
		runlog.Exit(runlog.ExitParameterSpaceInvalid, true)
	}

	runDir := filepath.Join(cfg.RunDir, cfg.ExperimentName, runUUID)
	jobsDir := filepath.Join(runDir, "single_runs")

	st, err := store.New(runDir, cfg.ExperimentName, runUUID, space.Parameters, cfg.Constraints, cfg.ResultNames, nil)
	if err != nil {
		slog.Error("creating experiment store", "error", err)
		runlog.Exit(runlog.ExitSnapshotWriteFailed, true)
	}

	numRandom := cfg.NumRandomSteps
	if cfg.NumParallelJobs > numRandom {
		numRandom = cfg.NumParallelJobs
	}
	source := generator.NewStagedSource(space, numRandom, cfg.MaxEval, cfg.Seed, cfg.Model)

	if cfg.ContinuePrev != "" {
		ctx := context.Background()
		counters, ierr := generator.Import(ctx, source, []string{cfg.ContinuePrev}, cfg.ResultNames, cfg.ShouldDeduplicate)
		if ierr != nil {
			slog.Error("importing prior run", "error", ierr)
			runlog.Exit(runlog.ExitSnapshotCorrupt, true)
		}
		imported = counters.Restored
		st.SetGeneratorState(source.State())
	}

	exec, backend, err := buildExecutor(cfg, jobsDir)
	if err != nil {
		slog.Error("resolving job executor backend", "error", err)
		runlog.Exit(runlog.ExitModelBackendUnavailable, true)
	}

	var oc models.OrchestratorConfig
	if cfg.OrchestratorFile != "" {
		oc, err = config.LoadOrchestratorFile(cfg.OrchestratorFile)
		if err != nil {
			slog.Error("loading orchestrator file", "error", err)
			runlog.Exit(runlog.ExitConfigInvalid, backend == "local")
		}
	}
	pol := policy.New(oc)

	counters, err := progress.NewCounters(runDir)
	if err != nil {
		slog.Error("creating progress counters", "error", err)
		runlog.Exit(runlog.ExitInternal, backend == "local")
	}
	usage := progress.NewUsageRecorder()

	parallelism := generator.ResolveParallelism(cfg.MaxParallelism, cfg.MaxEval, cfg.NumParallelJobs)

	d := dispatcher.New(st, source, exec, pol, cfg.ResultNames, counters, usage, dispatcher.Config{
		MaxEval:              cfg.MaxEval,
		Imported:             imported,
		Parallelism:          parallelism,
		NumWorkers:           cfg.NumParallelJobs,
		ExhaustionThreshold:  cfg.MaxNrOfZeroResults,
		ExhaustionDisabled:   cfg.DisableSearchSpaceExhaustionDetection,
		JobsDir:              jobsDir,
		AutoExcludeDefective: cfg.AutoExcludeDefectiveHosts,
		OCCEnabled:           cfg.OCC,
		OCCType:              cfg.OCCType,
		OCCMinkowskiP:        cfg.MinkowskiP,
		OCCWeights:           cfg.SignedWeightedEuclidWeights,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		slog.Error("dispatcher run failed", "error", err)
		runlog.Exit(runlog.ExitInternal, backend == "local")
	}

	writeReport(st, cfg.ResultNames)

	if err := usage.WriteCSV(filepath.Join(runDir, "worker_usage.csv")); err != nil {
		slog.Warn("writing worker usage csv", "error", err)
	}

	slog.Info("run complete",
		"submitted", summary.Submitted,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"abandoned", summary.Abandoned,
		"exit_code", summary.ExitCode)

	runlog.Exit(summary.ExitCode, backend == "local")
}

// resolveSpace builds the immutable parameter space either from the
// freshly parsed --parameter flags, or (on --continue_previous_job) from
// the parent run's snapshot, which owns the definitive parameter list when
// continuing. imported is always 0 here; the caller fills it in once the
// cross-run import itself has run, since the space must exist before a
// TrialSource can be constructed to receive it.
func resolveSpace(cfg models.Config) (*paramspace.Space, int, error) {
	if cfg.ContinuePrev == "" {
		params := cfg.Parameters
		if cfg.Gridsearch {
			params = paramspace.Gridsearch(params, cfg.MaxEval)
		}
		space, err := paramspace.Build(params, cfg.Constraints, cfg.ResultNames)
		return space, 0, err
	}

	snap, err := loadParentSnapshot(cfg.ContinuePrev)
	if err != nil {
		return nil, 0, err
	}
	params := make([]models.Parameter, 0, len(snap.Parameters))
	for _, rp := range snap.Parameters {
		params = append(params, models.FromRaw(rp))
	}
	if cfg.Gridsearch {
		params = paramspace.Gridsearch(params, cfg.MaxEval)
	}
	resultNames := cfg.ResultNames
	if len(resultNames) == 0 {
		resultNames = snap.ResultNames
	}
	space, err := paramspace.Build(params, cfg.Constraints, resultNames)
	return space, 0, err
}

func loadParentSnapshot(dir string) (models.Snapshot, error) {
	var snap models.Snapshot
	data, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		return snap, fmt.Errorf("reading parent snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parsing parent snapshot: %w", err)
	}
	return snap, nil
}

// buildExecutor resolves --backend (defaulting to local when
// --force_local_execution is set, cluster otherwise) into a concrete
// executor.JobExecutor.
func buildExecutor(cfg models.Config, jobsDir string) (executor.JobExecutor, string, error) {
	backend := cfg.Backend
	if backend == "" {
		if cfg.Cluster.ForceLocal {
			backend = "local"
		} else {
			backend = "cluster"
		}
	}
	switch backend {
	case "local":
		return local.New(cfg.RunProgram, jobsDir), backend, nil
	case "cluster":
		return cluster.New(cfg.RunProgram, jobsDir, cfg.Cluster), backend, nil
	case "modal":
		return modal.New(cfg.RunProgram, modal.Config{
			AppName:  cfg.Modal.AppName,
			Image:    cfg.Modal.Image,
			CPUs:     cfg.Modal.CPUs,
			MemoryMB: cfg.Modal.MemoryMB,
		}), backend, nil
	default:
		return nil, backend, fmt.Errorf("unknown backend %q", backend)
	}
}

// writeReport prints the end-of-run summary table. results.csv itself is
// kept current by the store on every trial transition, not written here.
func writeReport(st *store.Store, specs models.ResultSpecs) {
	snap := st.Snapshot()
	rep := progress.Build(snap.Trials, specs)

	if err := progress.Write(os.Stdout, rep, specs); err != nil {
		slog.Warn("writing summary report", "error", err)
	}
}
